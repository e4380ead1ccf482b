package netcode

import "github.com/pion/transport/v3/replaydetector"

// replayWindow tracks accepted inbound sequence numbers for one channel
// using a sliding bitmap, exactly the anti-replay primitive DTLS record
// layers use for their epoch sequence numbers (see
// github.com/pion/transport/v3/replaydetector, as used by
// pion/dtls's Conn.handleIncomingPacket). We reuse the library instead of
// hand-rolling a bitmask.
type replayWindow struct {
	d replaydetector.ReplayDetector
}

func newReplayWindow() *replayWindow {
	return &replayWindow{d: replaydetector.New(replayWindowSize, ^uint64(0))}
}

// check reports whether seq falls within the window and has not already been
// accepted. If ok, the returned accept func must be called once the caller
// has successfully authenticated the packet, which is what actually marks
// the sequence as seen — an authentication failure must not consume the
// window slot, since that failure disconnects the channel entirely.
func (w *replayWindow) check(seq uint64) (accept func(), ok bool) {
	return w.d.Check(seq)
}
