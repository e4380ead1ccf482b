package netcode

import (
	"encoding/binary"
	"fmt"
)

// challengeToken is {client_id, user_data} sealed under the server's
// per-process challenge_key with challenge_sequence as nonce (spec §3). It
// is opaque to the client, which echoes the ciphertext back unmodified in
// its Response packet.
type challengeToken struct {
	ClientID uint64
	UserData [UserDataBytes]byte
}

// sealChallengeToken encodes and seals t, producing the ChallengeBytes-sized
// blob sent in a Challenge packet.
func sealChallengeToken(t *challengeToken, sequence uint64, key *[KeyBytes]byte) ([ChallengeBytes]byte, error) {
	var out [ChallengeBytes]byte

	plain := make([]byte, 0, ChallengeBytes-16)
	plain = binary.LittleEndian.AppendUint64(plain, t.ClientID)
	plain = append(plain, t.UserData[:]...)
	if len(plain) > ChallengeBytes-16 {
		return out, fmt.Errorf("netcode: challenge token too large")
	}
	plain = append(plain, make([]byte, ChallengeBytes-16-len(plain))...)

	aead, err := newAEAD(key)
	if err != nil {
		return out, err
	}
	sealed := sealWithSequence(aead, sequence, nil, plain)
	copy(out[:], sealed)
	return out, nil
}

// decodeChallengeToken authenticates and decodes a challenge token echoed
// back in a Response packet (spec §4.2 "Response step").
func decodeChallengeToken(blob *[ChallengeBytes]byte, sequence uint64, key *[KeyBytes]byte) (*challengeToken, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	plain, err := openWithSequence(aead, sequence, nil, append([]byte(nil), blob[:]...))
	if err != nil {
		return nil, err
	}
	if len(plain) < 8+UserDataBytes {
		return nil, fmt.Errorf("%w: challenge token too short", errDecode)
	}
	var t challengeToken
	t.ClientID = binary.LittleEndian.Uint64(plain[:8])
	copy(t.UserData[:], plain[8:8+UserDataBytes])
	return &t, nil
}
