package netcode

import (
	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"
)

// Config configures a new Server (spec §6 "Construction").
type Config struct {
	// ListenAddr is the address to bind the listen endpoint to, in
	// "host:port" form. A port of 0 binds an ephemeral port.
	ListenAddr string

	// MaxClients is the fixed slot table capacity.
	MaxClients int

	// ProtocolID identifies the application protocol; it is bound into
	// every packet's associated data and every connect token.
	ProtocolID uint64

	// PrivateKey decodes connect tokens' private data. It must match the
	// key the (external) token-minting service used to seal them.
	PrivateKey [KeyBytes]byte

	// Logger receives trace/info/warn events from the server. The zero
	// value disables logging (zerolog.Nop()).
	Logger zerolog.Logger

	// Metrics, if non-nil, receives server counters/gauges (see metrics.go).
	// If nil, a private unregistered set is used so metrics calls never
	// panic, but nothing is exposed for scraping.
	Metrics *metrics.Set
}
