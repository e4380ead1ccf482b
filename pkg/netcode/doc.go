// Package netcode implements the server side of a netcode.io-style
// connectionless secure UDP transport: a fixed-capacity pool of encrypted,
// replay-protected per-client channels behind a single listening socket,
// admitted through a connect-token handshake.
package netcode
