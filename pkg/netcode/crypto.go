package netcode

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// newAEAD builds an AES-256-GCM AEAD from a 32-byte key, the same
// construction used for connectionless packet crypto in the teacher's
// r2crypto package (AES block cipher wrapped in GCM with the standard
// 16-byte tag).
func newAEAD(key *[KeyBytes]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("netcode: init aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("netcode: init gcm: %w", err)
	}
	return aead, nil
}

// sequenceNonce expands a 64-bit sequence number into an AEAD nonce. The
// high-order bytes are zero; this is the nonce scheme the wire format binds
// associated data to (see packet.go).
func sequenceNonce(aead cipher.AEAD, seq uint64) []byte {
	nonce := make([]byte, aead.NonceSize())
	binary.LittleEndian.PutUint64(nonce[len(nonce)-8:], seq)
	return nonce
}

// sealWithSequence encrypts plaintext in place, appending the AEAD tag, using
// seq as the nonce and aad as associated data.
func sealWithSequence(aead cipher.AEAD, seq uint64, aad, plaintext []byte) []byte {
	return aead.Seal(plaintext[:0], sequenceNonce(aead, seq), plaintext, aad)
}

// openWithSequence authenticates and decrypts ciphertext (which includes the
// trailing AEAD tag) using seq as the nonce and aad as associated data.
func openWithSequence(aead cipher.AEAD, seq uint64, aad, ciphertext []byte) ([]byte, error) {
	out, err := aead.Open(ciphertext[:0], sequenceNonce(aead, seq), ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errDecode, err)
	}
	return out, nil
}
