package tracker

import "io"

// Encryptor seals upload payloads before they leave the device for storage
// the device does not control. Encryption needs only the public key; reading
// sealed payloads back requires the passphrase-protected private key.
type Encryptor interface {
	// Setup generates the key pair. Called during `clocktrack config init --encrypt`.
	Setup(passphrase string) error

	// Encrypt writes the sealed form of r to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a Decryptor for the session.
	Unlock(passphrase string) (Decryptor, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// Decryptor opens payloads sealed by an Encryptor. The unlocked key is held
// in memory only.
type Decryptor interface {
	Decrypt(r io.Reader, w io.Writer) error
}
