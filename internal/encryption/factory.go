package encryption

import (
	"bytes"
	"fmt"

	"clocktrack/internal/config"
	"clocktrack/internal/tracker"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (tracker.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return NewPlainEncryptor(), nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// Seal encrypts an in-memory payload.
func Seal(enc tracker.Encryptor, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := enc.Encrypt(bytes.NewReader(data), &buf); err != nil {
		return nil, fmt.Errorf("sealing payload: %w", err)
	}
	return buf.Bytes(), nil
}

// Open decrypts an in-memory payload.
func Open(dec tracker.Decryptor, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := dec.Decrypt(bytes.NewReader(data), &buf); err != nil {
		return nil, fmt.Errorf("opening payload: %w", err)
	}
	return buf.Bytes(), nil
}
