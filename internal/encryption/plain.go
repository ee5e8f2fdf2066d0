package encryption

import (
	"io"

	"clocktrack/internal/tracker"
)

// PlainEncryptor leaves payloads unchanged. Used when encryption is off.
type PlainEncryptor struct{}

var _ tracker.Encryptor = (*PlainEncryptor)(nil)

func NewPlainEncryptor() *PlainEncryptor { return &PlainEncryptor{} }

func (PlainEncryptor) Setup(string) error { return nil }

func (PlainEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

func (PlainEncryptor) Unlock(string) (tracker.Decryptor, error) { return plainDecryptor{}, nil }

func (PlainEncryptor) IsConfigured() bool { return true }

type plainDecryptor struct{}

func (plainDecryptor) Decrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}
