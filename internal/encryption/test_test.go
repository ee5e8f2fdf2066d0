package encryption

import (
	"bytes"
	"fmt"
	"testing"

	"clocktrack/internal/config"
)

func TestTestEncryptor_SealOpen(t *testing.T) {
	t.Parallel()

	e := NewTestEncryptor()
	dec, err := e.Unlock("any")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	sealed, err := Seal(e, []byte("hello"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if !bytes.HasPrefix(sealed, testHeader) {
		t.Errorf("sealed payload missing header: %q", sealed)
	}

	opened, err := Open(dec, sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if string(opened) != "hello" {
		t.Errorf("Open() = %q, want hello", opened)
	}

	if _, err := Open(dec, []byte("not sealed at all")); err == nil {
		t.Error("Open() expected error for payload without header")
	}
}

func TestPlainEncryptor(t *testing.T) {
	t.Parallel()

	e := NewPlainEncryptor()
	sealed, err := Seal(e, []byte("hello"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if string(sealed) != "hello" {
		t.Errorf("Seal() = %q, want unchanged payload", sealed)
	}
}

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		typ     string
		want    string
		wantErr bool
	}{
		{"", "*encryption.PlainEncryptor", false},
		{"none", "*encryption.PlainEncryptor", false},
		{"age", "*encryption.AgeEncryptor", false},
		{"test", "*encryption.TestEncryptor", false},
		{"rot13", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: tt.typ})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if name := typeName(got); name != tt.want {
				t.Errorf("type = %s, want %s", name, tt.want)
			}
		})
	}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
