package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/perpdesk/perpdesk/internal/types"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()

	c, err := New("test-api-key", "test-secret-key", true)
	if err != nil {
		t.Fatalf("create codec: %v", err)
	}
	return c
}

func TestCodec_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"short", []byte("x")},
		{"json payload", []byte(`{"instId":"BTC-USDT-SWAP","ctVal":"0.01"}`)},
		{"binary", []byte{0x00, 0xff, 0x10, 0x80, 0x00}},
		{"large", bytes.Repeat([]byte("candle"), 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := c.Encode(tt.plaintext)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if bytes.Contains(encoded, tt.plaintext) && len(tt.plaintext) > 0 {
				t.Fatal("ciphertext contains plaintext")
			}

			decoded, err := c.Decode(encoded)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !bytes.Equal(decoded, tt.plaintext) {
				t.Fatalf("round trip mismatch: got %q, want %q", decoded, tt.plaintext)
			}
		})
	}
}

func TestCodec_FreshSaltPerMessage(t *testing.T) {
	c := newTestCodec(t)

	plaintext := []byte("same payload")
	a, err := c.Encode(plaintext)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := c.Encode(plaintext)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if bytes.Equal(a, b) {
		t.Fatal("two encodings of the same payload are identical")
	}
}

func TestCodec_TamperDetection(t *testing.T) {
	c := newTestCodec(t)

	encoded, err := c.Encode([]byte("protect this payload"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Flip every byte position in turn; each single-byte tamper must be
	// rejected with ErrAuthentication.
	for i := range encoded {
		tampered := make([]byte, len(encoded))
		copy(tampered, encoded)
		tampered[i] ^= 0x01

		if _, err := c.Decode(tampered); !errors.Is(err, types.ErrAuthentication) {
			t.Fatalf("byte %d: got %v, want ErrAuthentication", i, err)
		}
	}
}

func TestCodec_TruncatedCiphertext(t *testing.T) {
	c := newTestCodec(t)

	encoded, err := c.Encode([]byte("payload"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	for _, n := range []int{0, 1, 5, len(encoded) - 1} {
		if _, err := c.Decode(encoded[:n]); !errors.Is(err, types.ErrAuthentication) {
			t.Fatalf("truncated to %d bytes: got %v, want ErrAuthentication", n, err)
		}
	}
}

func TestCodec_WrongAccount(t *testing.T) {
	a := newTestCodec(t)
	b, err := New("other-api-key", "other-secret-key", true)
	if err != nil {
		t.Fatalf("create codec: %v", err)
	}

	encoded, err := a.Encode([]byte("account bound"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if _, err := b.Decode(encoded); !errors.Is(err, types.ErrAuthentication) {
		t.Fatalf("cross-account decode: got %v, want ErrAuthentication", err)
	}
}

func TestCodec_SimulatedFlagChangesKey(t *testing.T) {
	live, err := New("key", "secret", false)
	if err != nil {
		t.Fatalf("create codec: %v", err)
	}
	demo, err := New("key", "secret", true)
	if err != nil {
		t.Fatalf("create codec: %v", err)
	}

	encoded, err := live.Encode([]byte("env bound"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := demo.Decode(encoded); !errors.Is(err, types.ErrAuthentication) {
		t.Fatalf("cross-environment decode: got %v, want ErrAuthentication", err)
	}
}

func TestNew_MissingSecrets(t *testing.T) {
	if _, err := New("", "secret", false); !errors.Is(err, types.ErrInvalidConfig) {
		t.Fatalf("missing api key: got %v, want ErrInvalidConfig", err)
	}
	if _, err := New("key", "", false); !errors.Is(err, types.ErrInvalidConfig) {
		t.Fatalf("missing secret: got %v, want ErrInvalidConfig", err)
	}
}
