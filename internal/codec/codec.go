// Package codec provides authenticated encryption for cache payloads.
//
// Every payload that leaves the process for the shared cache is signed
// with an inner HMAC and sealed with AES-256-GCM under a key derived
// from the account's API secrets. The inner signature binds the payload
// to the account identity even if the outer AEAD layer is misused
// elsewhere; a payload is rejected wholesale on any mismatch.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/perpdesk/perpdesk/internal/types"
)

const (
	saltLen      = 16
	signatureLen = sha256.Size
	keyLen       = 32
	kdfIters     = 100_000
)

// Codec encrypts and authenticates arbitrary payloads. The derived key
// is computed once at construction and is immutable afterward, so a
// Codec is safe for concurrent use.
type Codec struct {
	secret []byte
	aead   cipher.AEAD
}

// New derives the symmetric key from the account's secret material and
// a fixed per-account salt built from the API key, the secret key and
// the simulated-trading flag.
func New(apiKey, secretKey string, simulated bool) (*Codec, error) {
	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("%w: api key and secret key are required", types.ErrInvalidConfig)
	}

	accountSalt := []byte(fmt.Sprintf("%s%s%t", apiKey, secretKey, simulated))
	key := pbkdf2.Key([]byte(secretKey), accountSalt, kdfIters, keyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &Codec{
		secret: []byte(secretKey),
		aead:   aead,
	}, nil
}

// Encode signs plaintext with a fresh per-message salt and seals
// salt || signature || plaintext with AES-256-GCM. The nonce is managed
// internally and prefixed to the ciphertext.
func (c *Codec) Encode(plaintext []byte) ([]byte, error) {
	salt := uuid.New() // 16 random bytes per message

	signed := make([]byte, 0, saltLen+signatureLen+len(plaintext))
	signed = append(signed, salt[:]...)
	signed = append(signed, c.sign(salt[:], plaintext)...)
	signed = append(signed, plaintext...)

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return c.aead.Seal(nonce, nonce, signed, nil), nil
}

// Decode opens the ciphertext and verifies the inner signature. It
// fails closed: on any tamper or truncation the result is
// types.ErrAuthentication and no plaintext is returned.
func (c *Codec) Decode(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < c.aead.NonceSize() {
		return nil, types.ErrAuthentication
	}

	nonce, sealed := ciphertext[:c.aead.NonceSize()], ciphertext[c.aead.NonceSize():]
	signed, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, types.ErrAuthentication
	}

	if len(signed) < saltLen+signatureLen {
		return nil, types.ErrAuthentication
	}
	salt := signed[:saltLen]
	signature := signed[saltLen : saltLen+signatureLen]
	plaintext := signed[saltLen+signatureLen:]

	if !hmac.Equal(signature, c.sign(salt, plaintext)) {
		return nil, types.ErrAuthentication
	}

	return plaintext, nil
}

// sign computes HMAC-SHA256(secret || salt, data).
func (c *Codec) sign(salt, data []byte) []byte {
	mac := hmac.New(sha256.New, append(append([]byte{}, c.secret...), salt...))
	mac.Write(data)
	return mac.Sum(nil)
}
