package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// v2Prefix tags the current ciphertext format.
const v2Prefix = "v2:"

// hkdfInfo binds derived keys to this use so the master key can be shared
// with other derivations later.
const hkdfInfo = "dropsync token vault v2"

// ErrMalformed is returned when a stored ciphertext cannot be parsed.
var ErrMalformed = errors.New("vault: malformed ciphertext")

// Codec encrypts and decrypts a single token representation.
type Codec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(stored string) (string, error)
}

// V2Codec implements the tagged "v2:" format:
// "v2:" + base64url(nonce || AES-256-GCM ciphertext).
type V2Codec struct {
	aead cipher.AEAD
}

// NewV2Codec derives an AES-256 key from masterKey with HKDF-SHA256.
func NewV2Codec(masterKey []byte) (*V2Codec, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("vault: empty master key")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("vault: deriving key: %w", err)
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	return &V2Codec{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce.
func (c *V2Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generating nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)

	return v2Prefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a "v2:" value.
func (c *V2Codec) Decrypt(stored string) (string, error) {
	body, ok := strings.CutPrefix(stored, v2Prefix)
	if !ok {
		return "", fmt.Errorf("%w: missing %q tag", ErrMalformed, v2Prefix)
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrMalformed)
	}

	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("vault: decrypting v2 token: %w", err)
	}

	return string(plain), nil
}

// LegacyCodec reads and writes the format of the previous application:
// hex(iv) ":" hex(tag) ":" hex(ciphertext), AES-256-GCM keyed with the
// SHA-256 of a shared secret.
type LegacyCodec struct {
	aead cipher.AEAD
}

// legacyIVSize is the 12-byte GCM nonce the previous writer used.
const legacyIVSize = 12

// NewLegacyCodec builds a codec from the legacy shared secret.
func NewLegacyCodec(secret string) (*LegacyCodec, error) {
	if secret == "" {
		return nil, errors.New("vault: empty legacy secret")
	}

	key := sha256.Sum256([]byte(secret))

	aead, err := newGCM(key[:])
	if err != nil {
		return nil, err
	}

	return &LegacyCodec{aead: aead}, nil
}

// Encrypt produces the three-part hex format.
func (c *LegacyCodec) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, legacyIVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: generating iv: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	tagAt := len(sealed) - c.aead.Overhead()

	return hex.EncodeToString(iv) + ":" +
		hex.EncodeToString(sealed[tagAt:]) + ":" +
		hex.EncodeToString(sealed[:tagAt]), nil
}

// Decrypt opens a three-part hex value.
func (c *LegacyCodec) Decrypt(stored string) (string, error) {
	parts := strings.Split(stored, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: want 3 parts, got %d", ErrMalformed, len(parts))
	}

	decoded := make([][]byte, 3)

	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrMalformed, err)
		}

		decoded[i] = b
	}

	iv, tag, ct := decoded[0], decoded[1], decoded[2]
	if len(iv) != legacyIVSize || len(tag) != c.aead.Overhead() {
		return "", fmt.Errorf("%w: bad iv or tag length", ErrMalformed)
	}

	plain, err := c.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("vault: decrypting legacy token: %w", err)
	}

	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating gcm: %w", err)
	}

	return aead, nil
}
