package evidence

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/hkdf"
)

const sealAlgorithm = "x25519-hkdf-sha256-aes256gcm+zstd"

var hkdfInfo = []byte("axp sealed evidence v1")

// Sealed is an encrypted evidence bundle for one recipient. Only the
// holder of the recipient's private key can open it.
type Sealed struct {
	Algorithm     string    `json:"algorithm"`
	EphemeralKey  []byte    `json:"ephemeral_key"`
	Nonce         []byte    `json:"nonce"`
	Ciphertext    []byte    `json:"ciphertext"`
	SealedAt      time.Time `json:"sealed_at"`
	RetentionDays int       `json:"retention_days"`
}

// Sealer compresses and encrypts high-value evidence. Safe for concurrent
// use: EncodeAll/DecodeAll on shared coders is concurrency-safe.
type Sealer struct {
	enc   *zstd.Encoder
	dec   *zstd.Decoder
	limit int
}

// NewSealer builds a sealer with the given post-encryption size limit.
func NewSealer(limit int) (*Sealer, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("evidence: init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("evidence: init zstd decoder: %w", err)
	}
	return &Sealer{enc: enc, dec: dec, limit: limit}, nil
}

// Seal serializes, compresses and encrypts the payload for the recipient
// using an ephemeral X25519 exchange.
func (s *Sealer) Seal(payload any, recipient *ecdh.PublicKey, now time.Time) (*Sealed, error) {
	plain, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("evidence: marshal sealed payload: %w", err)
	}
	compressed := s.enc.EncodeAll(plain, nil)

	ephemeral, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("evidence: generate ephemeral key: %w", err)
	}
	shared, err := ephemeral.ECDH(recipient)
	if err != nil {
		return nil, fmt.Errorf("evidence: key agreement: %w", err)
	}

	gcm, err := aeadFromShared(shared)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("evidence: nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, compressed, nil)

	if len(ciphertext) > s.limit {
		return nil, &TooLargeError{Field: "ciphertext", Size: len(ciphertext), Limit: s.limit}
	}

	return &Sealed{
		Algorithm:     sealAlgorithm,
		EphemeralKey:  ephemeral.PublicKey().Bytes(),
		Nonce:         nonce,
		Ciphertext:    ciphertext,
		SealedAt:      now,
		RetentionDays: RetentionSealedDays,
	}, nil
}

// Open decrypts and decompresses a sealed bundle with the recipient's
// private key, returning the original serialized payload.
func (s *Sealer) Open(sealed *Sealed, recipient *ecdh.PrivateKey) ([]byte, error) {
	if sealed.Algorithm != sealAlgorithm {
		return nil, fmt.Errorf("evidence: unsupported algorithm %q", sealed.Algorithm)
	}
	ephemeral, err := ecdh.X25519().NewPublicKey(sealed.EphemeralKey)
	if err != nil {
		return nil, fmt.Errorf("evidence: ephemeral key: %w", err)
	}
	shared, err := recipient.ECDH(ephemeral)
	if err != nil {
		return nil, fmt.Errorf("evidence: key agreement: %w", err)
	}
	gcm, err := aeadFromShared(shared)
	if err != nil {
		return nil, err
	}
	compressed, err := gcm.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("evidence: decrypt: %w", err)
	}
	plain, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("evidence: decompress: %w", err)
	}
	return plain, nil
}

func aeadFromShared(shared []byte) (cipher.AEAD, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("evidence: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("evidence: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("evidence: gcm: %w", err)
	}
	return gcm, nil
}
