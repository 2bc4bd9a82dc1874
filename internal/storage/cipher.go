package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"

	"github.com/lotus-rank/rankwallet/pkg/helpers"
)

// Argon2 parameters (OWASP recommended for password hashing)
const (
	argon2Time        = 3
	argon2Memory      = 64 * 1024
	argon2Parallelism = 4
	argon2KeyLen      = 32
	argon2SaltLen     = 32
)

const sealedPrefix = "sealed:"

// ErrDecrypt is returned when a sealed value cannot be opened.
var ErrDecrypt = errors.New("failed to decrypt (wrong passphrase?)")

// sealedValue is the envelope stored for an encrypted secret.
type sealedValue struct {
	Version     int    `json:"version"`
	Ciphertext  []byte `json:"ciphertext"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Time        uint32 `json:"time"`
	Memory      uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
}

// Cipher seals secret values with Argon2id + AES-256-GCM.
type Cipher struct {
	passphrase  []byte
	time        uint32
	memory      uint32
	parallelism uint8
}

// NewCipher validates passphrase and returns a cipher using the default
// Argon2 cost.
func NewCipher(passphrase string) (*Cipher, error) {
	if err := ValidatePassphrase(passphrase); err != nil {
		return nil, fmt.Errorf("invalid passphrase: %w", err)
	}
	return &Cipher{
		passphrase:  []byte(passphrase),
		time:        argon2Time,
		memory:      argon2Memory,
		parallelism: argon2Parallelism,
	}, nil
}

// WithCost returns a copy of c using different Argon2 parameters for new
// seals. Values sealed earlier keep opening with their recorded cost.
func (c *Cipher) WithCost(time, memory uint32, parallelism uint8) *Cipher {
	cp := *c
	cp.time, cp.memory, cp.parallelism = time, memory, parallelism
	return &cp
}

func (c *Cipher) gcm(salt []byte, time, memory uint32, parallelism uint8) (cipher.AEAD, error) {
	key := argon2.IDKey(c.passphrase, salt, time, memory, parallelism, argon2KeyLen)
	defer secureClear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext into a self-describing string.
func (c *Cipher) Seal(plaintext string) (string, error) {
	salt, err := helpers.GenerateSecureRandom(argon2SaltLen)
	if err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := c.gcm(salt, c.time, c.memory, c.parallelism)
	if err != nil {
		return "", err
	}

	nonce, err := helpers.GenerateSecureRandom(gcm.NonceSize())
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	data, err := json.Marshal(sealedValue{
		Version:     1,
		Ciphertext:  gcm.Seal(nil, nonce, []byte(plaintext), nil),
		Salt:        salt,
		Nonce:       nonce,
		Time:        c.time,
		Memory:      c.memory,
		Parallelism: c.parallelism,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal: %w", err)
	}

	return sealedPrefix + base64.StdEncoding.EncodeToString(data), nil
}

// Open decrypts a value produced by Seal.
func (c *Cipher) Open(sealed string) (string, error) {
	encoded, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return "", fmt.Errorf("%w: value is not sealed", ErrDecrypt)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	var v sealedValue
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	gcm, err := c.gcm(v.Salt, v.Time, v.Memory, v.Parallelism)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, v.Nonce, v.Ciphertext, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	defer secureClear(plaintext)

	return string(plaintext), nil
}

// IsSealed reports whether value was produced by Seal.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

func secureClear(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// Passphrase validation constants
const (
	MinPassphraseLength = 8
	MaxPassphraseLength = 256
)

// ValidatePassphrase requires at least 8 characters and 3 of 4 character
// classes.
func ValidatePassphrase(passphrase string) error {
	if len(passphrase) < MinPassphraseLength {
		return fmt.Errorf("passphrase must be at least %d characters", MinPassphraseLength)
	}
	if len(passphrase) > MaxPassphraseLength {
		return fmt.Errorf("passphrase must be at most %d characters", MaxPassphraseLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range passphrase {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	complexity := 0
	for _, has := range []bool{hasUpper, hasLower, hasNumber, hasSpecial} {
		if has {
			complexity++
		}
	}
	if complexity < 3 {
		return fmt.Errorf("passphrase must contain at least 3 of: uppercase, lowercase, number, special character")
	}

	return nil
}
