package deeplink

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrMissingSecret is returned when the decryption key or IV is not
	// configured.
	ErrMissingSecret = errors.New("deeplink: decryption key or iv not configured")
	// ErrNoCipherText is returned for an empty ciphertext input.
	ErrNoCipherText = errors.New("deeplink: empty ciphertext")
	// ErrBadCipherText is returned when the ciphertext is not valid hex or
	// not block-aligned.
	ErrBadCipherText = errors.New("deeplink: malformed ciphertext")
	// ErrBadPadding is returned when the decrypted block has invalid PKCS#7
	// padding, which usually means a wrong key or corrupted input.
	ErrBadPadding = errors.New("deeplink: invalid padding")
	// ErrEmptyPlaintext is returned when decryption yields nothing. Some
	// cipher stacks produce empty output instead of failing on a key
	// mismatch, so emptiness is checked explicitly.
	ErrEmptyPlaintext = errors.New("deeplink: decryption produced empty plaintext")
)

// Cipher performs the symmetric encryption scheme shared with the merchant
// web portal: AES-CBC with PKCS#7 padding, key and IV as hex-encoded
// secrets from build configuration. Both sides must agree byte-for-byte on
// cipher, mode, padding and encoding or the handoff breaks silently.
type Cipher struct {
	key []byte
	iv  []byte
}

// NewCipher builds a Cipher from hex-encoded key and IV secrets. Absent or
// malformed secrets are a hard configuration error.
func NewCipher(keyHex, ivHex string) (*Cipher, error) {
	if keyHex == "" || ivHex == "" {
		return nil, ErrMissingSecret
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: bad key encoding", ErrMissingSecret)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, fmt.Errorf("%w: bad iv encoding", ErrMissingSecret)
	}
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("%w: key must be 16, 24 or 32 bytes, got %d", ErrMissingSecret, len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrMissingSecret, aes.BlockSize, len(iv))
	}
	return &Cipher{key: key, iv: iv}, nil
}

// Decrypt decodes a hex ciphertext and returns the UTF-8 plaintext token.
func (c *Cipher) Decrypt(cipherHex string) (string, error) {
	if cipherHex == "" {
		return "", ErrNoCipherText
	}
	data, err := hex.DecodeString(cipherHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadCipherText, err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", ErrBadCipherText
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("deeplink: cipher init: %w", err)
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(plain, data)

	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return "", err
	}
	if len(plain) == 0 {
		return "", ErrEmptyPlaintext
	}
	return string(plain), nil
}

// Encrypt is the companion to Decrypt, matching the portal's encryption
// step. It is used when minting deep links and in round-trip tests.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("deeplink: cipher init: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, padded)
	return hex.EncodeToString(out), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, ErrBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrBadPadding
		}
	}
	return data[:len(data)-n], nil
}
