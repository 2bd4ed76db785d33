// Package vault implements the credential vault: password hashing and
// symmetric encryption of connection URIs and OAuth tokens at rest.
//
// The derivation and cipher choices (PBKDF2-HMAC-SHA256, AES-256-CBC with
// PKCS7 padding) and their on-disk encodings are fixed wire formats, not
// implementation details — changing either breaks every password hash and
// every encrypted row already stored. Treat this file as append-only:
// add a new version marker before ever changing an encoding.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/vaultkeep-io/vaultkeep/internal/apperr"
)

const (
	pbkdf2Iterations = 10000
	keyLenBytes      = 32 // AES-256
	saltLenBytes     = 16
	ivLenBytes       = aes.BlockSize
)

// masterKey is the package-level AES-256 key used by Encrypt/Decrypt and by
// the EncryptedString GORM type. It must be initialized once at startup via
// Init before any vault operation runs.
var masterKey []byte

// Init sets the master key used to encrypt and decrypt sensitive columns.
// key must be exactly 32 bytes. Mirrors the teacher's db.InitEncryption
// startup contract: call this once, before db.New.
func Init(key []byte) error {
	if len(key) != keyLenBytes {
		return fmt.Errorf("vault: master key must be exactly %d bytes, got %d", keyLenBytes, len(key))
	}
	masterKey = make([]byte, keyLenBytes)
	copy(masterKey, key)
	return nil
}

// HashPassword derives a PBKDF2-HMAC-SHA256 key from password with a fresh
// random 128-bit salt and returns the encoded form "hex(salt):hex(dk)".
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLenBytes)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("vault: generating salt: %w", err)
	}
	dk := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLenBytes, sha256.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(dk), nil
}

// VerifyPassword reports whether password matches encoded, a string
// previously returned by HashPassword. Comparison is constant-time.
func VerifyPassword(password, encoded string) (bool, error) {
	parts := strings.SplitN(encoded, ":", 2)
	if len(parts) != 2 {
		return false, fmt.Errorf("vault: malformed password hash")
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false, fmt.Errorf("vault: decoding salt: %w", err)
	}
	want, err := hex.DecodeString(parts[1])
	if err != nil {
		return false, fmt.Errorf("vault: decoding digest: %w", err)
	}
	got := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// Encrypt derives a one-time AES-256 key from masterKey and a fresh random
// salt via PBKDF2, then encrypts plaintext with AES-256-CBC/PKCS7 under a
// fresh random IV. Returns "hex(salt):hex(iv):base64(ciphertext)".
func Encrypt(plaintext string) (string, error) {
	if masterKey == nil {
		return "", errors.New("vault: master key not initialized, call vault.Init first")
	}

	salt := make([]byte, saltLenBytes)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("vault: generating salt: %w", err)
	}
	iv := make([]byte, ivLenBytes)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("vault: generating iv: %w", err)
	}

	key := pbkdf2.Key(masterKey, salt, pbkdf2Iterations, keyLenBytes, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("vault: creating cipher: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. It also accepts the legacy two-part encoding
// "hex(salt):base64(ciphertext)" produced by an earlier revision that reused
// the salt as the IV; any new value written by this package always uses the
// three-part form.
func Decrypt(encoded string) (string, error) {
	if masterKey == nil {
		return "", errors.New("vault: master key not initialized, call vault.Init first")
	}

	parts := strings.SplitN(encoded, ":", 3)

	var saltHex, ivHex, ctB64 string
	switch len(parts) {
	case 3:
		saltHex, ivHex, ctB64 = parts[0], parts[1], parts[2]
	case 2:
		saltHex, ivHex, ctB64 = parts[0], parts[0], parts[1]
	default:
		return "", fmt.Errorf("%w: malformed ciphertext", apperr.DecryptionFailed)
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("%w: decoding salt: %v", apperr.DecryptionFailed, err)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("%w: decoding iv: %v", apperr.DecryptionFailed, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return "", fmt.Errorf("%w: decoding ciphertext: %v", apperr.DecryptionFailed, err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext not block-aligned", apperr.DecryptionFailed)
	}
	if len(iv) != ivLenBytes {
		return "", fmt.Errorf("%w: wrong iv length", apperr.DecryptionFailed)
	}

	key := pbkdf2.Key(masterKey, salt, pbkdf2Iterations, keyLenBytes, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", apperr.DecryptionFailed, err)
	}

	plainPadded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plainPadded, ciphertext)

	plain, err := pkcs7Unpad(plainPadded, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.DecryptionFailed, err)
	}
	return string(plain), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(data, padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded data length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid padding bytes")
		}
	}
	return data[:len(data)-padLen], nil
}

// HMACSign computes an HMAC-SHA256 signature of body keyed by secret, hex
// encoded. Used by internal/notification to sign outbound webhook payloads
// the same way the teacher's sender_webhook.go does.
func HMACSign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
