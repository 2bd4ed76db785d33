package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// encryptLegacy builds a ciphertext in the retired two-part encoding
// ("hex(salt):base64(ciphertext)") that reused the salt as the IV, so
// TestDecryptLegacyTwoPartEncoding can exercise Decrypt's backward
// compatibility branch against a real, not hand-waved, legacy value.
func encryptLegacy(plaintext string) (string, error) {
	if masterKey == nil {
		return "", errors.New("vault: master key not initialized")
	}
	salt := make([]byte, saltLenBytes)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := pbkdf2.Key(masterKey, salt, pbkdf2Iterations, keyLenBytes, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, salt[:ivLenBytes]).CryptBlocks(ciphertext, padded)
	return hex.EncodeToString(salt) + ":" + base64.StdEncoding.EncodeToString(ciphertext), nil
}
