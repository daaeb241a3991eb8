package jdownloader

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// The remote API derives two secrets from the account credentials: one for
// the session handshake ("server") and one for talking to a device
// ("device"). Post-login tokens are chained hashes of secret+sessiontoken.

func createSecret(email, password, domain string) []byte {
	sum := sha256.Sum256([]byte(strings.ToLower(email) + password + domain))
	return sum[:]
}

func updateToken(secret []byte, sessionToken string) ([]byte, error) {
	raw, err := hex.DecodeString(sessionToken)
	if err != nil {
		return nil, fmt.Errorf("decode session token: %w", err)
	}
	sum := sha256.Sum256(append(append([]byte{}, secret...), raw...))
	return sum[:], nil
}

// sign computes the request signature appended to every query string.
func sign(key []byte, queryString string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(queryString))
	return hex.EncodeToString(mac.Sum(nil))
}

// encrypt seals a payload with AES-128-CBC. The 256-bit token splits into IV
// (first half) and key (second half), matching the remote convention.
func encrypt(token, plaintext []byte) (string, error) {
	if len(token) != 32 {
		return "", errors.New("encryption token must be 32 bytes")
	}
	iv, key := token[:16], token[16:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

func decrypt(token []byte, encoded string) ([]byte, error) {
	if len(token) != 32 {
		return nil, errors.New("encryption token must be 32 bytes")
	}
	iv, key := token[:16], token[16:]

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext not block aligned")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, raw)
	return pkcs7Unpad(out, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-padding], nil
}

// randomInt31 seeds the request-id counter. The remote rejects replayed or
// decreasing ids within a session, so the counter starts at a random point
// instead of a millisecond clock shared with other processes.
func randomInt31() int64 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return int64(uint32(b[0])<<24|uint32(b[1])<<16|uint32(b[2])<<8|uint32(b[3])) & 0x7fffffff
}
