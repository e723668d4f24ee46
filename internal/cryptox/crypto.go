// Package cryptox holds the client-side key handling: the credential hash
// sent at login, and the AES-GCM sealing of the file key and file content.
// The server only ever sees sealed bytes and the credential hash.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/Fides-Storage/Server-sub000/internal/common"
	"golang.org/x/crypto/argon2"
)

// FileKeySize is the size of the per-account content key.
const FileKeySize = 32

var ErrSealedTooShort = errors.New("sealed data too short")

func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

func DeriveMasterKey(password []byte, salt []byte) []byte {
	x := argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
	return x
}

// Salt derives a per-user salt. There is no salt exchange in the protocol,
// so it is a function of the username alone.
func Salt(username string) []byte {
	sum := sha256.Sum256([]byte("fides-storage:" + username))
	return sum[:]
}

// CredentialHash is the value sent as credentialHash on createUser and
// login: the hex verifier of the argon2id master key.
func CredentialHash(masterKey []byte) string {
	return hex.EncodeToString(MakeVerifier(masterKey))
}

// NewFileKey returns a random content key.
func NewFileKey() []byte {
	return common.GenerateRandByteArray(FileKeySize)
}

// Seal encrypts plaintext with AES-GCM under key and returns nonce||ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := common.GenerateRandByteArray(aesgcm.NonceSize())
	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func Open(key, sealed []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	ns := aesgcm.NonceSize()
	if len(sealed) < ns {
		return nil, ErrSealedTooShort
	}
	return aesgcm.Open(nil, sealed[:ns], sealed[ns:], nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
