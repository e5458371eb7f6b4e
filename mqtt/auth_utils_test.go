// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"
)

// createEncryptedPEMBlock builds an encrypted PEM block in the layout
// decryptPEMBlock expects: 8-byte salt, 12-byte nonce, AES-GCM ciphertext.
func createEncryptedPEMBlock(
	password, plaintext []byte,
) (*pem.Block, error) {
	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	key := pbkdf2.Key(password, salt, 10000, 32, sha3.New256)

	nonce := make([]byte, aesGcmNonce)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	encrypted := salt
	encrypted = append(encrypted, nonce...)
	encrypted = append(encrypted, ciphertext...)

	return &pem.Block{
		Type:  "ENCRYPTED MESSAGE",
		Bytes: encrypted,
	}, nil
}

func TestDecryptPEMBlock(t *testing.T) {
	password := []byte("ballast")
	plaintext := []byte("forty tonnes of gravel")
	block, err := createEncryptedPEMBlock(password, plaintext)
	require.NoError(t, err)

	t.Run("ValidDecryption", func(t *testing.T) {
		decrypted, err := decryptPEMBlock(block, password)
		require.NoError(t, err)
		require.Equal(t, string(plaintext), string(decrypted))
	})

	t.Run("NilPEMBlock", func(t *testing.T) {
		_, err := decryptPEMBlock(nil, password)
		require.Error(t, err)
	})

	t.Run("InvalidPassword", func(t *testing.T) {
		_, err := decryptPEMBlock(block, []byte("wrongpassword"))
		require.Error(t, err)
	})

	t.Run("TooShortSalt", func(t *testing.T) {
		invalidBlock := &pem.Block{
			Type:  "ENCRYPTED MESSAGE",
			Bytes: block.Bytes[:4],
		}
		_, err := decryptPEMBlock(invalidBlock, password)
		require.Error(t, err)
	})

	t.Run("TooShortCiphertext", func(t *testing.T) {
		invalidBlock := &pem.Block{
			Type:  "ENCRYPTED MESSAGE",
			Bytes: block.Bytes[:12],
		}
		_, err := decryptPEMBlock(invalidBlock, password)
		require.Error(t, err)
	})
}

func TestLoadCACertPool(t *testing.T) {
	dir := t.TempDir()

	notPEM := filepath.Join(dir, "bogus.pem")
	require.NoError(t, os.WriteFile(notPEM, []byte("not a cert"), 0o600))
	_, err := loadCACertPool(notPEM)
	require.Error(t, err)

	_, err = loadCACertPool(filepath.Join(dir, "missing.pem"))
	require.Error(t, err)
}
