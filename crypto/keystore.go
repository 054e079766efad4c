package crypto

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// Scrypt cost of new executor keystores. Tests lower these.
var (
	executorScryptN = keystore.StandardScryptN
	executorScryptP = keystore.StandardScryptP
)

var ErrKeystorePath = errors.New("crypto: executor keystore path required")

// SaveExecutorKey encrypts the governance executor key into a v3 keystore
// file at path, using the passphrase held in the passphraseEnv environment
// variable. The file is replaced atomically and left readable by the owner
// only.
func SaveExecutorKey(path string, key *PrivateKey, passphraseEnv string) error {
	if key == nil || key.PrivateKey == nil {
		return errors.New("crypto: nil executor key")
	}
	if path == "" {
		return ErrKeystorePath
	}
	encrypted, err := keystore.EncryptKey(&keystore.Key{
		Id:         uuid.New(),
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key.PrivateKey,
	}, os.Getenv(passphraseEnv), executorScryptN, executorScryptP)
	if err != nil {
		return fmt.Errorf("crypto: encrypt executor key: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".executor-*.keystore")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(encrypted); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadExecutorKey decrypts the executor keystore at path with the
// passphrase held in the passphraseEnv environment variable.
func LoadExecutorKey(path, passphraseEnv string) (*PrivateKey, error) {
	if path == "" {
		return nil, ErrKeystorePath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read executor keystore: %w", err)
	}
	decrypted, err := keystore.DecryptKey(data, os.Getenv(passphraseEnv))
	if err != nil {
		return nil, fmt.Errorf("crypto: executor keystore %s: %w", path, err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
