package crypto

import (
	"encoding/json"
	"os"
)

// PrivateKeyToFile() writes a private key to a file located at filepath as a JSON hex string
func PrivateKeyToFile(key PrivateKeyI, filepath string) error {
	bz, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, bz, 0600)
}

// NewBLSPrivateKeyFromFile() reads a BLS private key written by PrivateKeyToFile()
func NewBLSPrivateKeyFromFile(filepath string) (PrivateKeyI, error) {
	key := new(BLS12381PrivateKey)
	if err := readKeyFile(filepath, key); err != nil {
		return nil, err
	}
	return key, nil
}

// NewED25519PrivateKeyFromFile() reads an ED25519 private key written by PrivateKeyToFile()
func NewED25519PrivateKeyFromFile(filepath string) (PrivateKeyI, error) {
	key := new(ED25519PrivateKey)
	if err := readKeyFile(filepath, key); err != nil {
		return nil, err
	}
	return key, nil
}

func readKeyFile(filepath string, ptr json.Unmarshaler) error {
	bz, err := os.ReadFile(filepath)
	if err != nil {
		return err
	}
	return json.Unmarshal(bz, ptr)
}
