package anchor

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// OperatorCredentials is the on-disk form of the ledger operator key.
type OperatorCredentials struct {
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
}

// LoadOrGenerateOperatorKey reads the operator key from path, creating and
// saving a fresh one if the file does not exist.
func LoadOrGenerateOperatorKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var creds OperatorCredentials
		if err := json.Unmarshal(data, &creds); err != nil {
			return nil, fmt.Errorf("parse operator credentials: %w", err)
		}

		key, err := crypto.HexToECDSA(strings.TrimPrefix(creds.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("restore operator key: %w", err)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read operator credentials: %w", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate operator key: %w", err)
	}

	creds := OperatorCredentials{
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
	}
	data, err = json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal operator credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create credentials directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("save operator credentials: %w", err)
	}
	return key, nil
}
