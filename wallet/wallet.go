// Package wallet holds the miner identity recorded in sealing logs.
package wallet

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// Credentials is the on-disk form of a wallet.
type Credentials struct {
	Address    string `json:"address"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

type Wallet struct {
	key *ecdsa.PrivateKey
}

func Generate() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &Wallet{key: key}, nil
}

// FromHex restores a wallet from a hex private key, with or without 0x.
func FromHex(privateKeyHex string) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to restore private key: %w", err)
	}
	return &Wallet{key: key}, nil
}

// LoadOrCreate reads the wallet stored at path, generating and saving a
// new one when the file does not exist.
func LoadOrCreate(path string) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var creds Credentials
		if err := json.Unmarshal(data, &creds); err != nil {
			return nil, fmt.Errorf("failed to parse wallet %s: %w", path, err)
		}
		w, err := FromHex(creds.PrivateKey)
		if err != nil {
			return nil, err
		}
		if creds.Address != "" && !strings.EqualFold(creds.Address, w.Address()) {
			return nil, fmt.Errorf("wallet %s: address %s does not match private key", path, creds.Address)
		}
		return w, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read wallet %s: %w", path, err)
	}

	w, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := w.Save(path); err != nil {
		return nil, err
	}
	return w, nil
}

// Save writes the wallet credentials with owner-only permissions.
func (w *Wallet) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create wallet directory: %w", err)
	}

	data, err := json.MarshalIndent(w.Credentials(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal wallet: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to save wallet: %w", err)
	}
	return nil
}

func (w *Wallet) Credentials() Credentials {
	return Credentials{
		Address:    w.Address(),
		PublicKey:  w.PublicKeyHex(),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(w.key)),
	}
}

// Address is the checksummed 20-byte address derived from the public key.
func (w *Wallet) Address() string {
	return crypto.PubkeyToAddress(w.key.PublicKey).Hex()
}

func (w *Wallet) PublicKeyHex() string {
	return hexutil.Encode(crypto.FromECDSAPub(&w.key.PublicKey))
}

// Fingerprint is a short Keccak-256 digest of the public key for display.
func (w *Wallet) Fingerprint() string {
	d := sha3.NewLegacyKeccak256()
	d.Write(crypto.FromECDSAPub(&w.key.PublicKey))
	return hexutil.Encode(d.Sum(nil)[:8])
}

// Sign signs the Keccak-256 digest of data.
func (w *Wallet) Sign(data []byte) ([]byte, error) {
	return crypto.Sign(crypto.Keccak256(data), w.key)
}

// VerifySignature checks sig over data against a public key in hex.
func VerifySignature(publicKeyHex string, data, sig []byte) bool {
	pub, err := hexutil.Decode(publicKeyHex)
	if err != nil || len(sig) < crypto.SignatureLength {
		return false
	}
	return crypto.VerifySignature(pub, crypto.Keccak256(data), sig[:crypto.SignatureLength-1])
}
