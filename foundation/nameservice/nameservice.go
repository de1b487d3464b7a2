// Package nameservice provides human readable names for the accounts that
// take part in a transfer run. Names come from key files in a folder and
// from accounts registered while the program runs.
package nameservice

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// NameService maintains a map of accounts for name lookup.
type NameService struct {
	accounts map[common.Address]string
	mu       sync.RWMutex
}

// New constructs a name service with accounts from the key files found in
// the root folder. An empty root produces an empty name service.
func New(root string) (*NameService, error) {
	ns := NameService{
		accounts: make(map[common.Address]string),
	}

	if root == "" {
		return &ns, nil
	}

	fn := func(fileName string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if path.Ext(fileName) != ".ecdsa" {
			return nil
		}

		privateKey, err := crypto.LoadECDSA(fileName)
		if err != nil {
			return err
		}

		account := crypto.PubkeyToAddress(privateKey.PublicKey)
		ns.accounts[account] = strings.TrimSuffix(path.Base(fileName), ".ecdsa")

		return nil
	}

	if err := filepath.Walk(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return &ns, nil
}

// Add registers a name for the specified account, replacing any name the
// account already has.
func (ns *NameService) Add(account common.Address, name string) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	ns.accounts[account] = name
}

// Lookup returns the name for the specified account.
func (ns *NameService) Lookup(account common.Address) string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	name, exists := ns.accounts[account]
	if !exists {
		return account.Hex()
	}
	return name
}

// Copy returns a copy of the map of names and accounts.
func (ns *NameService) Copy() map[common.Address]string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	cpy := make(map[common.Address]string, len(ns.accounts))
	for account, name := range ns.accounts {
		cpy[account] = name
	}
	return cpy
}
