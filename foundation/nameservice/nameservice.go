// Package nameservice reads a folder of wallet key files and creates a name
// service lookup for the accounts they hold.
package nameservice

import (
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
)

// KeyExtension is the file extension of a wallet key file.
const KeyExtension = ".key"

// NameService maintains a map of account addresses for name lookup.
type NameService struct {
	accounts map[string]string
}

// New constructs a name service with the accounts from the key files under
// the root folder. The file name without its extension is the account name.
func New(root string) (*NameService, error) {
	ns := NameService{
		accounts: make(map[string]string),
	}

	fn := func(fileName string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if d.IsDir() || filepath.Ext(fileName) != KeyExtension {
			return nil
		}

		data, err := os.ReadFile(fileName)
		if err != nil {
			return err
		}

		kp, err := signature.KeypairFromHex(strings.TrimSpace(string(data)))
		if err != nil {
			return fmt.Errorf("load key %s: %w", fileName, err)
		}

		ns.accounts[kp.Address()] = strings.TrimSuffix(filepath.Base(fileName), KeyExtension)

		return nil
	}

	if err := filepath.WalkDir(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return &ns, nil
}

// Lookup returns the name for the specified address. An unknown address is
// returned as is.
func (ns *NameService) Lookup(address string) string {
	name, exists := ns.accounts[address]
	if !exists {
		return address
	}
	return name
}

// Resolve returns the address for the specified account name. A value that
// names no account is returned as is.
func (ns *NameService) Resolve(name string) string {
	for address, n := range ns.accounts {
		if n == name {
			return address
		}
	}
	return name
}

// Copy returns a copy of the map of addresses and names.
func (ns *NameService) Copy() map[string]string {
	return maps.Clone(ns.accounts)
}
