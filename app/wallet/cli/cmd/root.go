// Package cmd contains the wallet app.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ardanlabs/ledger/foundation/nameservice"
	"github.com/spf13/cobra"
)

var (
	accountName string
	accountPath string
	url         string
)

const keyExtension = nameservice.KeyExtension

func init() {
	rootCmd.PersistentFlags().StringVarP(&accountName, "account", "a", "private.key", "Name of the key file.")
	rootCmd.PersistentFlags().StringVarP(&accountPath, "account-path", "p", "zblock/accounts/", "Path to the directory with key files.")
	rootCmd.PersistentFlags().StringVarP(&url, "url", "u", "http://127.0.0.1:4500", "JSON-RPC url of the node.")
}

var rootCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Simple wallet for the ledger",
}

// Execute runs the command named on the command line.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getPrivateKeyPath() string {
	name := accountName
	if !strings.HasSuffix(name, keyExtension) {
		name += keyExtension
	}

	return filepath.Join(accountPath, name)
}

// loadKeypair reads the hex encoded secret from the key file.
func loadKeypair() (signature.Keypair, error) {
	data, err := os.ReadFile(getPrivateKeyPath())
	if err != nil {
		return signature.Keypair{}, err
	}

	kp, err := signature.KeypairFromHex(strings.TrimSpace(string(data)))
	if err != nil {
		return signature.Keypair{}, fmt.Errorf("load key %s: %w", getPrivateKeyPath(), err)
	}

	return kp, nil
}
