package cmd

import (
	"fmt"
	"log"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/spf13/cobra"
)

var newAccountCmd = &cobra.Command{
	Use:   "new-account",
	Short: "Ask the node to generate a key pair",
	Run:   newAccountRun,
}

func init() {
	rootCmd.AddCommand(newAccountCmd)
}

func newAccountRun(cmd *cobra.Command, args []string) {
	var acct database.NewAccount
	if err := call("newAccount", nil, &acct); err != nil {
		log.Fatal(err)
	}

	fmt.Println("public: ", acct.PublicKey)
	fmt.Println("private:", acct.PrivateKey)
}
