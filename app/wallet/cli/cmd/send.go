package cmd

import (
	"fmt"
	"log"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/nameservice"
	"github.com/spf13/cobra"
)

var (
	to    string
	nonce uint64
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign a transaction and send it to the node",
	Run:   sendRun,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Address or account name receiving the transaction.")
	sendCmd.Flags().Uint64VarP(&nonce, "nonce", "n", 0, "Unique id for the transaction.")
	sendCmd.MarkFlagRequired("to")
}

func sendRun(cmd *cobra.Command, args []string) {
	kp, err := loadKeypair()
	if err != nil {
		log.Fatal(err)
	}

	// The recipient may be named by a key file in the accounts folder.
	ns, err := nameservice.New(accountPath)
	if err != nil {
		log.Fatal(err)
	}

	tx := database.Transaction{
		From:  kp.Address(),
		To:    ns.Resolve(to),
		Nonce: nonce,
	}

	signed, err := database.SignTransaction(tx, kp)
	if err != nil {
		log.Fatal(err)
	}

	req := database.TransactionRequest{
		From:      tx.From,
		To:        tx.To,
		Nonce:     tx.Nonce,
		Signature: signed.Signature.String(),
	}

	var hash string
	if err := call("sendTransaction", []database.TransactionRequest{req}, &hash); err != nil {
		log.Fatal(err)
	}

	fmt.Println(hash)
}
