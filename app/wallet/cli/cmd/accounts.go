package cmd

import (
	"fmt"
	"log"
	"slices"

	"github.com/ardanlabs/ledger/foundation/nameservice"
	"github.com/spf13/cobra"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Print the accounts in the accounts folder",
	Run:   accountsRun,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
}

func accountsRun(cmd *cobra.Command, args []string) {
	ns, err := nameservice.New(accountPath)
	if err != nil {
		log.Fatal(err)
	}

	accounts := ns.Copy()

	names := make([]string, 0, len(accounts))
	byName := make(map[string]string, len(accounts))
	for address, name := range accounts {
		names = append(names, name)
		byName[name] = address
	}
	slices.Sort(names)

	for _, name := range names {
		fmt.Printf("%-10s %s\n", name, byName[name])
	}
}
