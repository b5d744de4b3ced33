package main

import (
	"errors"

	"github.com/spf13/cobra"
)

type chainStatus struct {
	Height  int    `json:"height"`
	Pending int    `json:"pending"`
	Valid   bool   `json:"valid"`
	Error   string `json:"error,omitempty"`
}

func init() {
	rootCmd.AddCommand(verifyChainCmd)
}

var verifyChainCmd = &cobra.Command{
	Use:   "verify-chain",
	Short: "Check every block hash and link of the local chain ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		if rt.chain == nil {
			return errors.New("verify-chain needs the chain ledger")
		}

		status := chainStatus{Height: rt.chain.Height(), Pending: rt.chain.PendingCount(), Valid: true}
		verr := rt.chain.Validate()
		if verr != nil {
			status.Valid = false
			status.Error = verr.Error()
		}
		if err := printJSON(status); err != nil {
			return err
		}
		return verr
	},
}
