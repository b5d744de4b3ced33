package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(tallyCmd)
}

var tallyCmd = &cobra.Command{
	Use:   "tally [election]",
	Short: "Count the confirmed votes of an election",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		var electionID string
		if len(args) == 1 {
			electionID = args[0]
		} else {
			active, err := rt.service.ActiveElection()
			if err != nil {
				return err
			}
			electionID = active.ID
		}

		if rt.chain != nil {
			// Votes still queued for a block are not countable yet.
			if err := rt.chain.Seal(cmd.Context()); err != nil {
				return err
			}
		}

		report, err := rt.service.CountVotes(cmd.Context(), electionID)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}
