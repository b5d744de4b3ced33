package main

import (
	"github.com/spf13/cobra"

	"voting-core/config"
)

func init() {
	electionCmd.AddCommand(electionAddCmd, electionListCmd)
	rootCmd.AddCommand(electionCmd)
}

var electionCmd = &cobra.Command{
	Use:   "election",
	Short: "Manage elections",
}

var electionAddCmd = &cobra.Command{
	Use:   "add <file.yaml>",
	Short: "Import an election definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		election, err := config.LoadElectionFile(args[0])
		if err != nil {
			return err
		}

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.service.AddElection(election); err != nil {
			return err
		}
		rt.log.Info().Str("election", election.ID).Int("candidates", len(election.Candidates)).Msg("election added")
		return nil
	},
}

var electionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known elections",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		elections, err := rt.store.ListElections()
		if err != nil {
			return err
		}
		return printJSON(elections)
	},
}
