package main

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"voting-core/service"
)

func init() {
	simulateCmd.Flags().String("election", "", "election id (defaults to the active election)")
	simulateCmd.Flags().Int("voters", 20, "number of voters to register and cast")
	simulateCmd.Flags().Uint64("id-base", 900000000000, "first identity number to register")
	rootCmd.AddCommand(simulateCmd)
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Register voters and cast random votes through the worker queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		electionID, _ := cmd.Flags().GetString("election")
		voters, _ := cmd.Flags().GetInt("voters")
		idBase, _ := cmd.Flags().GetUint64("id-base")

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		election, err := rt.service.ActiveElection()
		if electionID != "" {
			election, err = rt.store.GetElection(electionID)
		}
		if err != nil {
			return err
		}

		qp := service.NewQueueProcessor(rt.service, rt.cfg.Queue.Size, rt.log)
		qp.Start(rt.cfg.Queue.VoteWorkers)
		defer qp.Stop()

		var pending []<-chan *service.VoteResult
		for i := 0; i < voters; i++ {
			id := fmt.Sprintf("%012d", idBase+uint64(i))
			code, err := rt.service.RequestOTP(id)
			if err != nil {
				rt.log.Warn().Err(err).Int("voter", i).Msg("no one-time code")
				continue
			}

			reg := <-qp.QueueRegistration(id, code)
			if reg.Err != nil {
				rt.log.Warn().Err(reg.Err).Int("voter", i).Msg("registration failed")
				continue
			}

			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(election.Candidates))))
			if err != nil {
				return err
			}
			candidate := election.Candidates[n.Int64()].ID
			pending = append(pending, qp.QueueVote(cmd.Context(), election.ID, candidate, reg.Identity.PrivateKey))
		}

		states := make(map[service.CastState]int)
		for _, ch := range pending {
			res := <-ch
			if res.Err != nil {
				rt.log.Warn().Err(res.Err).Msg("cast refused")
				continue
			}
			states[res.Outcome.State]++
		}

		rt.log.Info().Interface("outcomes", states).Msg("simulation finished")
		return printJSON(rt.service.Metrics())
	},
}
