package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"voting-core/encryption"
	"voting-core/models"
	"voting-core/service"
)

type castResponse struct {
	AttemptID string             `json:"attempt_id"`
	State     service.CastState  `json:"state"`
	Error     string             `json:"error,omitempty"`
	Retryable bool               `json:"retryable"`
	Tag       string             `json:"linkability_tag,omitempty"`
	Handle    string             `json:"anchor_handle,omitempty"`
	Record    *models.VoteRecord `json:"record,omitempty"`
}

func init() {
	castCmd.Flags().String("election", "", "election id (defaults to the active election)")
	castCmd.Flags().String("candidate", "", "candidate id")
	castCmd.Flags().String("key", "", "hex voter private key")
	castCmd.Flags().String("save", "", "write the signed record here if the attempt can be retried")
	castCmd.MarkFlagRequired("candidate")
	castCmd.MarkFlagRequired("key")
	rootCmd.AddCommand(castCmd)

	resubmitCmd.Flags().String("record", "", "record file written by cast --save")
	resubmitCmd.MarkFlagRequired("record")
	rootCmd.AddCommand(resubmitCmd)
}

var castCmd = &cobra.Command{
	Use:   "cast",
	Short: "Cast one vote",
	RunE: func(cmd *cobra.Command, args []string) error {
		electionID, _ := cmd.Flags().GetString("election")
		candidateID, _ := cmd.Flags().GetString("candidate")
		keyHex, _ := cmd.Flags().GetString("key")
		savePath, _ := cmd.Flags().GetString("save")

		key, err := encryption.ParsePrivateKeyHex(keyHex)
		if err != nil {
			return err
		}
		defer key.Zero()

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		if electionID == "" {
			active, err := rt.service.ActiveElection()
			if err != nil {
				return err
			}
			electionID = active.ID
		}

		outcome, err := rt.service.CastVote(cmd.Context(), electionID, candidateID, key)
		if err != nil {
			return err
		}
		if outcome.Retryable() && outcome.Record != nil && savePath != "" {
			if err := saveRecord(savePath, outcome.Record); err != nil {
				return err
			}
		}
		return printOutcome(outcome)
	},
}

var resubmitCmd = &cobra.Command{
	Use:   "resubmit",
	Short: "Send a previously signed record again",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("record")

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var rec models.VoteRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("parse record: %w", err)
		}

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		outcome, err := rt.service.ResubmitVote(cmd.Context(), &rec)
		if err != nil {
			return err
		}
		return printOutcome(outcome)
	},
}

func saveRecord(path string, rec *models.VoteRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func printOutcome(outcome *service.CastOutcome) error {
	resp := castResponse{
		AttemptID: outcome.AttemptID.String(),
		State:     outcome.State,
		Retryable: outcome.Retryable(),
		Record:    outcome.Record,
	}
	if outcome.Err != nil {
		resp.Error = outcome.Err.Error()
	}
	if outcome.Record != nil {
		resp.Tag = outcome.Record.TagHex()
		if len(outcome.Record.AnchorHandle) > 0 {
			resp.Handle = outcome.Record.AnchorHandle.String()
		}
	}
	return printJSON(resp)
}
