package main

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"voting-core/encryption"
)

type keyPairResponse struct {
	Handle     string `json:"handle,omitempty"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func init() {
	rootCmd.AddCommand(keygenCmd)

	otpCmd.Flags().String("id", "", "12 digit identity number")
	otpCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(otpCmd)

	registerCmd.Flags().String("id", "", "12 digit identity number")
	registerCmd.Flags().String("otp", "", "one-time code")
	registerCmd.MarkFlagRequired("id")
	registerCmd.MarkFlagRequired("otp")
	rootCmd.AddCommand(registerCmd)
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an unregistered voter keypair",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := encryption.NewKeyManager().GenerateKeyPair()
		if err != nil {
			return err
		}
		return printJSON(keyPairResponse{
			PublicKey:  pub.Hex(),
			PrivateKey: hexutil.Encode(priv.Bytes()),
		})
	},
}

var otpCmd = &cobra.Command{
	Use:   "otp",
	Short: "Request a one-time code for an identity number",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		code, err := rt.service.RequestOTP(id)
		if err != nil {
			return err
		}
		return printJSON(map[string]string{"otp": code})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Verify an identity and issue a registered voter keypair",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		otp, _ := cmd.Flags().GetString("otp")

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		identity, err := rt.service.RegisterVoter(id, otp)
		if err != nil {
			return err
		}
		return printJSON(keyPairResponse{
			Handle:     identity.Handle,
			PublicKey:  identity.PublicKey.Hex(),
			PrivateKey: hexutil.Encode(identity.PrivateKey.Bytes()),
		})
	},
}
