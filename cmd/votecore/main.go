package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"voting-core/anchor"
	"voting-core/config"
	"voting-core/registry"
	"voting-core/service"
	"voting-core/storage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "votecore",
	Short:         "Anonymous vote casting and tallying over an append-only ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.LoadConfigFile(configPath)
}

// runtime is everything a command needs, opened from the configuration.
type runtime struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   *storage.Store
	chain   *anchor.ChainLedger
	client  *anchor.Client
	service *service.VotingService
	closers []func()
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, log: cfg.Logger()}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	kv, err := storage.OpenPebble(cfg.KVPath())
	if err != nil {
		return nil, err
	}
	rt.store = storage.NewStore(kv)
	rt.closers = append(rt.closers, func() {
		if err := rt.store.Close(); err != nil {
			rt.log.Error().Err(err).Msg("closing store failed")
		}
	})

	var ledger anchor.Ledger
	switch cfg.Ledger.Kind {
	case config.LedgerEthereum:
		key, err := anchor.LoadOrGenerateOperatorKey(cfg.Ledger.Ethereum.KeyFile)
		if err != nil {
			return nil, err
		}
		eth, closeEth, err := anchor.DialEthereumLedger(ctx, cfg.Ledger.Ethereum.RPCURL, key, cfg.EthereumLedgerConfig(), rt.log)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, closeEth)
		ledger = eth
	default:
		blocks, err := storage.NewChainStore(cfg.ChainPath())
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { blocks.Close() })

		chain, err := anchor.NewChainLedger(cfg.ChainLedgerConfig(), blocks, rt.log)
		if err != nil {
			return nil, err
		}
		chain.Start()
		rt.closers = append(rt.closers, func() {
			if err := chain.Close(); err != nil {
				rt.log.Error().Err(err).Msg("closing chain ledger failed")
			}
		})
		rt.chain = chain
		ledger = chain
	}

	oracle, err := registry.NewMockAadhaar(cfg.Registry)
	if err != nil {
		return nil, err
	}

	rt.client = anchor.NewClient(ledger, rt.log)
	rt.service = service.NewVotingService(rt.store, oracle, rt.client, cfg.ServiceOptions(rt.log))
	ok = true
	return rt, nil
}

// Close releases resources in reverse order of opening.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
