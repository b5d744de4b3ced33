package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"

	"voting-core/anchor"
	"voting-core/registry"
	"voting-core/service"
)

const (
	LedgerChain    = "chain"
	LedgerEthereum = "ethereum"
)

type Config struct {
	StorageDir string                 `yaml:"storage-dir"`
	LogLevel   string                 `yaml:"log-level"`
	HandleSalt string                 `yaml:"handle-salt"`
	Registry   registry.AadhaarConfig `yaml:"registry"`
	Ledger     LedgerConfig           `yaml:"ledger"`
	Caster     CasterConfig           `yaml:"caster"`
	Tally      TallyConfig            `yaml:"tally"`
	Queue      QueueConfig            `yaml:"queue"`
}

type LedgerConfig struct {
	Kind     string         `yaml:"kind"`
	Chain    ChainConfig    `yaml:"chain"`
	Ethereum EthereumConfig `yaml:"ethereum"`
}

type ChainConfig struct {
	Name          string        `yaml:"name"`
	Difficulty    uint8         `yaml:"difficulty"`
	BatchSize     int           `yaml:"batch-size"`
	BlockInterval time.Duration `yaml:"block-interval"`
	Confirmations int           `yaml:"confirmations"`
}

type EthereumConfig struct {
	RPCURL        string `yaml:"rpc-url"`
	KeyFile       string `yaml:"key-file"`
	Sink          string `yaml:"sink"`
	GasLimit      uint64 `yaml:"gas-limit"`
	Confirmations uint64 `yaml:"confirmations"`
	StartBlock    uint64 `yaml:"start-block"`
}

type CasterConfig struct {
	CommitTimeout     time.Duration `yaml:"commit-timeout"`
	ConfirmTimeout    time.Duration `yaml:"confirm-timeout"`
	PollInterval      time.Duration `yaml:"poll-interval"`
	RingSize          int           `yaml:"ring-size"`
	RequireRegistered bool          `yaml:"require-registered"`
}

type TallyConfig struct {
	RequireRegisteredRing bool `yaml:"require-registered-ring"`
}

type QueueConfig struct {
	Size        int `yaml:"size"`
	VoteWorkers int `yaml:"vote-workers"`
}

// Default returns the configuration used when no file is given. Files are
// decoded on top of it, so they only need the keys they change.
func Default() *Config {
	chain := anchor.DefaultChainConfig()
	eth := anchor.DefaultEthereumConfig()
	caster := service.DefaultCasterConfig()

	return &Config{
		StorageDir: "data",
		LogLevel:   zerolog.LevelInfoValue,
		Ledger: LedgerConfig{
			Kind: LedgerChain,
			Chain: ChainConfig{
				Name:          chain.Name,
				Difficulty:    chain.Difficulty,
				BatchSize:     chain.BatchSize,
				BlockInterval: chain.BlockInterval,
				Confirmations: chain.Confirmations,
			},
			Ethereum: EthereumConfig{
				RPCURL:        "http://localhost:8545",
				KeyFile:       filepath.Join("data", "operator.json"),
				GasLimit:      eth.GasLimit,
				Confirmations: eth.Confirmations,
			},
		},
		Caster: CasterConfig{
			CommitTimeout:     caster.CommitTimeout,
			ConfirmTimeout:    caster.ConfirmTimeout,
			PollInterval:      caster.PollInterval,
			RingSize:          caster.RingSize,
			RequireRegistered: caster.RequireRegistered,
		},
		Tally: TallyConfig{RequireRegisteredRing: true},
		Queue: QueueConfig{Size: 100, VoteWorkers: 4},
	}
}

// LoadConfigFile reads a YAML file over the defaults.
func LoadConfigFile(path string) (*Config, error) {
	config := Default()

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	d := yaml.NewDecoder(file)
	d.SetStrict(true)

	if err := d.Decode(config); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.StorageDir == "" {
		return errors.New("storage-dir is required")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log-level: %w", err)
	}

	switch c.Ledger.Kind {
	case LedgerChain:
		if c.Ledger.Chain.Difficulty > 4 {
			return fmt.Errorf("ledger.chain.difficulty %d is too high", c.Ledger.Chain.Difficulty)
		}
	case LedgerEthereum:
		if c.Ledger.Ethereum.RPCURL == "" {
			return errors.New("ledger.ethereum.rpc-url is required")
		}
		if c.Ledger.Ethereum.Sink != "" && !common.IsHexAddress(c.Ledger.Ethereum.Sink) {
			return fmt.Errorf("ledger.ethereum.sink %q is not an address", c.Ledger.Ethereum.Sink)
		}
	default:
		return fmt.Errorf("ledger.kind %q: want %q or %q", c.Ledger.Kind, LedgerChain, LedgerEthereum)
	}

	if c.Caster.RingSize < 1 {
		return errors.New("caster.ring-size must be at least 1")
	}
	if c.Caster.ConfirmTimeout <= 0 || c.Caster.PollInterval <= 0 {
		return errors.New("caster timeouts must be positive")
	}
	return nil
}

// Logger builds the root logger at the configured level.
func (c *Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func (c *Config) KVPath() string {
	return filepath.Join(c.StorageDir, "kv")
}

func (c *Config) ChainPath() string {
	return filepath.Join(c.StorageDir, "chain")
}

func (c *Config) ChainLedgerConfig() anchor.ChainConfig {
	return anchor.ChainConfig{
		Name:          c.Ledger.Chain.Name,
		Difficulty:    c.Ledger.Chain.Difficulty,
		BatchSize:     c.Ledger.Chain.BatchSize,
		BlockInterval: c.Ledger.Chain.BlockInterval,
		Confirmations: c.Ledger.Chain.Confirmations,
	}
}

func (c *Config) EthereumLedgerConfig() anchor.EthereumConfig {
	cfg := anchor.EthereumConfig{
		GasLimit:      c.Ledger.Ethereum.GasLimit,
		Confirmations: c.Ledger.Ethereum.Confirmations,
		StartBlock:    c.Ledger.Ethereum.StartBlock,
	}
	if c.Ledger.Ethereum.Sink != "" {
		cfg.Sink = common.HexToAddress(c.Ledger.Ethereum.Sink)
	}
	return cfg
}

func (c *Config) ServiceOptions(logger zerolog.Logger) service.Options {
	return service.Options{
		Caster: service.CasterConfig{
			CommitTimeout:     c.Caster.CommitTimeout,
			ConfirmTimeout:    c.Caster.ConfirmTimeout,
			PollInterval:      c.Caster.PollInterval,
			RingSize:          c.Caster.RingSize,
			RequireRegistered: c.Caster.RequireRegistered,
		},
		Tally:      service.TallyConfig{RequireRegisteredRing: c.Tally.RequireRegisteredRing},
		HandleSalt: c.HandleSalt,
		Logger:     logger,
	}
}
