package anchor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"voting-core/models"
)

// ChainClient is the subset of ethclient.Client used by EthereumLedger.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
}

var _ ChainClient = (*ethclient.Client)(nil)

type EthereumConfig struct {
	// Sink receives the data transactions. Defaults to the zero address.
	Sink          common.Address
	GasLimit      uint64
	Confirmations uint64
	// StartBlock is where Scan begins, usually the block the election
	// opened in.
	StartBlock uint64
}

func DefaultEthereumConfig() EthereumConfig {
	return EthereumConfig{
		GasLimit:      2_000_000,
		Confirmations: 1,
	}
}

// EthereumLedger anchors payloads as the data of plain value-less
// transactions signed by an operator key.
type EthereumLedger struct {
	client ChainClient
	key    *ecdsa.PrivateKey
	from   common.Address
	cfg    EthereumConfig
	log    zerolog.Logger

	mu       sync.Mutex
	txSigner types.Signer
	// payload digest -> tx hash, so a resubmitted payload is not sent twice
	sent map[common.Hash]common.Hash
}

var _ Ledger = (*EthereumLedger)(nil)

func NewEthereumLedger(client ChainClient, key *ecdsa.PrivateKey, cfg EthereumConfig, logger zerolog.Logger) *EthereumLedger {
	if cfg.GasLimit == 0 {
		cfg.GasLimit = DefaultEthereumConfig().GasLimit
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	return &EthereumLedger{
		client: client,
		key:    key,
		from:   from,
		cfg:    cfg,
		log:    logger.With().Str("component", "eth-ledger").Str("operator", from.Hex()).Logger(),
		sent:   make(map[common.Hash]common.Hash),
	}
}

// DialEthereumLedger connects to an RPC endpoint.
func DialEthereumLedger(ctx context.Context, url string, key *ecdsa.PrivateKey, cfg EthereumConfig, logger zerolog.Logger) (*EthereumLedger, func(), error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dial %s: %v", ErrAnchorUnavailable, url, err)
	}
	return NewEthereumLedger(client, key, cfg, logger), client.Close, nil
}

func (l *EthereumLedger) Commit(ctx context.Context, payload []byte) (models.AnchorHandle, error) {
	digest := crypto.Keccak256Hash(payload)

	l.mu.Lock()
	defer l.mu.Unlock()

	if txHash, ok := l.sent[digest]; ok {
		return txHash.Bytes(), nil
	}

	signer, err := l.signerLocked(ctx)
	if err != nil {
		return nil, err
	}

	nonce, err := l.client.PendingNonceAt(ctx, l.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}

	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &l.cfg.Sink,
		Value:    big.NewInt(0),
		Gas:      l.cfg.GasLimit,
		GasPrice: gasPrice,
		Data:     payload,
	}), signer, l.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := l.client.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}

	l.sent[digest] = tx.Hash()
	l.log.Debug().Str("tx", tx.Hash().Hex()).Uint64("nonce", nonce).Msg("anchor transaction sent")
	return tx.Hash().Bytes(), nil
}

func (l *EthereumLedger) Confirm(ctx context.Context, handle models.AnchorHandle) (Status, error) {
	if len(handle) != common.HashLength {
		return StatusFailed, nil
	}

	receipt, err := l.client.TransactionReceipt(ctx, common.BytesToHash(handle))
	if receiptNotReady(err) {
		return StatusPending, nil
	}
	if err != nil {
		return StatusPending, fmt.Errorf("receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return StatusFailed, nil
	}

	head, err := l.client.BlockNumber(ctx)
	if err != nil {
		return StatusPending, fmt.Errorf("block number: %w", err)
	}
	if l.deep(receipt.BlockNumber.Uint64(), head) {
		return StatusCommitted, nil
	}
	return StatusPending, nil
}

// errTxIndexing is what go-ethereum nodes answer for a receipt while the
// transaction is unmined or the tx index is still catching up.
const errTxIndexing = "transaction indexing is in progress"

func receiptNotReady(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ethereum.NotFound) || strings.Contains(err.Error(), errTxIndexing)
}

// Scan walks blocks from StartBlock up to the confirmed head and yields
// successful transactions sent by the operator to the sink.
func (l *EthereumLedger) Scan(ctx context.Context, fn func(Entry) error) error {
	head, err := l.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}

	signer, err := l.signer(ctx)
	if err != nil {
		return err
	}

	for n := l.cfg.StartBlock; n <= head && l.deep(n, head); n++ {
		block, err := l.client.BlockByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return fmt.Errorf("block %d: %w", n, err)
		}

		for _, tx := range block.Transactions() {
			if tx.To() == nil || *tx.To() != l.cfg.Sink {
				continue
			}
			sender, err := types.Sender(signer, tx)
			if err != nil || sender != l.from {
				continue
			}

			receipt, err := l.client.TransactionReceipt(ctx, tx.Hash())
			if err != nil {
				return fmt.Errorf("receipt %s: %w", tx.Hash().Hex(), err)
			}
			if receipt.Status != types.ReceiptStatusSuccessful {
				continue
			}

			entry := Entry{
				Handle:   tx.Hash().Bytes(),
				Payload:  tx.Data(),
				Position: n,
				Time:     time.Unix(int64(block.Time()), 0),
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *EthereumLedger) deep(blockNumber, head uint64) bool {
	return head >= blockNumber && head-blockNumber+1 >= l.cfg.Confirmations
}

func (l *EthereumLedger) signer(ctx context.Context) (types.Signer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.signerLocked(ctx)
}

func (l *EthereumLedger) signerLocked(ctx context.Context) (types.Signer, error) {
	if l.txSigner != nil {
		return l.txSigner, nil
	}

	chainID, err := l.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	l.txSigner = types.LatestSignerForChainID(chainID)
	return l.txSigner, nil
}
