// Package tonwallet is the payment executor: it holds the hot V4R2 wallet
// and submits TON transfers for fulfillment invoices.
package tonwallet

import (
	"context"
	"encoding/base64"
	"math/big"
	"strings"

	"github.com/go-faster/errors"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"go.uber.org/zap"

	"github.com/skobelev/autostars/internal/domain/fulfillment"
)

// DefaultNetworkConfigURL points at the mainnet global config.
const DefaultNetworkConfigURL = "https://ton.org/global.config.json"

// Config configures the wallet connection.
type Config struct {
	// Mnemonic is the 24-word seed phrase, space separated.
	Mnemonic string
	// NetworkConfigURL is the lite-server network config to connect through.
	NetworkConfigURL string
}

// Wallet submits transfers from a single V4R2 wallet. The fulfillment worker
// is its only caller, so transfers are naturally serialized and seqno
// conflicts cannot occur.
type Wallet struct {
	w   *wallet.Wallet
	api ton.APIClientWrapped
	log *zap.Logger
}

var _ fulfillment.Executor = (*Wallet)(nil)

// Connect dials the lite-server network and derives the wallet from the
// mnemonic.
func Connect(ctx context.Context, cfg Config, lg *zap.Logger) (*Wallet, error) {
	if lg == nil {
		lg = zap.NewNop()
	}

	words := strings.Fields(cfg.Mnemonic)
	if len(words) != 24 {
		return nil, errors.Errorf("mnemonic must be 24 words, got %d", len(words))
	}

	configURL := cfg.NetworkConfigURL
	if configURL == "" {
		configURL = DefaultNetworkConfigURL
	}

	pool := liteclient.NewConnectionPool()
	if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
		return nil, errors.Wrap(err, "connect lite servers")
	}
	api := ton.NewAPIClient(pool).WithRetry()

	w, err := wallet.FromSeed(api, words, wallet.V4R2)
	if err != nil {
		return nil, errors.Wrap(err, "derive wallet")
	}

	lg.Info("Wallet connected", zap.String("address", w.WalletAddress().String()))
	return &Wallet{w: w, api: api, log: lg.Named("wallet")}, nil
}

// Address returns the wallet's own address.
func (w *Wallet) Address() string {
	return w.w.WalletAddress().String()
}

// Transfer sends amountNano to addr with the given memo and returns the
// transaction hash once the transfer is accepted by the chain.
func (w *Wallet) Transfer(ctx context.Context, addr string, amountNano int64, memo string) (string, error) {
	dst, err := address.ParseAddr(addr)
	if err != nil {
		return "", errors.Wrap(err, "parse destination")
	}
	if amountNano <= 0 {
		return "", errors.Errorf("non-positive amount %d", amountNano)
	}

	var body *cell.Cell
	if memo != "" {
		body, err = wallet.CreateCommentCell(memo)
		if err != nil {
			return "", errors.Wrap(err, "build comment")
		}
	}

	amount := tlb.FromNanoTON(big.NewInt(amountNano))
	w.log.Info("Submitting transfer",
		zap.String("destination", dst.String()),
		zap.String("amount_ton", amount.String()))

	tx, _, err := w.w.SendWaitTransaction(ctx, wallet.SimpleMessage(dst, amount, body))
	if err != nil {
		return "", errors.Wrap(err, "send transaction")
	}

	txID := base64.StdEncoding.EncodeToString(tx.Hash)
	w.log.Info("Transfer accepted", zap.String("tx_id", txID))
	return txID, nil
}
