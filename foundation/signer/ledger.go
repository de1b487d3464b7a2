package signer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/usbwallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LedgerLivePath is the derivation path Ledger Live uses for the first
// Ethereum account.
const LedgerLivePath = "m/44'/60'/0'/0/0"

// devicePollInterval is how often the hub is asked for connected wallets
// while waiting for a device to show up.
const devicePollInterval = 250 * time.Millisecond

// LedgerConfig represents the settings for opening a Ledger device.
type LedgerConfig struct {
	Path        string
	OpenTimeout time.Duration
	SignTimeout time.Duration
}

// Ledger signs transactions on a connected Ledger device. The private key
// never leaves the device and every signature needs a confirmation on the
// device itself.
type Ledger struct {
	wallet      accounts.Wallet
	account     accounts.Account
	signTimeout time.Duration
}

// NewLedger waits for a Ledger device to be connected, opens it and derives
// the account at the configured path. The Ethereum application must be open
// on the device.
func NewLedger(ctx context.Context, cfg LedgerConfig) (*Ledger, error) {
	if cfg.Path == "" {
		cfg.Path = LedgerLivePath
	}

	path, err := accounts.ParseDerivationPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("parsing derivation path %q: %w", cfg.Path, err)
	}

	// A host that can't enumerate USB devices can't reach a ledger either.
	hub, err := usbwallet.NewLedgerHub()
	if err != nil {
		return nil, fmt.Errorf("%w: starting ledger hub: %w", ErrNoDevice, err)
	}

	if cfg.OpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.OpenTimeout)
		defer cancel()
	}

	wallet, err := firstWallet(ctx, hub)
	if err != nil {
		return nil, err
	}

	if err := wallet.Open(""); err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", wallet.URL(), err)
	}

	account, err := wallet.Derive(path, true)
	if err != nil {
		wallet.Close()
		return nil, fmt.Errorf("deriving account at %s: %w", path, err)
	}

	l := Ledger{
		wallet:      wallet,
		account:     account,
		signTimeout: cfg.SignTimeout,
	}

	return &l, nil
}

// Address returns the address derived on the device.
func (l *Ledger) Address() common.Address {
	return l.account.Address
}

// SignTx sends the transaction to the device for signing. The call blocks
// until the user confirms or rejects it on the device or the context is
// cancelled.
func (l *Ledger) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if tx == nil {
		return nil, ErrNilTransaction
	}

	if l.signTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.signTimeout)
		defer cancel()
	}

	type result struct {
		tx  *types.Transaction
		err error
	}

	// The device protocol has no cancellation, so the exchange runs on its
	// own goroutine. The buffer lets it finish if we stop waiting.
	ch := make(chan result, 1)
	go func() {
		signedTx, err := l.wallet.SignTx(l.account, tx, chainID)
		ch <- result{signedTx, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("ledger signing: %w", res.err)
		}
		return res.tx, nil

	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for ledger confirmation: %w", ctx.Err())
	}
}

// Close releases the device.
func (l *Ledger) Close() error {
	return l.wallet.Close()
}

// =============================================================================

// firstWallet polls the hub until a device is found or the context is done.
func firstWallet(ctx context.Context, hub *usbwallet.Hub) (accounts.Wallet, error) {
	ticker := time.NewTicker(devicePollInterval)
	defer ticker.Stop()

	for {
		if wallets := hub.Wallets(); len(wallets) > 0 {
			return wallets[0], nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrNoDevice, ctx.Err())
		}
	}
}
