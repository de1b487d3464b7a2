// Package transfer builds native currency transfers, submits them to a node
// and waits for the node to report their inclusion in a block.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ardanlabs/ethtransfer/foundation/signer"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// Set of error variables for building and submitting transfers.
var (
	ErrInvalidRequest = errors.New("invalid transfer request")
	ErrSenderMismatch = errors.New("signer does not match transfer sender")
	ErrReverted       = errors.New("transaction reverted")
)

// defaultPollInterval is used when the configuration doesn't provide one.
const defaultPollInterval = time.Second

// txIndexingMessage is what the node reports for a receipt lookup while its
// transaction index is still catching up with the chain head.
const txIndexingMessage = "transaction indexing is in progress"

// =============================================================================

// EventHandler defines a function that is called when events occur in the
// processing of a transfer.
type EventHandler func(v string, args ...any)

// Client represents the node API required to submit and confirm transfers.
// Both ethclient.Client and the simulated backend client implement it.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config represents the configuration required to construct a Submitter.
type Config struct {
	Client         Client
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
	EvHandler      EventHandler
}

// Submitter signs, submits and confirms transfers against a single node.
type Submitter struct {
	client         Client
	chainID        *big.Int
	pollInterval   time.Duration
	confirmTimeout time.Duration
	evHandler      EventHandler
}

// New constructs a Submitter and reads the chain id from the node.
func New(ctx context.Context, cfg Config) (*Submitter, error) {
	if cfg.Client == nil {
		return nil, errors.New("client is required")
	}

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	chainID, err := cfg.Client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading chain id: %w", err)
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	s := Submitter{
		client:         cfg.Client,
		chainID:        chainID,
		pollInterval:   pollInterval,
		confirmTimeout: cfg.ConfirmTimeout,
		evHandler:      ev,
	}

	return &s, nil
}

// ChainID returns a copy of the chain id transactions are signed for.
func (s *Submitter) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// Send signs the request with the signer and submits it to the node. The
// signer must be able to sign for the request's sender.
func (s *Submitter) Send(ctx context.Context, sgn signer.Signer, req Request) (*Pending, error) {
	if sgn.Address() != req.From() {
		return nil, fmt.Errorf("%w: signer[%s] from[%s]", ErrSenderMismatch, sgn.Address(), req.From())
	}

	nonce, err := s.client.PendingNonceAt(ctx, req.From())
	if err != nil {
		return nil, fmt.Errorf("reading nonce for %s: %w", req.From(), err)
	}

	s.evHandler("transfer: send: signing: from[%s] nonce[%d]", req.From(), nonce)

	signedTx, err := sgn.SignTx(ctx, req.Tx(nonce), s.chainID)
	if err != nil {
		return nil, fmt.Errorf("signing transfer: %w", err)
	}

	// The node would reject a mismatch anyway, but we want to know before
	// anything is broadcast.
	sender, err := types.Sender(types.LatestSignerForChainID(s.chainID), signedTx)
	if err != nil {
		return nil, fmt.Errorf("recovering sender: %w", err)
	}
	if sender != req.From() {
		return nil, fmt.Errorf("%w: signed by[%s] from[%s]", ErrSenderMismatch, sender, req.From())
	}

	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("submitting transaction %s: %w", signedTx.Hash(), err)
	}

	s.evHandler("transfer: send: submitted: tx[%s] from[%s] to[%s] value[%s]", signedTx.Hash(), req.From(), req.To(), req.Value())

	p := Pending{
		submitter:   s,
		tx:          signedTx,
		SubmittedAt: time.Now().UTC(),
	}

	return &p, nil
}

// SendAndConfirm submits the request and blocks until the node reports its
// inclusion.
func (s *Submitter) SendAndConfirm(ctx context.Context, sgn signer.Signer, req Request) (*types.Receipt, error) {
	p, err := s.Send(ctx, sgn, req)
	if err != nil {
		return nil, err
	}

	return p.Wait(ctx)
}

// =============================================================================

// Pending represents a submitted transaction waiting for inclusion.
type Pending struct {
	submitter   *Submitter
	tx          *types.Transaction
	SubmittedAt time.Time
}

// Hash returns the hash of the submitted transaction.
func (p *Pending) Hash() common.Hash {
	return p.tx.Hash()
}

// Tx returns the signed transaction that was submitted.
func (p *Pending) Tx() *types.Transaction {
	return p.tx
}

// Wait polls the node until the receipt for the transaction exists. The wait
// is bounded by the configured confirm timeout and the context. A receipt
// with a failed status is returned along with ErrReverted.
func (p *Pending) Wait(ctx context.Context) (*types.Receipt, error) {
	s := p.submitter
	hash := p.tx.Hash()

	if s.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.confirmTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, fmt.Errorf("%w: tx[%s] block[%d]", ErrReverted, hash, receipt.BlockNumber)
			}

			s.evHandler("transfer: wait: confirmed: tx[%s] block[%d] gas[%d]", hash, receipt.BlockNumber, receipt.GasUsed)
			return receipt, nil

		case isPending(err):
			s.evHandler("transfer: wait: pending: tx[%s]: %s", hash, err)

		default:
			if ctx.Err() != nil {
				return nil, fmt.Errorf("waiting for %s: %w", hash, ctx.Err())
			}
			return nil, fmt.Errorf("reading receipt for %s: %w", hash, err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", hash, ctx.Err())
		}
	}
}

// isPending reports whether a receipt lookup error only means the receipt
// isn't available yet.
func isPending(err error) bool {
	if errors.Is(err, ethereum.NotFound) {
		return true
	}

	var de rpc.DataError
	if errors.As(err, &de) {
		if data, ok := de.ErrorData().(string); ok && data == txIndexingMessage {
			return true
		}
	}

	return err.Error() == txIndexingMessage
}
