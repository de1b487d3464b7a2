// Package flow sequences a set of transfers against a node. Each transfer is
// submitted only after the previous one has been confirmed and the first
// failure stops the run.
package flow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ardanlabs/ethtransfer/foundation/signer"
	"github.com/ardanlabs/ethtransfer/foundation/transfer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EventHandler defines a function that is called when events occur in the
// processing of a run.
type EventHandler func(v string, args ...any)

// Submitter represents the behavior required to move funds and wait for
// the node to confirm it.
type Submitter interface {
	Send(ctx context.Context, sgn signer.Signer, req transfer.Request) (*transfer.Pending, error)
}

// Transfer describes one step of the run.
type Transfer struct {
	Name  string
	From  signer.Signer
	To    common.Address
	Value *big.Int
}

// Result captures what was observed for a confirmed transfer.
type Result struct {
	Name        string
	Request     transfer.Request
	TxHash      common.Hash
	Receipt     *types.Receipt
	SubmittedAt time.Time
	ConfirmedAt time.Time
}

// Config represents everything a run needs.
type Config struct {
	Submitter Submitter
	GasPrice  *big.Int
	GasLimit  uint64
	Transfers []Transfer
	EvHandler EventHandler
}

// StepError reports which transfer stopped the run.
type StepError struct {
	Step int
	Name string
	Err  error
}

// Error implements the error interface.
func (se *StepError) Error() string {
	return fmt.Sprintf("transfer %d %q: %s", se.Step, se.Name, se.Err)
}

// Unwrap provides access to the underlying error.
func (se *StepError) Unwrap() error {
	return se.Err
}

// =============================================================================

// Run performs the transfers in order. Every request is checked before the
// first one is submitted so a bad configuration has no side effects. The
// results of the transfers confirmed before a failure are returned along
// with the error.
func Run(ctx context.Context, cfg Config) ([]Result, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Submitter == nil {
		return nil, errors.New("submitter is required")
	}

	for i, tr := range cfg.Transfers {
		if tr.From == nil {
			return nil, &StepError{Step: i, Name: tr.Name, Err: errors.New("signer is required")}
		}
		if _, err := request(cfg, tr); err != nil {
			return nil, &StepError{Step: i, Name: tr.Name, Err: err}
		}
	}

	results := make([]Result, 0, len(cfg.Transfers))

	for i, tr := range cfg.Transfers {
		if err := ctx.Err(); err != nil {
			return results, &StepError{Step: i, Name: tr.Name, Err: err}
		}

		// The request is only constructed once the previous transfer has
		// been confirmed.
		req, err := request(cfg, tr)
		if err != nil {
			return results, &StepError{Step: i, Name: tr.Name, Err: err}
		}

		ev("flow: run: step[%d] name[%s]: %s", i, tr.Name, req)

		pending, err := cfg.Submitter.Send(ctx, tr.From, req)
		if err != nil {
			return results, &StepError{Step: i, Name: tr.Name, Err: err}
		}

		receipt, err := pending.Wait(ctx)
		if err != nil {
			return results, &StepError{Step: i, Name: tr.Name, Err: err}
		}

		res := Result{
			Name:        tr.Name,
			Request:     req,
			TxHash:      pending.Hash(),
			Receipt:     receipt,
			SubmittedAt: pending.SubmittedAt,
			ConfirmedAt: time.Now().UTC(),
		}
		results = append(results, res)

		ev("flow: run: step[%d] name[%s]: confirmed: tx[%s] block[%d]", i, tr.Name, res.TxHash, receipt.BlockNumber)
	}

	return results, nil
}

// request builds the transfer request for a step.
func request(cfg Config, tr Transfer) (transfer.Request, error) {
	return transfer.NewRequest(tr.From.Address(), tr.To, tr.Value, cfg.GasPrice, cfg.GasLimit)
}
