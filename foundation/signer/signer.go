// Package signer provides the different ways an account can authorize a
// transaction. Every implementation satisfies the Signer interface so the
// submission logic never needs to know where the key material lives.
package signer

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Set of error variables for signer construction and signing.
var (
	ErrNoDevice        = errors.New("no hardware wallet found")
	ErrAccountNotFound = errors.New("account not found in keystore")
	ErrNilTransaction  = errors.New("transaction is nil")
)

// Signer represents the behavior required to produce a signature on behalf
// of an address.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	Close() error
}
