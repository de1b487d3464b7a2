package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Key signs transactions with a private key held in memory.
type Key struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewKey constructs a signer for the specified private key.
func NewKey(privateKey *ecdsa.PrivateKey) *Key {
	return &Key{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// NewKeyFromHex constructs a signer from a hex-encoded private key. The 0x
// prefix is optional.
func NewKeyFromHex(hexKey string) (*Key, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	return NewKey(privateKey), nil
}

// LoadKey constructs a signer from a private key file written by
// crypto.SaveECDSA.
func LoadKey(path string) (*Key, error) {
	privateKey, err := crypto.LoadECDSA(path)
	if err != nil {
		return nil, fmt.Errorf("loading private key %q: %w", path, err)
	}

	return NewKey(privateKey), nil
}

// Address returns the address derived from the private key.
func (k *Key) Address() common.Address {
	return k.address
}

// SignTx signs the transaction for the specified chain.
func (k *Key) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if tx == nil {
		return nil, ErrNilTransaction
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), k.privateKey)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}

	return signedTx, nil
}

// Close is a no-op since there is nothing to release.
func (k *Key) Close() error {
	return nil
}
