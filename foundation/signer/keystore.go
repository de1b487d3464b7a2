package signer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Keystore signs transactions with an account stored in an encrypted
// keystore directory.
type Keystore struct {
	ks         *keystore.KeyStore
	account    accounts.Account
	passphrase string
}

// NewKeystore opens the keystore directory and locates the key for the
// specified address.
func NewKeystore(dir string, address common.Address, passphrase string) (*Keystore, error) {
	ks := keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)

	account, err := ks.Find(accounts.Account{Address: address})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAccountNotFound, address, err)
	}

	k := Keystore{
		ks:         ks,
		account:    account,
		passphrase: passphrase,
	}

	return &k, nil
}

// Address returns the address of the keystore account.
func (k *Keystore) Address() common.Address {
	return k.account.Address
}

// SignTx decrypts the key with the passphrase and signs the transaction.
func (k *Keystore) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if tx == nil {
		return nil, ErrNilTransaction
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	signedTx, err := k.ks.SignTxWithPassphrase(k.account, k.passphrase, tx, chainID)
	if err != nil {
		if errors.Is(err, keystore.ErrDecrypt) {
			return nil, fmt.Errorf("unlocking %s: %w", k.account.Address, err)
		}
		return nil, fmt.Errorf("signing transaction: %w", err)
	}

	return signedTx, nil
}

// Close is a no-op since the keystore holds no unlocked keys.
func (k *Keystore) Close() error {
	return nil
}
