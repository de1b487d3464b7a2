package transfer

import (
	"fmt"
	"math/big"

	"github.com/ardanlabs/ethtransfer/foundation/validate"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

// Request describes a native currency transfer. A Request can't be changed
// once constructed; every getter hands back a copy.
type Request struct {
	from     common.Address
	to       common.Address
	value    *big.Int
	gasPrice *big.Int
	gasLimit uint64
}

// NewRequest constructs a transfer request and validates the fee parameters.
func NewRequest(from common.Address, to common.Address, value *big.Int, gasPrice *big.Int, gasLimit uint64) (Request, error) {
	switch {
	case value == nil || value.Sign() < 0:
		return Request{}, fmt.Errorf("%w: value must be zero or positive", ErrInvalidRequest)

	case gasPrice == nil || gasPrice.Sign() <= 0:
		return Request{}, fmt.Errorf("%w: gas price must be positive", ErrInvalidRequest)

	case gasLimit < params.TxGas:
		return Request{}, fmt.Errorf("%w: gas limit %d is below the intrinsic cost of %d", ErrInvalidRequest, gasLimit, params.TxGas)
	}

	req := Request{
		from:     from,
		to:       to,
		value:    new(big.Int).Set(value),
		gasPrice: new(big.Int).Set(gasPrice),
		gasLimit: gasLimit,
	}

	return req, nil
}

// From returns the account paying for the transfer.
func (r Request) From() common.Address {
	return r.from
}

// To returns the account receiving the value.
func (r Request) To() common.Address {
	return r.to
}

// Value returns a copy of the amount being transferred in wei.
func (r Request) Value() *big.Int {
	return copyInt(r.value)
}

// GasPrice returns a copy of the price paid per unit of gas in wei.
func (r Request) GasPrice() *big.Int {
	return copyInt(r.gasPrice)
}

// GasLimit returns the maximum gas the transfer can consume.
func (r Request) GasLimit() uint64 {
	return r.gasLimit
}

// MaxFee returns the most the sender can pay in fees: gas price * gas limit.
func (r Request) MaxFee() *big.Int {
	if r.gasPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(r.gasPrice, new(big.Int).SetUint64(r.gasLimit))
}

// Cost returns the most the sender's balance can drop: value plus the
// maximum fee.
func (r Request) Cost() *big.Int {
	return new(big.Int).Add(r.Value(), r.MaxFee())
}

// Tx builds the unsigned legacy transaction for the specified nonce.
func (r Request) Tx(nonce uint64) *types.Transaction {
	to := r.to

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    r.Value(),
		Gas:      r.gasLimit,
		GasPrice: r.GasPrice(),
	})
}

// String implements the fmt.Stringer interface for logging.
func (r Request) String() string {
	return fmt.Sprintf("Request{From: %s, To: %s, Value: %s, GasPrice: %s, GasLimit: %d}",
		r.from, r.to, r.Value(), r.GasPrice(), r.gasLimit)
}

// =============================================================================

// NewTransfer is what we require from callers that describe a transfer with
// text, such as the command line or configuration.
type NewTransfer struct {
	From     string `json:"from" validate:"required,eth_addr"`
	To       string `json:"to" validate:"required,eth_addr"`
	Value    string `json:"value" validate:"required,number"`
	GasPrice string `json:"gas_price" validate:"required,number"`
	GasLimit uint64 `json:"gas_limit" validate:"required"`
}

// Request validates the fields and converts them into a Request.
func (nt NewTransfer) Request() (Request, error) {
	if err := validate.Check(nt); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	value, ok := new(big.Int).SetString(nt.Value, 10)
	if !ok {
		return Request{}, fmt.Errorf("%w: parsing value %q", ErrInvalidRequest, nt.Value)
	}

	gasPrice, ok := new(big.Int).SetString(nt.GasPrice, 10)
	if !ok {
		return Request{}, fmt.Errorf("%w: parsing gas price %q", ErrInvalidRequest, nt.GasPrice)
	}

	return NewRequest(common.HexToAddress(nt.From), common.HexToAddress(nt.To), value, gasPrice, nt.GasLimit)
}

// =============================================================================

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
