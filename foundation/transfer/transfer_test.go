package transfer_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ardanlabs/ethtransfer/foundation/signer"
	"github.com/ardanlabs/ethtransfer/foundation/transfer"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	aliceKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	alice    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	bobKey   = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	bob      = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	vitalik  = "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045"
)

var (
	value    = big.NewInt(420_000_000_000_000)
	gasPrice = big.NewInt(20_000_000_000)
	gasLimit = uint64(21_000)
)

// newBackend starts an in-process chain with the accounts funded. When
// mining is true blocks are committed in the background so transactions get
// included without the test doing anything.
func newBackend(t *testing.T, mining bool, funded ...string) *simulated.Backend {
	alloc := make(types.GenesisAlloc)
	for _, addr := range funded {
		alloc[common.HexToAddress(addr)] = types.Account{Balance: new(big.Int).Mul(big.NewInt(10_000), big.NewInt(1e18))}
	}

	backend := simulated.NewBackend(alloc)

	var wg sync.WaitGroup
	shut := make(chan struct{})

	if mining {
		wg.Add(1)
		go func() {
			defer wg.Done()

			ticker := time.NewTicker(20 * time.Millisecond)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					backend.Commit()
				case <-shut:
					return
				}
			}
		}()
	}

	t.Cleanup(func() {
		close(shut)
		wg.Wait()
		backend.Close()
	})

	return backend
}

func mustKey(t *testing.T, hexKey string) *signer.Key {
	sgn, err := signer.NewKeyFromHex(hexKey)
	if err != nil {
		t.Fatalf("Should be able to construct a signer: %s", err)
	}
	return sgn
}

// =============================================================================

func Test_SendAndConfirm(t *testing.T) {
	t.Log("Given the need to submit a transfer and wait for its inclusion.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen sending from a funded account.", testID)
		{
			ctx := context.Background()
			backend := newBackend(t, true, alice)
			client := backend.Client()

			sub, err := transfer.New(ctx, transfer.Config{
				Client:         client,
				PollInterval:   10 * time.Millisecond,
				ConfirmTimeout: 10 * time.Second,
			})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct a submitter: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to construct a submitter.", success, testID)

			fromBefore, err := client.BalanceAt(ctx, common.HexToAddress(alice), nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to read the sender balance: %s", failed, testID, err)
			}

			req, err := transfer.NewRequest(common.HexToAddress(alice), common.HexToAddress(vitalik), value, gasPrice, gasLimit)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct the request: %s", failed, testID, err)
			}

			receipt, err := sub.SendAndConfirm(ctx, mustKey(t, aliceKey), req)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to send and confirm: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to send and confirm.", success, testID)

			if receipt.BlockNumber.Sign() <= 0 {
				t.Fatalf("\t%s\tTest %d:\tShould be included after genesis, got block %d.", failed, testID, receipt.BlockNumber)
			}
			t.Logf("\t%s\tTest %d:\tShould be included after genesis.", success, testID)

			fromAfter, err := client.BalanceAt(ctx, common.HexToAddress(alice), nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to read the sender balance: %s", failed, testID, err)
			}

			toAfter, err := client.BalanceAt(ctx, common.HexToAddress(vitalik), nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to read the recipient balance: %s", failed, testID, err)
			}

			spent := new(big.Int).Sub(fromBefore, fromAfter)
			if spent.Cmp(req.Cost()) != 0 {
				t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, spent)
				t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, req.Cost())
				t.Fatalf("\t%s\tTest %d:\tShould drop the sender balance by value plus gas.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould drop the sender balance by value plus gas.", success, testID)

			if toAfter.Cmp(value) != 0 {
				t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, toAfter)
				t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, value)
				t.Fatalf("\t%s\tTest %d:\tShould raise the recipient balance by value.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould raise the recipient balance by value.", success, testID)
		}
	}
}

func Test_SenderMismatch(t *testing.T) {
	t.Log("Given the need to only submit transfers the signer can authorize.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen signing alice's transfer with bob's key.", testID)
		{
			ctx := context.Background()
			backend := newBackend(t, false, alice, bob)
			client := backend.Client()

			sub, err := transfer.New(ctx, transfer.Config{Client: client})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct a submitter: %s", failed, testID, err)
			}

			req, err := transfer.NewRequest(common.HexToAddress(alice), common.HexToAddress(vitalik), value, gasPrice, gasLimit)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct the request: %s", failed, testID, err)
			}

			if _, err := sub.Send(ctx, mustKey(t, bobKey), req); !errors.Is(err, transfer.ErrSenderMismatch) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the signer: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the signer.", success, testID)

			for _, addr := range []string{alice, bob} {
				nonce, err := client.PendingNonceAt(ctx, common.HexToAddress(addr))
				if err != nil || nonce != 0 {
					t.Fatalf("\t%s\tTest %d:\tShould not submit anything for %s, nonce %d: %v", failed, testID, addr, nonce, err)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould not submit anything.", success, testID)
		}
	}
}

func Test_ConfirmTimeout(t *testing.T) {
	t.Log("Given the need to bound the wait for inclusion.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen no blocks are being produced.", testID)
		{
			ctx := context.Background()
			backend := newBackend(t, false, alice)

			sub, err := transfer.New(ctx, transfer.Config{
				Client:         backend.Client(),
				PollInterval:   10 * time.Millisecond,
				ConfirmTimeout: 200 * time.Millisecond,
			})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct a submitter: %s", failed, testID, err)
			}

			req, err := transfer.NewRequest(common.HexToAddress(alice), common.HexToAddress(vitalik), value, gasPrice, gasLimit)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct the request: %s", failed, testID, err)
			}

			pending, err := sub.Send(ctx, mustKey(t, aliceKey), req)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to submit the transfer: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to submit the transfer.", success, testID)

			if _, err := pending.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("\t%s\tTest %d:\tShould give up waiting: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould give up waiting.", success, testID)

			backend.Commit()

			receipt, err := pending.Wait(ctx)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould see the receipt once a block is committed: %s", failed, testID, err)
			}
			if receipt.TxHash != pending.Hash() {
				t.Fatalf("\t%s\tTest %d:\tShould get the receipt for the transfer.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould see the receipt once a block is committed.", success, testID)
		}
	}
}

// =============================================================================

// fakeClient reports the transaction as unknown and then as still being
// indexed a number of times before returning the configured receipt.
type fakeClient struct {
	mu      sync.Mutex
	misses   int
	indexing int
	status   uint64
	rcptErr  error
	sent     []*types.Transaction
}

// indexingError is the error a node returns for a receipt lookup while its
// transaction index catches up.
type indexingError struct{}

func (indexingError) Error() string { return "transaction indexing is in progress" }
func (indexingError) ErrorCode() int { return -32000 }
func (indexingError) ErrorData() any { return "transaction indexing is in progress" }

func (c *fakeClient) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(31337), nil
}

func (c *fakeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (c *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sent = append(c.sent, tx)
	return nil
}

func (c *fakeClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rcptErr != nil {
		return nil, c.rcptErr
	}

	if c.misses > 0 {
		c.misses--
		return nil, ethereum.NotFound
	}

	if c.indexing > 0 {
		c.indexing--
		return nil, indexingError{}
	}

	return &types.Receipt{TxHash: txHash, Status: c.status, BlockNumber: big.NewInt(1)}, nil
}

func Test_ReceiptOutcomes(t *testing.T) {
	type table struct {
		name   string
		client *fakeClient
		err    error
	}

	broken := errors.New("connection dropped")

	tt := []table{
		{name: "confirmed", client: &fakeClient{misses: 2, status: types.ReceiptStatusSuccessful}},
		{name: "indexing", client: &fakeClient{misses: 1, indexing: 3, status: types.ReceiptStatusSuccessful}},
		{name: "reverted", client: &fakeClient{misses: 1, status: types.ReceiptStatusFailed}, err: transfer.ErrReverted},
		{name: "dropped", client: &fakeClient{rcptErr: broken}, err: broken},
	}

	t.Log("Given the need to interpret what the node reports while waiting.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen the node reports a %s transfer.", testID, tst.name)
			{
				f := func(t *testing.T) {
					ctx := context.Background()

					var events []string
					sub, err := transfer.New(ctx, transfer.Config{
						Client:       tst.client,
						PollInterval: time.Millisecond,
						EvHandler:    func(v string, args ...any) { events = append(events, v) },
					})
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould be able to construct a submitter: %s", failed, testID, err)
					}

					req, err := transfer.NewRequest(common.HexToAddress(alice), common.HexToAddress(vitalik), value, gasPrice, gasLimit)
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould be able to construct the request: %s", failed, testID, err)
					}

					receipt, err := sub.SendAndConfirm(ctx, mustKey(t, aliceKey), req)
					if !errors.Is(err, tst.err) {
						t.Fatalf("\t%s\tTest %d:\tShould get the expected error, got %v exp %v.", failed, testID, err, tst.err)
					}
					t.Logf("\t%s\tTest %d:\tShould get the expected error.", success, testID)

					if tst.err == nil && receipt == nil {
						t.Fatalf("\t%s\tTest %d:\tShould get a receipt.", failed, testID)
					}

					if tst.client.misses != 0 || tst.client.indexing != 0 {
						t.Fatalf("\t%s\tTest %d:\tShould keep polling until the receipt is available.", failed, testID)
					}

					if len(tst.client.sent) != 1 {
						t.Fatalf("\t%s\tTest %d:\tShould submit exactly once, got %d.", failed, testID, len(tst.client.sent))
					}
					t.Logf("\t%s\tTest %d:\tShould submit exactly once.", success, testID)

					if len(events) == 0 {
						t.Fatalf("\t%s\tTest %d:\tShould report events.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould report events.", success, testID)
				}

				t.Run(tst.name, f)
			}
		}
	}
}
