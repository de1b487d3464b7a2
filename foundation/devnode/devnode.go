// Package devnode starts an ephemeral local development node and exposes its
// RPC endpoint and pre-funded test accounts. The node is an anvil process
// owned by the returned Node value and must be released with Shutdown.
package devnode

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Set of error variables for starting and running the node.
var (
	ErrBinaryNotFound = errors.New("node binary not found on PATH")
	ErrStartTimeout   = errors.New("node did not start in time")
	ErrExited         = errors.New("node exited before it was ready")
)

// Defaults applied when the configuration leaves a field empty.
const (
	DefaultBinary  = "anvil"
	DefaultHost    = "127.0.0.1"
	DefaultChainID = 31337

	defaultStartTimeout = 10 * time.Second
	shutdownGrace       = 5 * time.Second
)

// EventHandler defines a function that is called when events occur in the
// life of the node.
type EventHandler func(v string, args ...any)

// Config represents the settings for starting a node.
type Config struct {
	Binary       string
	Host         string
	Port         int
	ChainID      uint64
	Accounts     int
	BlockTime    time.Duration
	StartTimeout time.Duration
	EvHandler    EventHandler
}

// Node represents a running development node.
type Node struct {
	cmd       *exec.Cmd
	endpoint  string
	chainID   uint64
	addresses []common.Address
	keys      []*ecdsa.PrivateKey
	evHandler EventHandler
	exited    chan struct{}
	once      sync.Once
}

// Start launches the node process and blocks until it reports that it is
// listening. On any failure the process is killed before returning.
func Start(ctx context.Context, cfg Config) (*Node, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = DefaultChainID
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}

	path, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBinaryNotFound, cfg.Binary, err)
	}

	port := cfg.Port
	if port == 0 {
		if port, err = freePort(cfg.Host); err != nil {
			return nil, fmt.Errorf("finding a free port: %w", err)
		}
	}

	cmd := exec.Command(path, args(cfg, port)...)
	cmd.Stderr = os.Stderr

	// The output goes through a pipe we own rather than StdoutPipe so Wait
	// never depends on the output reaching EOF. A child of the node that
	// inherits stdout can't keep Wait or Shutdown from returning.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("capturing node output: %w", err)
	}
	cmd.Stdout = pw

	ev("devnode: start: launching: %s %v", path, cmd.Args[1:])

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("starting %s: %w", path, err)
	}
	pw.Close()

	n := Node{
		cmd:       cmd,
		chainID:   cfg.ChainID,
		evHandler: ev,
		exited:    make(chan struct{}),
	}

	// Parse the banner on its own goroutine so the start timeout can be
	// enforced. Once ready, keep draining the output so the node never
	// blocks on a full pipe.
	type result struct {
		banner Banner
		err    error
	}
	ready := make(chan result, 1)

	go func() {
		scanner := bufio.NewScanner(pr)

		var b Banner
		err := scanBanner(scanner, &b)
		ready <- result{b, err}

		for scanner.Scan() {
		}
	}()

	// Closing the read side once the process is gone releases the reader
	// even when the pipe is still held open by someone else.
	go func() {
		cmd.Wait()
		pr.Close()
		close(n.exited)
	}()

	timer := time.NewTimer(cfg.StartTimeout)
	defer timer.Stop()

	select {
	case res := <-ready:
		if res.err != nil {
			n.Shutdown()
			return nil, fmt.Errorf("reading node banner: %w", res.err)
		}

		n.addresses = res.banner.Addresses
		n.keys = res.banner.Keys
		if res.banner.ChainID != 0 {
			n.chainID = res.banner.ChainID
		}

		listening := res.banner.Listening
		if listening == "" {
			listening = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
		}
		n.endpoint = "http://" + listening

	case <-timer.C:
		n.Shutdown()
		return nil, fmt.Errorf("%w: %s", ErrStartTimeout, cfg.StartTimeout)

	case <-ctx.Done():
		n.Shutdown()
		return nil, ctx.Err()
	}

	ev("devnode: start: listening: endpoint[%s] chainid[%d] accounts[%d]", n.endpoint, n.chainID, len(n.keys))

	return &n, nil
}

// Endpoint returns the HTTP JSON-RPC endpoint of the node.
func (n *Node) Endpoint() string {
	return n.endpoint
}

// ChainID returns the chain id the node was started with.
func (n *Node) ChainID() uint64 {
	return n.chainID
}

// Addresses returns a copy of the pre-funded account addresses.
func (n *Node) Addresses() []common.Address {
	cpy := make([]common.Address, len(n.addresses))
	copy(cpy, n.addresses)
	return cpy
}

// Keys returns a copy of the private keys for the pre-funded accounts.
func (n *Node) Keys() []*ecdsa.PrivateKey {
	cpy := make([]*ecdsa.PrivateKey, len(n.keys))
	copy(cpy, n.keys)
	return cpy
}

// Done returns a channel that is closed when the node process exits.
func (n *Node) Done() <-chan struct{} {
	return n.exited
}

// Shutdown interrupts the node process and waits for it to exit, killing it
// if it doesn't stop within the grace period. It is safe to call more than
// once.
func (n *Node) Shutdown() error {
	var err error

	n.once.Do(func() {
		n.evHandler("devnode: shutdown: started")
		defer n.evHandler("devnode: shutdown: completed")

		select {
		case <-n.exited:
			return
		default:
		}

		if sigErr := n.cmd.Process.Signal(os.Interrupt); sigErr != nil {
			n.evHandler("devnode: shutdown: interrupt failed: %s", sigErr)
		}

		select {
		case <-n.exited:
		case <-time.After(shutdownGrace):
			n.evHandler("devnode: shutdown: killing process")
			if killErr := n.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
				err = fmt.Errorf("killing node: %w", killErr)
				return
			}
			<-n.exited
		}
	})

	return err
}

// =============================================================================

// args builds the command line for the node process.
func args(cfg Config, port int) []string {
	a := []string{
		"--host", cfg.Host,
		"--port", strconv.Itoa(port),
		"--chain-id", strconv.FormatUint(cfg.ChainID, 10),
	}

	if cfg.Accounts > 0 {
		a = append(a, "--accounts", strconv.Itoa(cfg.Accounts))
	}

	// Without a block time the node mines a block for every transaction.
	if secs := int64(cfg.BlockTime / time.Second); secs > 0 {
		a = append(a, "--block-time", strconv.FormatInt(secs, 10))
	}

	return a
}

// freePort asks the kernel for an unused port on the host.
func freePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port, nil
}
