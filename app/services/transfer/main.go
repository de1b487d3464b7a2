// This program starts a local development node and moves funds through a
// Ledger hardware wallet: the first dev account pays the ledger account and
// the ledger account then pays a fixed recipient. Each transfer is confirmed
// before the next one is built.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/ethtransfer/app/services/transfer/handlers"
	"github.com/ardanlabs/ethtransfer/business/core/flow"
	"github.com/ardanlabs/ethtransfer/foundation/devnode"
	"github.com/ardanlabs/ethtransfer/foundation/events"
	"github.com/ardanlabs/ethtransfer/foundation/logger"
	"github.com/ardanlabs/ethtransfer/foundation/nameservice"
	"github.com/ardanlabs/ethtransfer/foundation/signer"
	"github.com/ardanlabs/ethtransfer/foundation/transfer"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("TRANSFER")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Node struct {
			Binary       string        `conf:"default:anvil"`
			Host         string        `conf:"default:127.0.0.1"`
			Port         int           `conf:"default:0"`
			ChainID      uint64        `conf:"default:31337"`
			Accounts     int           `conf:"default:10"`
			BlockTime    time.Duration `conf:"default:1s"`
			StartTimeout time.Duration `conf:"default:10s"`
		}
		Ledger struct {
			Path        string        `conf:"default:m/44'/60'/0'/0/0"`
			OpenTimeout time.Duration `conf:"default:30s"`
			SignTimeout time.Duration `conf:"default:2m"`
		}
		Transfer struct {
			GasPrice       string        `conf:"default:20000000000"`
			GasLimit       uint64        `conf:"default:21000"`
			LedgerValue    string        `conf:"default:420000000000000"`
			Recipient      string        `conf:"default:0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045"`
			RecipientValue string        `conf:"default:69000000000000"`
			PollInterval   time.Duration `conf:"default:500ms"`
			ConfirmTimeout time.Duration `conf:"default:2m"`
		}
		Web struct {
			EventsHost      string
			ShutdownTimeout time.Duration `conf:"default:5s"`
		}
		NameService struct {
			Folder string
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	const prefix = "TRANSFER"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// An interrupt or terminate signal cancels whatever the run is waiting
	// on so the deferred cleanup still happens.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Every message produced by the packages is logged and handed to any
	// websocket client watching the run.
	traceID := uuid.NewString()
	evts := events.New()

	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", traceID)
		evts.Send(events.Event{TraceID: traceID, Message: s})
	}

	ns, err := nameservice.New(cfg.NameService.Folder)
	if err != nil {
		return fmt.Errorf("unable to load account name service: %w", err)
	}

	// =========================================================================
	// Start Progress Service

	if cfg.Web.EventsHost != "" {
		srv := http.Server{
			Addr:     cfg.Web.EventsHost,
			Handler:  handlers.Mux(handlers.MuxConfig{Build: build, Log: log, Evts: evts}),
			ErrorLog: zap.NewStdLog(log.Desugar()),
		}

		go func() {
			log.Infow("startup", "status", "progress router started", "host", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("shutdown", "status", "progress router closed", "host", srv.Addr, "ERROR", err)
			}
		}()

		defer func() {
			log.Infow("shutdown", "status", "shutdown progress router started")

			// Close the event channels first so websocket clients are told
			// the run is complete and their handlers return.
			evts.Shutdown()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				srv.Close()
			}
		}()
	}

	// =========================================================================
	// Node Support

	log.Infow("startup", "status", "starting development node", "binary", cfg.Node.Binary)

	node, err := devnode.Start(ctx, devnode.Config{
		Binary:       cfg.Node.Binary,
		Host:         cfg.Node.Host,
		Port:         cfg.Node.Port,
		ChainID:      cfg.Node.ChainID,
		Accounts:     cfg.Node.Accounts,
		BlockTime:    cfg.Node.BlockTime,
		StartTimeout: cfg.Node.StartTimeout,
		EvHandler:    ev,
	})
	if err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	defer func() {
		if err := node.Shutdown(); err != nil {
			log.Errorw("shutdown", "status", "node shutdown", "ERROR", err)
		}
	}()

	client, err := ethclient.DialContext(ctx, node.Endpoint())
	if err != nil {
		return fmt.Errorf("dialing node %s: %w", node.Endpoint(), err)
	}
	defer client.Close()

	// =========================================================================
	// Signer Support

	keys := node.Keys()
	if len(keys) == 0 {
		return errors.New("node has no funded accounts")
	}

	alice := signer.NewKey(keys[0])
	ns.Add(alice.Address(), "alice")

	log.Infow("startup", "status", "waiting for ledger", "path", cfg.Ledger.Path, "timeout", cfg.Ledger.OpenTimeout)

	// The ledger must be ready before anything is submitted since its
	// address receives the first transfer.
	ledger, err := signer.NewLedger(ctx, signer.LedgerConfig{
		Path:        cfg.Ledger.Path,
		OpenTimeout: cfg.Ledger.OpenTimeout,
		SignTimeout: cfg.Ledger.SignTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer ledger.Close()

	ns.Add(ledger.Address(), "ledger")

	for account, name := range ns.Copy() {
		log.Infow("startup", "status", "nameservice", "name", name, "account", account)
	}

	// =========================================================================
	// Transfers

	// Validate both legs up front so a bad configuration fails before the
	// first transfer is sent.
	legs := []transfer.NewTransfer{
		{
			From:     alice.Address().Hex(),
			To:       ledger.Address().Hex(),
			Value:    cfg.Transfer.LedgerValue,
			GasPrice: cfg.Transfer.GasPrice,
			GasLimit: cfg.Transfer.GasLimit,
		},
		{
			From:     ledger.Address().Hex(),
			To:       cfg.Transfer.Recipient,
			Value:    cfg.Transfer.RecipientValue,
			GasPrice: cfg.Transfer.GasPrice,
			GasLimit: cfg.Transfer.GasLimit,
		},
	}

	reqs := make([]transfer.Request, len(legs))
	for i, leg := range legs {
		if reqs[i], err = leg.Request(); err != nil {
			return fmt.Errorf("transfer %d: %w", i, err)
		}
	}

	if ns.Lookup(reqs[1].To()) == reqs[1].To().Hex() {
		ns.Add(reqs[1].To(), "recipient")
	}

	sub, err := transfer.New(ctx, transfer.Config{
		Client:         client,
		PollInterval:   cfg.Transfer.PollInterval,
		ConfirmTimeout: cfg.Transfer.ConfirmTimeout,
		EvHandler:      ev,
	})
	if err != nil {
		return fmt.Errorf("constructing submitter: %w", err)
	}

	results, err := flow.Run(ctx, flow.Config{
		Submitter: sub,
		GasPrice:  reqs[0].GasPrice(),
		GasLimit:  reqs[0].GasLimit(),
		Transfers: []flow.Transfer{
			{Name: "alice->ledger", From: alice, To: reqs[0].To(), Value: reqs[0].Value()},
			{Name: "ledger->recipient", From: ledger, To: reqs[1].To(), Value: reqs[1].Value()},
		},
		EvHandler: ev,
	})

	// Report whatever was confirmed, even when the run stopped early.
	for _, res := range results {
		log.Infow("transfer",
			"name", res.Name,
			"from", ns.Lookup(res.Request.From()),
			"to", ns.Lookup(res.Request.To()),
			"value", res.Request.Value(),
			"tx", res.TxHash,
			"block", res.Receipt.BlockNumber,
			"gasused", res.Receipt.GasUsed,
			"confirmed", res.ConfirmedAt,
		)
	}

	if err != nil {
		return fmt.Errorf("running transfers: completed[%d]: %w", len(results), err)
	}

	return nil
}
