package cmd

import (
	"fmt"
	"time"

	"github.com/ardanlabs/ethtransfer/foundation/signer"
	"github.com/spf13/cobra"
)

var (
	ledgerPath        string
	ledgerOpenTimeout time.Duration
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Print the account derived on a connected Ledger",
	RunE:  ledgerRun,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.Flags().StringVar(&ledgerPath, "path", signer.LedgerLivePath, "Derivation path of the account.")
	ledgerCmd.Flags().DurationVar(&ledgerOpenTimeout, "open-timeout", 30*time.Second, "Time to wait for the device.")
}

func ledgerRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	sgn, err := signer.NewLedger(ctx, signer.LedgerConfig{
		Path:        ledgerPath,
		OpenTimeout: ledgerOpenTimeout,
	})
	if err != nil {
		return err
	}
	defer sgn.Close()

	fmt.Fprintln(cmd.OutOrStdout(), sgn.Address())
	return nil
}
