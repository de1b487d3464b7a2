package cmd

import (
	"fmt"

	"github.com/ardanlabs/ethtransfer/foundation/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
)

var balanceAddress string

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print the balance in wei.",
	RunE:  balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().StringVar(&balanceAddress, "address", "", "Address to query instead of the wallet account.")
}

func balanceRun(cmd *cobra.Command, args []string) error {
	var account common.Address

	switch balanceAddress {
	case "":
		sgn, err := signer.LoadKey(getPrivateKeyPath())
		if err != nil {
			return err
		}
		account = sgn.Address()

	default:
		if !common.IsHexAddress(balanceAddress) {
			return fmt.Errorf("invalid address %q", balanceAddress)
		}
		account = common.HexToAddress(balanceAddress)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return err
	}
	defer client.Close()

	balance, err := client.BalanceAt(ctx, account, nil)
	if err != nil {
		return fmt.Errorf("reading balance for %s: %w", account, err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "For Account:", account)
	fmt.Fprintln(cmd.OutOrStdout(), balance)
	return nil
}
