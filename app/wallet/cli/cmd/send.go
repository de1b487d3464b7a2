package cmd

import (
	"fmt"

	"github.com/ardanlabs/ethtransfer/foundation/signer"
	"github.com/ardanlabs/ethtransfer/foundation/transfer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
)

var (
	to           string
	value        string
	gasPrice     string
	gasLimit     uint64
	sendKeystore string
	sendFrom     string
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send value and wait for it to be confirmed",
	RunE:  sendRun,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Address receiving the value.")
	sendCmd.Flags().StringVarP(&value, "value", "v", "0", "Value to send in wei.")
	sendCmd.Flags().StringVarP(&gasPrice, "gas-price", "g", "20000000000", "Gas price in wei.")
	sendCmd.Flags().Uint64VarP(&gasLimit, "gas-limit", "l", 21_000, "Gas limit.")
	sendCmd.Flags().StringVar(&sendKeystore, "keystore", "", "Sign with an account from this keystore directory instead of the key file.")
	sendCmd.Flags().StringVar(&sendFrom, "from", "", "Keystore account to send from.")
}

func sendRun(cmd *cobra.Command, args []string) error {
	sgn, err := sendSigner()
	if err != nil {
		return err
	}
	defer sgn.Close()

	nt := transfer.NewTransfer{
		From:     sgn.Address().Hex(),
		To:       to,
		Value:    value,
		GasPrice: gasPrice,
		GasLimit: gasLimit,
	}

	req, err := nt.Request()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return err
	}
	defer client.Close()

	sub, err := transfer.New(ctx, transfer.Config{
		Client: client,
		EvHandler: func(v string, args ...any) {
			fmt.Fprintln(cmd.ErrOrStderr(), fmt.Sprintf(v, args...))
		},
	})
	if err != nil {
		return err
	}

	receipt, err := sub.SendAndConfirm(ctx, sgn, req)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "tx %s included in block %d\n", receipt.TxHash, receipt.BlockNumber)
	return nil
}

// sendSigner picks the key file or the keystore depending on the flags.
func sendSigner() (signer.Signer, error) {
	if sendKeystore == "" {
		sgn, err := signer.LoadKey(getPrivateKeyPath())
		if err != nil {
			return nil, err
		}
		return sgn, nil
	}

	if !common.IsHexAddress(sendFrom) {
		return nil, fmt.Errorf("invalid from address %q", sendFrom)
	}

	password, err := getPassPhrase("Please enter the password to unlock the account:", false)
	if err != nil {
		return nil, err
	}

	sgn, err := signer.NewKeystore(sendKeystore, common.HexToAddress(sendFrom), password)
	if err != nil {
		return nil, err
	}
	return sgn, nil
}
