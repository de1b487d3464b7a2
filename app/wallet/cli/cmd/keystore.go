package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/console/prompt"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	keystoreDir    string
	keystoreImport bool
)

var keystoreCmd = &cobra.Command{
	Use:   "keystore",
	Short: "Create an encrypted keystore account",
	RunE:  keystoreRun,
}

func init() {
	rootCmd.AddCommand(keystoreCmd)
	keystoreCmd.Flags().StringVar(&keystoreDir, "dir", "zblock/keystore", "Directory holding the keystore files.")
	keystoreCmd.Flags().BoolVar(&keystoreImport, "import", false, "Import the wallet's private key instead of generating one.")
}

func keystoreRun(cmd *cobra.Command, args []string) error {
	password, err := getPassPhrase("Please enter a password to encrypt the account:", true)
	if err != nil {
		return err
	}

	ks := keystore.NewKeyStore(keystoreDir, keystore.StandardScryptN, keystore.StandardScryptP)

	switch keystoreImport {
	case true:
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			return err
		}

		acc, err := ks.ImportECDSA(privateKey, password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Account imported: %s\n", acc.Address.Hex())

	default:
		acc, err := ks.NewAccount(password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "New account created: %s\n", acc.Address.Hex())
	}

	return nil
}

// getPassPhrase asks the terminal for a password, optionally twice.
func getPassPhrase(text string, confirmation bool) (string, error) {
	password, err := prompt.Stdin.PromptPassword(text + " ")
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	if confirmation {
		confirm, err := prompt.Stdin.PromptPassword("Repeat password: ")
		if err != nil {
			return "", fmt.Errorf("reading password confirmation: %w", err)
		}
		if password != confirm {
			return "", fmt.Errorf("passwords do not match")
		}
	}

	return password, nil
}
