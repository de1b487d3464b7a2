package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ardanlabs/ethtransfer/foundation/transfer"
	"github.com/ethereum/go-ethereum/common"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func execute(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func Test_GenerateAccount(t *testing.T) {
	t.Log("Given the need to manage wallet keys on disk.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen generating a key and printing its account.", testID)
		{
			dir := t.TempDir()

			generated, err := execute(t, "generate", "--account", "bill", "--account-path", dir)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to generate a key: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to generate a key.", success, testID)

			if !common.IsHexAddress(generated) {
				t.Fatalf("\t%s\tTest %d:\tShould print the new address, got %q.", failed, testID, generated)
			}

			account, err := execute(t, "account", "--account", "bill.ecdsa", "--account-path", dir)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to print the account: %s", failed, testID, err)
			}

			if account != generated {
				t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, account)
				t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, generated)
				t.Fatalf("\t%s\tTest %d:\tShould print the same account.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould print the same account.", success, testID)

			if _, err := execute(t, "generate", "--account", "bill", "--account-path", dir); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould refuse to overwrite a key.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould refuse to overwrite a key.", success, testID)
		}
	}
}

func Test_SendValidation(t *testing.T) {
	t.Log("Given the need to validate a transfer before contacting the node.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the recipient is malformed.", testID)
		{
			dir := t.TempDir()

			if _, err := execute(t, "generate", "--account", "bill", "--account-path", dir); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to generate a key: %s", failed, testID, err)
			}

			_, err := execute(t, "send", "--account", "bill", "--account-path", dir, "--to", "bob", "--value", "10", "--url", "http://127.0.0.1:1")
			if !errors.Is(err, transfer.ErrInvalidRequest) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the transfer: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the transfer.", success, testID)
		}
	}
}
