package validate_test

import (
	"testing"

	"github.com/ardanlabs/ethtransfer/foundation/validate"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

type model struct {
	Address string `json:"address" validate:"required,eth_addr"`
	Amount  string `json:"amount" validate:"required,number"`
	Ignored string `json:"-" validate:"omitempty,number"`
}

func Test_Check(t *testing.T) {
	t.Log("Given the need to validate models with readable errors.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the model is valid.", testID)
		{
			m := model{Address: "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045", Amount: "69000000000000"}
			if err := validate.Check(m); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould pass validation: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould pass validation.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the model is invalid.", testID)
		{
			err := validate.Check(model{Address: "0x1234", Amount: ""})
			if !validate.IsFieldErrors(err) {
				t.Fatalf("\t%s\tTest %d:\tShould return field errors: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould return field errors.", success, testID)

			fields := validate.GetFieldErrors(err).Fields()
			if len(fields) != 2 || fields["address"] == "" || fields["amount"] == "" {
				t.Fatalf("\t%s\tTest %d:\tShould key the errors by json name: %v", failed, testID, fields)
			}
			t.Logf("\t%s\tTest %d:\tShould key the errors by json name.", success, testID)
		}
	}
}
