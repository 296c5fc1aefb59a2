package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/core"
)

func TestValidateTransfer(t *testing.T) {
	leg := func(id, cents int64) core.Transaction {
		return core.Transaction{ID: id, Title: "leg", AccountID: 1, Value: core.Cents(cents), Date: core.NewDate(2024, 1, 1)}
	}

	tests := []struct {
		name   string
		in     core.Transaction
		out    core.Transaction
		fields []string
	}{
		{
			name: "equal and opposite",
			in:   leg(1, 500),
			out:  leg(2, -500),
		},
		{
			name:   "out is a deposit",
			in:     leg(1, 5),
			out:    leg(2, 5),
			fields: []string{"transaction_out", "value"},
		},
		{
			name:   "in is a withdrawal",
			in:     leg(1, -5),
			out:    leg(2, 5),
			fields: []string{"transaction_in", "transaction_out"},
		},
		{
			name:   "values differ",
			in:     leg(1, 500),
			out:    leg(2, -499),
			fields: []string{"value"},
		},
		{
			name:   "zero legs",
			in:     leg(1, 0),
			out:    leg(2, 0),
			fields: []string{"transaction_in", "transaction_out"},
		},
		{
			name:   "same transaction",
			in:     leg(3, 5),
			out:    leg(3, 5),
			fields: []string{"transaction_out", "transaction_out", "value"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransfer(tt.in, tt.out)
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}

			var verr *core.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.fields, verr.Fields())
		})
	}
}

func TestCheckLegIDs(t *testing.T) {
	assert.NoError(t, checkLegIDs(1, 2))

	var verr *core.ValidationError
	require.ErrorAs(t, checkLegIDs(0, -1), &verr)
	assert.Equal(t, []string{"transaction_in", "transaction_out"}, verr.Fields())
}

func TestAccountsResource(t *testing.T) {
	assert.Equal(t, "account 7", accountsResource([]int64{7, 7}))
	assert.Equal(t, "accounts 2,9", accountsResource([]int64{9, 2}))
}
