package core

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedInitialBalance(t *testing.T) {
	a := Account{OwnerID: 1, Name: "Wallet", InitialValue: Cents(500)}
	a.SeedInitialBalance()
	require.NotNil(t, a.CurrentValue)
	assert.Equal(t, Cents(500), a.Balance())

	// seeding is one-time only
	a.InitialValue = Cents(900)
	a.SeedInitialBalance()
	assert.Equal(t, Cents(500), a.Balance())
}

func TestTransactionDirection(t *testing.T) {
	dep := Transaction{Value: Cents(5)}
	wd := Transaction{Value: Cents(-5)}
	zero := Transaction{}

	assert.True(t, dep.IsDeposit())
	assert.False(t, dep.IsWithdrawal())
	assert.True(t, wd.IsWithdrawal())
	assert.False(t, wd.IsDeposit())
	assert.False(t, zero.IsDeposit())
	assert.False(t, zero.IsWithdrawal())
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		Title:     "Salary",
		AccountID: 1,
		Value:     Cents(300000),
		Date:      NewDate(2025, 6, 1),
	}
	require.NoError(t, good.Validate())

	bad := Transaction{
		Title:       "",
		Description: strings.Repeat("x", MaxDescriptionLength+1),
		CategoryID:  new(int64),
	}
	err := bad.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.ElementsMatch(t, []string{"title", "description", "account", "category", "date"}, verr.Fields())
}

func TestAccountAndCategoryValidate(t *testing.T) {
	require.NoError(t, Account{OwnerID: 1, Name: "Bank"}.Validate())
	require.NoError(t, Category{OwnerID: 1, Name: "Food"}.Validate())

	err := Account{Name: "  "}.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"name", "owner"}, verr.Fields())

	err = Category{OwnerID: 1, Name: strings.Repeat("n", MaxNameLength+1)}.Validate()
	require.ErrorIs(t, err, ErrValidation)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-02-28")
	require.NoError(t, err)
	assert.Equal(t, NewDate(2025, 2, 28), d)
	assert.Equal(t, "2025-02-28", d.String())

	_, err = ParseDate("28/02/2025")
	require.Error(t, err)
}

func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{&NotFoundError{Entity: "account", ID: 3}, ErrNotFound},
		{&ConflictError{Resource: "account 3"}, ErrConflict},
		{NewValidationError("value", "bad"), ErrValidation},
		{&DuplicateNameError{Entity: "account", OwnerID: 1, Name: "x"}, ErrDuplicateName},
		{&ProtectedReferenceError{Entity: "transaction", ID: 1, ReferencedBy: "transfer", ReferenceID: 2}, ErrProtectedReference},
	}
	for _, tc := range cases {
		wrapped := errors.Join(errors.New("context"), tc.err)
		assert.ErrorIs(t, wrapped, tc.sentinel, tc.err.Error())
	}

	assert.True(t, IsRetryable(&ConflictError{Resource: "account 1"}))
	assert.False(t, IsRetryable(&NotFoundError{Entity: "account", ID: 1}))
	assert.Equal(t, `account "Main" not found`, (&NotFoundError{Entity: "account", Name: "Main"}).Error())
}

func TestReconciliationDrift(t *testing.T) {
	r := Reconciliation{Stored: Cents(100), Expected: Cents(70)}
	assert.Equal(t, Cents(-30), r.Drift())
	assert.False(t, r.Consistent())
}
