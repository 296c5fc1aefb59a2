package core

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxNameLength        = 255
	MaxTitleLength       = 255
	MaxDescriptionLength = 2047
)

type (
	Date struct {
		time.Time
	}

	// Account is a named balance-bearing container. CurrentValue is a cached
	// aggregate: InitialValue plus the value of every transaction posted to it.
	Account struct {
		ID           int64
		OwnerID      int64
		Name         string
		InitialValue Money
		CurrentValue *Money // nil until seeded
	}

	Category struct {
		ID      int64
		OwnerID int64
		Name    string
	}

	Transaction struct {
		ID          int64
		Title       string
		Description string
		AccountID   int64
		Value       Money // positive = deposit, negative = withdrawal
		CategoryID  *int64
		Date        Date
	}

	// Transfer links a deposit and a withdrawal that already exist.
	Transfer struct {
		ID               int64
		TransactionInID  int64
		TransactionOutID int64
	}
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD calendar day.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(time.DateOnly)
}

// Today returns the current UTC calendar day.
func Today() Date {
	y, m, d := time.Now().UTC().Date()
	return NewDate(y, int(m), d)
}

// SeedInitialBalance sets CurrentValue from InitialValue when it is absent.
// It is a one-time seed: an already seeded account is left untouched.
func (a *Account) SeedInitialBalance() {
	if a.CurrentValue != nil {
		return
	}
	v := a.InitialValue
	a.CurrentValue = &v
}

// Balance returns the cached running balance, falling back to InitialValue
// for an account that was never seeded.
func (a Account) Balance() Money {
	if a.CurrentValue == nil {
		return a.InitialValue
	}
	return *a.CurrentValue
}

func (a Account) Validate() error {
	var v ValidationError
	v.checkName("name", a.Name)
	if a.OwnerID <= 0 {
		v.Add("owner", "owner is required")
	}
	return v.OrNil()
}

func (c Category) Validate() error {
	var v ValidationError
	v.checkName("name", c.Name)
	if c.OwnerID <= 0 {
		v.Add("owner", "owner is required")
	}
	return v.OrNil()
}

// IsDeposit reports whether the transaction adds money to its account.
func (t Transaction) IsDeposit() bool {
	return t.Value.Cents > 0
}

// IsWithdrawal reports whether the transaction takes money from its account.
func (t Transaction) IsWithdrawal() bool {
	return t.Value.Cents < 0
}

func (t Transaction) Validate() error {
	var v ValidationError
	if strings.TrimSpace(t.Title) == "" {
		v.Add("title", "title is required")
	} else if utf8.RuneCountInString(t.Title) > MaxTitleLength {
		v.Addf("title", "title too long (max %d characters)", MaxTitleLength)
	}
	if utf8.RuneCountInString(t.Description) > MaxDescriptionLength {
		v.Addf("description", "description too long (max %d characters)", MaxDescriptionLength)
	}
	if t.AccountID <= 0 {
		v.Add("account", "account is required")
	}
	if t.CategoryID != nil && *t.CategoryID <= 0 {
		v.Add("category", "category reference is invalid")
	}
	if t.Date.IsZero() {
		v.Add("date", "date is required")
	}
	return v.OrNil()
}

func (v *ValidationError) checkName(field, name string) {
	if strings.TrimSpace(name) == "" {
		v.Add(field, "name is required")
		return
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		v.Addf(field, "name too long (max %d characters)", MaxNameLength)
	}
}
