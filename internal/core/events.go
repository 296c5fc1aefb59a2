package core

// Operation names the mutation that moved a balance.
type Operation string

const (
	OpCreate    Operation = "create"
	OpUpdate    Operation = "update"
	OpMoveOut   Operation = "move_out"
	OpMoveIn    Operation = "move_in"
	OpDelete    Operation = "delete"
	OpReconcile Operation = "reconcile"
	OpRebase    Operation = "rebase"
)

// BalanceChange describes one committed change of an account's running balance.
type BalanceChange struct {
	AccountID     int64
	TransactionID int64 // zero for reconcile and rebase
	Operation     Operation
	Delta         Money
	Balance       Money
}

// Reconciliation compares an account's cached balance with the value derived
// from its transactions.
type Reconciliation struct {
	AccountID int64
	Stored    Money
	Expected  Money
	Repaired  bool
}

// Drift is Expected minus Stored.
func (r Reconciliation) Drift() Money {
	return Money{Cents: r.Expected.Cents - r.Stored.Cents}
}

// Consistent reports whether the cached balance matches the transaction set.
func (r Reconciliation) Consistent() bool {
	return r.Stored == r.Expected
}
