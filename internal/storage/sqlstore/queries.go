package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledger/internal/core"
	"ledger/internal/repository"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db      DBTX
	dialect Dialect
}

var _ repository.Tx = (*Queries)(nil)

func New(db DBTX, dialect Dialect) *Queries {
	return &Queries{db: db, dialect: dialect}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx, dialect: q.dialect}
}

const (
	accountColumns     = "id, owner_id, name, initial_value_cents, current_value_cents"
	categoryColumns    = "id, owner_id, name"
	transactionColumns = "id, title, description, account_id, value_cents, category_id, date"
	transferColumns    = "id, transaction_in_id, transaction_out_id"
)

func (q *Queries) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.dialect.rebind(query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.dialect.rebind(query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return q.db.QueryRowContext(ctx, q.dialect.rebind(query), args...)
}

// wrap annotates err with what was being done. Lock and busy timeouts
// become a retryable ConflictError.
func (q *Queries) wrap(err error, format string, args ...interface{}) error {
	what := fmt.Sprintf(format, args...)
	if q.dialect.classify(err) == KindBusy {
		return &core.ConflictError{Resource: what, Reason: "database lock not acquired", Err: err}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func affected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// dateColumn scans a calendar day stored either as TEXT or as a DATE.
type dateColumn struct {
	d *core.Date
}

func (c dateColumn) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		y, m, d := v.Date()
		*c.d = core.NewDate(y, int(m), d)
		return nil
	case string:
		return c.parse(v)
	case []byte:
		return c.parse(string(v))
	default:
		return fmt.Errorf("unsupported date column type %T", src)
	}
}

func (c dateColumn) parse(s string) error {
	if len(s) > len(time.DateOnly) {
		s = s[:len(time.DateOnly)]
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return fmt.Errorf("parse date column: %w", err)
	}
	*c.d = d
	return nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func scanAccount(s scanner) (core.Account, error) {
	var (
		a       core.Account
		current sql.NullInt64
	)
	if err := s.Scan(&a.ID, &a.OwnerID, &a.Name, &a.InitialValue.Cents, &current); err != nil {
		return core.Account{}, err
	}
	if current.Valid {
		v := core.Cents(current.Int64)
		a.CurrentValue = &v
	}
	return a, nil
}

func scanCategory(s scanner) (core.Category, error) {
	var c core.Category
	err := s.Scan(&c.ID, &c.OwnerID, &c.Name)
	return c, err
}

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		t        core.Transaction
		category sql.NullInt64
	)
	if err := s.Scan(&t.ID, &t.Title, &t.Description, &t.AccountID, &t.Value.Cents, &category, dateColumn{&t.Date}); err != nil {
		return core.Transaction{}, err
	}
	if category.Valid {
		id := category.Int64
		t.CategoryID = &id
	}
	return t, nil
}

func scanTransfer(s scanner) (core.Transfer, error) {
	var tf core.Transfer
	err := s.Scan(&tf.ID, &tf.TransactionInID, &tf.TransactionOutID)
	return tf, err
}

func (q *Queries) oneAccount(ctx context.Context, notFound error, what, query string, args ...interface{}) (core.Account, error) {
	a, err := scanAccount(q.queryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, notFound
	}
	if err != nil {
		return core.Account{}, q.wrap(err, "%s", what)
	}
	return a, nil
}

func (q *Queries) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	return q.oneAccount(ctx, &core.NotFoundError{Entity: "account", ID: id}, fmt.Sprintf("get account %d", id),
		"SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
}

func (q *Queries) LockAccount(ctx context.Context, id int64) (core.Account, error) {
	return q.oneAccount(ctx, &core.NotFoundError{Entity: "account", ID: id}, fmt.Sprintf("lock account %d", id),
		"SELECT "+accountColumns+" FROM accounts WHERE id = ?"+q.dialect.LockClause, id)
}

func (q *Queries) FindAccountByName(ctx context.Context, ownerID int64, name string) (core.Account, error) {
	return q.oneAccount(ctx, &core.NotFoundError{Entity: "account", Name: name}, "find account by name",
		"SELECT "+accountColumns+" FROM accounts WHERE owner_id = ? AND name = ?", ownerID, name)
}

func (q *Queries) ListAccounts(ctx context.Context, ownerID int64) ([]core.Account, error) {
	rows, err := q.query(ctx, "SELECT "+accountColumns+" FROM accounts WHERE owner_id = ? ORDER BY name, id", ownerID)
	if err != nil {
		return nil, q.wrap(err, "list accounts")
	}
	defer rows.Close()

	accounts := make([]core.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, q.wrap(err, "list accounts")
	}
	return accounts, nil
}

func (q *Queries) ListAccountIDs(ctx context.Context) ([]int64, error) {
	rows, err := q.query(ctx, "SELECT id FROM accounts ORDER BY id")
	if err != nil {
		return nil, q.wrap(err, "list account ids")
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, q.wrap(err, "list account ids")
	}
	return ids, nil
}

func (q *Queries) InsertAccount(ctx context.Context, a core.Account) (int64, error) {
	var current sql.NullInt64
	if a.CurrentValue != nil {
		current = sql.NullInt64{Int64: a.CurrentValue.Cents, Valid: true}
	}

	var id int64
	err := q.queryRow(ctx,
		"INSERT INTO accounts (owner_id, name, initial_value_cents, current_value_cents) VALUES (?, ?, ?, ?) RETURNING id",
		a.OwnerID, a.Name, a.InitialValue.Cents, current).Scan(&id)
	if err != nil {
		if q.dialect.classify(err) == KindUnique {
			return 0, &core.DuplicateNameError{Entity: "account", OwnerID: a.OwnerID, Name: a.Name}
		}
		return 0, q.wrap(err, "insert account")
	}
	return id, nil
}

func (q *Queries) UpdateAccount(ctx context.Context, a core.Account) error {
	res, err := q.exec(ctx, "UPDATE accounts SET name = ?, initial_value_cents = ? WHERE id = ?",
		a.Name, a.InitialValue.Cents, a.ID)
	if err != nil {
		if q.dialect.classify(err) == KindUnique {
			return &core.DuplicateNameError{Entity: "account", OwnerID: a.OwnerID, Name: a.Name}
		}
		return q.wrap(err, "update account %d", a.ID)
	}
	return affected(res, &core.NotFoundError{Entity: "account", ID: a.ID})
}

func (q *Queries) SetAccountBalance(ctx context.Context, id int64, balance core.Money) error {
	res, err := q.exec(ctx, "UPDATE accounts SET current_value_cents = ? WHERE id = ?", balance.Cents, id)
	if err != nil {
		return q.wrap(err, "set balance of account %d", id)
	}
	return affected(res, &core.NotFoundError{Entity: "account", ID: id})
}

// DeleteAccount removes the account's transactions first, then the account.
// A transaction linked by a transfer blocks the whole delete.
func (q *Queries) DeleteAccount(ctx context.Context, id int64) error {
	if _, err := q.exec(ctx, "DELETE FROM transactions WHERE account_id = ?", id); err != nil {
		if q.dialect.classify(err) == KindForeignKey {
			return &core.ProtectedReferenceError{Entity: "account", ID: id, ReferencedBy: "transfer"}
		}
		return q.wrap(err, "delete transactions of account %d", id)
	}
	res, err := q.exec(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return q.wrap(err, "delete account %d", id)
	}
	return affected(res, &core.NotFoundError{Entity: "account", ID: id})
}

func (q *Queries) GetCategory(ctx context.Context, id int64) (core.Category, error) {
	c, err := scanCategory(q.queryRow(ctx, "SELECT "+categoryColumns+" FROM categories WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, &core.NotFoundError{Entity: "category", ID: id}
	}
	if err != nil {
		return core.Category{}, q.wrap(err, "get category %d", id)
	}
	return c, nil
}

func (q *Queries) FindCategoryByName(ctx context.Context, ownerID int64, name string) (core.Category, error) {
	c, err := scanCategory(q.queryRow(ctx,
		"SELECT "+categoryColumns+" FROM categories WHERE owner_id = ? AND name = ?", ownerID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, &core.NotFoundError{Entity: "category", Name: name}
	}
	if err != nil {
		return core.Category{}, q.wrap(err, "find category by name")
	}
	return c, nil
}

func (q *Queries) ListCategories(ctx context.Context, ownerID int64) ([]core.Category, error) {
	rows, err := q.query(ctx, "SELECT "+categoryColumns+" FROM categories WHERE owner_id = ? ORDER BY name, id", ownerID)
	if err != nil {
		return nil, q.wrap(err, "list categories")
	}
	defer rows.Close()

	categories := make([]core.Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, q.wrap(err, "list categories")
	}
	return categories, nil
}

func (q *Queries) InsertCategory(ctx context.Context, c core.Category) (int64, error) {
	var id int64
	err := q.queryRow(ctx, "INSERT INTO categories (owner_id, name) VALUES (?, ?) RETURNING id",
		c.OwnerID, c.Name).Scan(&id)
	if err != nil {
		if q.dialect.classify(err) == KindUnique {
			return 0, &core.DuplicateNameError{Entity: "category", OwnerID: c.OwnerID, Name: c.Name}
		}
		return 0, q.wrap(err, "insert category")
	}
	return id, nil
}

func (q *Queries) UpdateCategory(ctx context.Context, c core.Category) error {
	res, err := q.exec(ctx, "UPDATE categories SET name = ? WHERE id = ?", c.Name, c.ID)
	if err != nil {
		if q.dialect.classify(err) == KindUnique {
			return &core.DuplicateNameError{Entity: "category", OwnerID: c.OwnerID, Name: c.Name}
		}
		return q.wrap(err, "update category %d", c.ID)
	}
	return affected(res, &core.NotFoundError{Entity: "category", ID: c.ID})
}

// DeleteCategory clears the category from its transactions before removing
// it, so the outcome does not depend on ON DELETE SET NULL support.
func (q *Queries) DeleteCategory(ctx context.Context, id int64) error {
	if _, err := q.exec(ctx, "UPDATE transactions SET category_id = NULL WHERE category_id = ?", id); err != nil {
		return q.wrap(err, "clear category %d", id)
	}
	res, err := q.exec(ctx, "DELETE FROM categories WHERE id = ?", id)
	if err != nil {
		return q.wrap(err, "delete category %d", id)
	}
	return affected(res, &core.NotFoundError{Entity: "category", ID: id})
}

func (q *Queries) oneTransaction(ctx context.Context, id int64, what, query string) (core.Transaction, error) {
	t, err := scanTransaction(q.queryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, &core.NotFoundError{Entity: "transaction", ID: id}
	}
	if err != nil {
		return core.Transaction{}, q.wrap(err, "%s transaction %d", what, id)
	}
	return t, nil
}

func (q *Queries) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	return q.oneTransaction(ctx, id, "get", "SELECT "+transactionColumns+" FROM transactions WHERE id = ?")
}

func (q *Queries) LockTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	return q.oneTransaction(ctx, id, "lock", "SELECT "+transactionColumns+" FROM transactions WHERE id = ?"+q.dialect.LockClause)
}

func (q *Queries) ListTransactions(ctx context.Context, accountID int64) ([]core.Transaction, error) {
	rows, err := q.query(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE account_id = ? ORDER BY date, id", accountID)
	if err != nil {
		return nil, q.wrap(err, "list transactions of account %d", accountID)
	}
	defer rows.Close()

	transactions := make([]core.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, q.wrap(err, "list transactions of account %d", accountID)
	}
	return transactions, nil
}

func (q *Queries) SumTransactions(ctx context.Context, accountID int64) (core.Money, error) {
	var sum int64
	err := q.queryRow(ctx,
		"SELECT CAST(COALESCE(SUM(value_cents), 0) AS BIGINT) FROM transactions WHERE account_id = ?",
		accountID).Scan(&sum)
	if err != nil {
		return core.Money{}, q.wrap(err, "sum transactions of account %d", accountID)
	}
	return core.Cents(sum), nil
}

// transactionRefError maps a foreign key failure on write: the account or
// category went away after the caller checked it.
func (q *Queries) transactionRefError(err error, format string, args ...interface{}) error {
	if q.dialect.classify(err) == KindForeignKey {
		return &core.ConflictError{
			Resource: fmt.Sprintf(format, args...),
			Reason:   "referenced account or category no longer exists",
			Err:      fmt.Errorf("%w: %w", core.ErrStaleReference, err),
		}
	}
	return q.wrap(err, format, args...)
}

func (q *Queries) InsertTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	var id int64
	err := q.queryRow(ctx,
		"INSERT INTO transactions (title, description, account_id, value_cents, category_id, date) VALUES (?, ?, ?, ?, ?, ?) RETURNING id",
		t.Title, t.Description, t.AccountID, t.Value.Cents, nullableID(t.CategoryID), t.Date.String()).Scan(&id)
	if err != nil {
		return 0, q.transactionRefError(err, "insert transaction")
	}
	return id, nil
}

func (q *Queries) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	res, err := q.exec(ctx,
		"UPDATE transactions SET title = ?, description = ?, account_id = ?, value_cents = ?, category_id = ?, date = ? WHERE id = ?",
		t.Title, t.Description, t.AccountID, t.Value.Cents, nullableID(t.CategoryID), t.Date.String(), t.ID)
	if err != nil {
		return q.transactionRefError(err, "update transaction %d", t.ID)
	}
	return affected(res, &core.NotFoundError{Entity: "transaction", ID: t.ID})
}

func (q *Queries) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := q.exec(ctx, "DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		if q.dialect.classify(err) == KindForeignKey {
			return &core.ProtectedReferenceError{Entity: "transaction", ID: id, ReferencedBy: "transfer"}
		}
		return q.wrap(err, "delete transaction %d", id)
	}
	return affected(res, &core.NotFoundError{Entity: "transaction", ID: id})
}

func (q *Queries) GetTransfer(ctx context.Context, id int64) (core.Transfer, error) {
	tf, err := scanTransfer(q.queryRow(ctx, "SELECT "+transferColumns+" FROM transfers WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transfer{}, &core.NotFoundError{Entity: "transfer", ID: id}
	}
	if err != nil {
		return core.Transfer{}, q.wrap(err, "get transfer %d", id)
	}
	return tf, nil
}

func (q *Queries) FindTransferByTransaction(ctx context.Context, transactionID int64) (core.Transfer, error) {
	tf, err := scanTransfer(q.queryRow(ctx,
		"SELECT "+transferColumns+" FROM transfers WHERE transaction_in_id = ? OR transaction_out_id = ? ORDER BY id LIMIT 1",
		transactionID, transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transfer{}, &core.NotFoundError{Entity: "transfer"}
	}
	if err != nil {
		return core.Transfer{}, q.wrap(err, "find transfer of transaction %d", transactionID)
	}
	return tf, nil
}

func (q *Queries) CountTransfersByAccount(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM transfers tf
		JOIN transactions t_in ON t_in.id = tf.transaction_in_id
		JOIN transactions t_out ON t_out.id = tf.transaction_out_id
		WHERE t_in.account_id = ? OR t_out.account_id = ?`, accountID, accountID).Scan(&n)
	if err != nil {
		return 0, q.wrap(err, "count transfers of account %d", accountID)
	}
	return n, nil
}

func (q *Queries) transferWriteError(err error, format string, args ...interface{}) error {
	switch q.dialect.classify(err) {
	case KindUnique:
		return &core.ConflictError{
			Resource: fmt.Sprintf(format, args...),
			Reason:   "transaction already linked by another transfer",
			Err:      err,
		}
	case KindCheck:
		return core.NewValidationError("transaction_out", "transfer legs must be different transactions")
	case KindForeignKey:
		return &core.NotFoundError{Entity: "transaction"}
	}
	return q.wrap(err, format, args...)
}

func (q *Queries) InsertTransfer(ctx context.Context, tf core.Transfer) (int64, error) {
	var id int64
	err := q.queryRow(ctx,
		"INSERT INTO transfers (transaction_in_id, transaction_out_id) VALUES (?, ?) RETURNING id",
		tf.TransactionInID, tf.TransactionOutID).Scan(&id)
	if err != nil {
		return 0, q.transferWriteError(err, "insert transfer")
	}
	return id, nil
}

func (q *Queries) UpdateTransfer(ctx context.Context, tf core.Transfer) error {
	res, err := q.exec(ctx, "UPDATE transfers SET transaction_in_id = ?, transaction_out_id = ? WHERE id = ?",
		tf.TransactionInID, tf.TransactionOutID, tf.ID)
	if err != nil {
		return q.transferWriteError(err, "update transfer %d", tf.ID)
	}
	return affected(res, &core.NotFoundError{Entity: "transfer", ID: tf.ID})
}

func (q *Queries) DeleteTransfer(ctx context.Context, id int64) error {
	res, err := q.exec(ctx, "DELETE FROM transfers WHERE id = ?", id)
	if err != nil {
		return q.wrap(err, "delete transfer %d", id)
	}
	return affected(res, &core.NotFoundError{Entity: "transfer", ID: id})
}
