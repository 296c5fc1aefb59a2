// Package memory is an in-process ledger store.
//
// It enforces the same constraints as the SQL stores (unique owner/name
// pairs, one transfer per leg, protected transfer legs) so it can stand in
// for them in tests and in throwaway runs. A single mutex is held for the
// whole of InTx, and the previous state is restored when fn fails.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"ledger/internal/core"
	"ledger/internal/repository"
)

type state struct {
	accounts     map[int64]core.Account
	categories   map[int64]core.Category
	transactions map[int64]core.Transaction
	transfers    map[int64]core.Transfer
	lastID       map[string]int64
}

func newState() *state {
	return &state{
		accounts:     map[int64]core.Account{},
		categories:   map[int64]core.Category{},
		transactions: map[int64]core.Transaction{},
		transfers:    map[int64]core.Transfer{},
		lastID:       map[string]int64{},
	}
}

func (s *state) clone() *state {
	return &state{
		accounts:     maps.Clone(s.accounts),
		categories:   maps.Clone(s.categories),
		transactions: maps.Clone(s.transactions),
		transfers:    maps.Clone(s.transfers),
		lastID:       maps.Clone(s.lastID),
	}
}

func (s *state) next(entity string) int64 {
	s.lastID[entity]++
	return s.lastID[entity]
}

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) Close() error { return nil }

// InTx runs fn with exclusive access to the store.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(ctx, &tx{st: s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// view locks the store for a single read. Call done when finished.
func (s *Store) view() (t *tx, done func()) {
	s.mu.Lock()
	return &tx{st: s.st}, s.mu.Unlock
}

func (s *Store) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	t, done := s.view()
	defer done()
	return t.GetAccount(ctx, id)
}

func (s *Store) FindAccountByName(ctx context.Context, ownerID int64, name string) (core.Account, error) {
	t, done := s.view()
	defer done()
	return t.FindAccountByName(ctx, ownerID, name)
}

func (s *Store) ListAccounts(ctx context.Context, ownerID int64) ([]core.Account, error) {
	t, done := s.view()
	defer done()
	return t.ListAccounts(ctx, ownerID)
}

func (s *Store) ListAccountIDs(ctx context.Context) ([]int64, error) {
	t, done := s.view()
	defer done()
	return t.ListAccountIDs(ctx)
}

func (s *Store) GetCategory(ctx context.Context, id int64) (core.Category, error) {
	t, done := s.view()
	defer done()
	return t.GetCategory(ctx, id)
}

func (s *Store) FindCategoryByName(ctx context.Context, ownerID int64, name string) (core.Category, error) {
	t, done := s.view()
	defer done()
	return t.FindCategoryByName(ctx, ownerID, name)
}

func (s *Store) ListCategories(ctx context.Context, ownerID int64) ([]core.Category, error) {
	t, done := s.view()
	defer done()
	return t.ListCategories(ctx, ownerID)
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	t, done := s.view()
	defer done()
	return t.GetTransaction(ctx, id)
}

func (s *Store) ListTransactions(ctx context.Context, accountID int64) ([]core.Transaction, error) {
	t, done := s.view()
	defer done()
	return t.ListTransactions(ctx, accountID)
}

func (s *Store) SumTransactions(ctx context.Context, accountID int64) (core.Money, error) {
	t, done := s.view()
	defer done()
	return t.SumTransactions(ctx, accountID)
}

func (s *Store) GetTransfer(ctx context.Context, id int64) (core.Transfer, error) {
	t, done := s.view()
	defer done()
	return t.GetTransfer(ctx, id)
}

func (s *Store) FindTransferByTransaction(ctx context.Context, transactionID int64) (core.Transfer, error) {
	t, done := s.view()
	defer done()
	return t.FindTransferByTransaction(ctx, transactionID)
}

func (s *Store) CountTransfersByAccount(ctx context.Context, accountID int64) (int64, error) {
	t, done := s.view()
	defer done()
	return t.CountTransfersByAccount(ctx, accountID)
}

// tx operates on the state directly. The owning Store holds the mutex.
type tx struct {
	st *state
}

func copyAccount(a core.Account) core.Account {
	if a.CurrentValue != nil {
		v := *a.CurrentValue
		a.CurrentValue = &v
	}
	return a
}

func copyTransaction(t core.Transaction) core.Transaction {
	if t.CategoryID != nil {
		v := *t.CategoryID
		t.CategoryID = &v
	}
	return t
}

func (t *tx) GetAccount(_ context.Context, id int64) (core.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return core.Account{}, &core.NotFoundError{Entity: "account", ID: id}
	}
	return copyAccount(a), nil
}

func (t *tx) LockAccount(ctx context.Context, id int64) (core.Account, error) {
	return t.GetAccount(ctx, id)
}

func (t *tx) FindAccountByName(_ context.Context, ownerID int64, name string) (core.Account, error) {
	name = strings.TrimSpace(name)
	for _, a := range t.st.accounts {
		if a.OwnerID == ownerID && a.Name == name {
			return copyAccount(a), nil
		}
	}
	return core.Account{}, &core.NotFoundError{Entity: "account", Name: name}
}

func (t *tx) ListAccounts(_ context.Context, ownerID int64) ([]core.Account, error) {
	out := make([]core.Account, 0)
	for _, a := range t.st.accounts {
		if a.OwnerID == ownerID {
			out = append(out, copyAccount(a))
		}
	}
	slices.SortFunc(out, func(a, b core.Account) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (t *tx) ListAccountIDs(_ context.Context) ([]int64, error) {
	ids := slices.Collect(maps.Keys(t.st.accounts))
	slices.Sort(ids)
	return ids, nil
}

func (t *tx) InsertAccount(_ context.Context, a core.Account) (int64, error) {
	if err := t.checkAccountName(0, a.OwnerID, a.Name); err != nil {
		return 0, err
	}
	a.ID = t.st.next("account")
	t.st.accounts[a.ID] = copyAccount(a)
	return a.ID, nil
}

func (t *tx) UpdateAccount(_ context.Context, a core.Account) error {
	cur, ok := t.st.accounts[a.ID]
	if !ok {
		return &core.NotFoundError{Entity: "account", ID: a.ID}
	}
	if err := t.checkAccountName(a.ID, cur.OwnerID, a.Name); err != nil {
		return err
	}
	cur.Name = a.Name
	cur.InitialValue = a.InitialValue
	t.st.accounts[a.ID] = cur
	return nil
}

func (t *tx) SetAccountBalance(_ context.Context, id int64, balance core.Money) error {
	cur, ok := t.st.accounts[id]
	if !ok {
		return &core.NotFoundError{Entity: "account", ID: id}
	}
	cur.CurrentValue = &balance
	t.st.accounts[id] = cur
	return nil
}

func (t *tx) DeleteAccount(_ context.Context, id int64) error {
	if _, ok := t.st.accounts[id]; !ok {
		return &core.NotFoundError{Entity: "account", ID: id}
	}
	for txID, tr := range t.st.transactions {
		if tr.AccountID != id {
			continue
		}
		if ref, linked := t.transferOf(txID); linked {
			return &core.ProtectedReferenceError{Entity: "account", ID: id, ReferencedBy: "transfer", ReferenceID: ref.ID}
		}
	}
	for txID, tr := range t.st.transactions {
		if tr.AccountID == id {
			delete(t.st.transactions, txID)
		}
	}
	delete(t.st.accounts, id)
	return nil
}

func (t *tx) checkAccountName(selfID, ownerID int64, name string) error {
	for _, a := range t.st.accounts {
		if a.ID != selfID && a.OwnerID == ownerID && a.Name == name {
			return &core.DuplicateNameError{Entity: "account", OwnerID: ownerID, Name: name}
		}
	}
	return nil
}

func (t *tx) GetCategory(_ context.Context, id int64) (core.Category, error) {
	c, ok := t.st.categories[id]
	if !ok {
		return core.Category{}, &core.NotFoundError{Entity: "category", ID: id}
	}
	return c, nil
}

func (t *tx) FindCategoryByName(_ context.Context, ownerID int64, name string) (core.Category, error) {
	name = strings.TrimSpace(name)
	for _, c := range t.st.categories {
		if c.OwnerID == ownerID && c.Name == name {
			return c, nil
		}
	}
	return core.Category{}, &core.NotFoundError{Entity: "category", Name: name}
}

func (t *tx) ListCategories(_ context.Context, ownerID int64) ([]core.Category, error) {
	out := make([]core.Category, 0)
	for _, c := range t.st.categories {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b core.Category) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (t *tx) InsertCategory(_ context.Context, c core.Category) (int64, error) {
	if err := t.checkCategoryName(0, c.OwnerID, c.Name); err != nil {
		return 0, err
	}
	c.ID = t.st.next("category")
	t.st.categories[c.ID] = c
	return c.ID, nil
}

func (t *tx) UpdateCategory(_ context.Context, c core.Category) error {
	cur, ok := t.st.categories[c.ID]
	if !ok {
		return &core.NotFoundError{Entity: "category", ID: c.ID}
	}
	if err := t.checkCategoryName(c.ID, cur.OwnerID, c.Name); err != nil {
		return err
	}
	cur.Name = c.Name
	t.st.categories[c.ID] = cur
	return nil
}

func (t *tx) DeleteCategory(_ context.Context, id int64) error {
	if _, ok := t.st.categories[id]; !ok {
		return &core.NotFoundError{Entity: "category", ID: id}
	}
	for txID, tr := range t.st.transactions {
		if tr.CategoryID != nil && *tr.CategoryID == id {
			tr.CategoryID = nil
			t.st.transactions[txID] = tr
		}
	}
	delete(t.st.categories, id)
	return nil
}

func (t *tx) checkCategoryName(selfID, ownerID int64, name string) error {
	for _, c := range t.st.categories {
		if c.ID != selfID && c.OwnerID == ownerID && c.Name == name {
			return &core.DuplicateNameError{Entity: "category", OwnerID: ownerID, Name: name}
		}
	}
	return nil
}

func (t *tx) GetTransaction(_ context.Context, id int64) (core.Transaction, error) {
	tr, ok := t.st.transactions[id]
	if !ok {
		return core.Transaction{}, &core.NotFoundError{Entity: "transaction", ID: id}
	}
	return copyTransaction(tr), nil
}

func (t *tx) LockTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	return t.GetTransaction(ctx, id)
}

func (t *tx) ListTransactions(_ context.Context, accountID int64) ([]core.Transaction, error) {
	out := make([]core.Transaction, 0)
	for _, tr := range t.st.transactions {
		if tr.AccountID == accountID {
			out = append(out, copyTransaction(tr))
		}
	}
	slices.SortFunc(out, func(a, b core.Transaction) int {
		return cmp.Or(a.Date.Compare(b.Date.Time), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (t *tx) SumTransactions(_ context.Context, accountID int64) (core.Money, error) {
	var sum core.Money
	for _, tr := range t.st.transactions {
		if tr.AccountID != accountID {
			continue
		}
		var err error
		if sum, err = sum.Add(tr.Value); err != nil {
			return core.Money{}, err
		}
	}
	return sum, nil
}

func (t *tx) checkTransactionRefs(tr core.Transaction) error {
	if _, ok := t.st.accounts[tr.AccountID]; !ok {
		return &core.NotFoundError{Entity: "account", ID: tr.AccountID}
	}
	if tr.CategoryID != nil {
		if _, ok := t.st.categories[*tr.CategoryID]; !ok {
			return &core.NotFoundError{Entity: "category", ID: *tr.CategoryID}
		}
	}
	return nil
}

func (t *tx) InsertTransaction(_ context.Context, tr core.Transaction) (int64, error) {
	if err := t.checkTransactionRefs(tr); err != nil {
		return 0, err
	}
	tr.ID = t.st.next("transaction")
	t.st.transactions[tr.ID] = copyTransaction(tr)
	return tr.ID, nil
}

func (t *tx) UpdateTransaction(_ context.Context, tr core.Transaction) error {
	if _, ok := t.st.transactions[tr.ID]; !ok {
		return &core.NotFoundError{Entity: "transaction", ID: tr.ID}
	}
	if err := t.checkTransactionRefs(tr); err != nil {
		return err
	}
	t.st.transactions[tr.ID] = copyTransaction(tr)
	return nil
}

func (t *tx) DeleteTransaction(_ context.Context, id int64) error {
	if _, ok := t.st.transactions[id]; !ok {
		return &core.NotFoundError{Entity: "transaction", ID: id}
	}
	if ref, linked := t.transferOf(id); linked {
		return &core.ProtectedReferenceError{Entity: "transaction", ID: id, ReferencedBy: "transfer", ReferenceID: ref.ID}
	}
	delete(t.st.transactions, id)
	return nil
}

func (t *tx) transferOf(transactionID int64) (core.Transfer, bool) {
	for _, tf := range t.st.transfers {
		if tf.TransactionInID == transactionID || tf.TransactionOutID == transactionID {
			return tf, true
		}
	}
	return core.Transfer{}, false
}

func (t *tx) GetTransfer(_ context.Context, id int64) (core.Transfer, error) {
	tf, ok := t.st.transfers[id]
	if !ok {
		return core.Transfer{}, &core.NotFoundError{Entity: "transfer", ID: id}
	}
	return tf, nil
}

func (t *tx) FindTransferByTransaction(_ context.Context, transactionID int64) (core.Transfer, error) {
	tf, ok := t.transferOf(transactionID)
	if !ok {
		return core.Transfer{}, &core.NotFoundError{Entity: "transfer"}
	}
	return tf, nil
}

func (t *tx) CountTransfersByAccount(_ context.Context, accountID int64) (int64, error) {
	var n int64
	for _, tf := range t.st.transfers {
		in := t.st.transactions[tf.TransactionInID]
		out := t.st.transactions[tf.TransactionOutID]
		if in.AccountID == accountID || out.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

func (t *tx) checkTransferLegs(tf core.Transfer) error {
	if tf.TransactionInID == tf.TransactionOutID {
		return core.NewValidationError("transaction_out", "transfer legs must be different transactions")
	}
	for _, legID := range []int64{tf.TransactionInID, tf.TransactionOutID} {
		if _, ok := t.st.transactions[legID]; !ok {
			return &core.NotFoundError{Entity: "transaction", ID: legID}
		}
	}
	for _, other := range t.st.transfers {
		if other.ID == tf.ID {
			continue
		}
		if other.TransactionInID == tf.TransactionInID || other.TransactionOutID == tf.TransactionOutID {
			return &core.ConflictError{Resource: "transfer", Reason: "transaction already linked by another transfer"}
		}
	}
	return nil
}

func (t *tx) InsertTransfer(_ context.Context, tf core.Transfer) (int64, error) {
	tf.ID = 0
	if err := t.checkTransferLegs(tf); err != nil {
		return 0, err
	}
	tf.ID = t.st.next("transfer")
	t.st.transfers[tf.ID] = tf
	return tf.ID, nil
}

func (t *tx) UpdateTransfer(_ context.Context, tf core.Transfer) error {
	if _, ok := t.st.transfers[tf.ID]; !ok {
		return &core.NotFoundError{Entity: "transfer", ID: tf.ID}
	}
	if err := t.checkTransferLegs(tf); err != nil {
		return err
	}
	t.st.transfers[tf.ID] = tf
	return nil
}

func (t *tx) DeleteTransfer(_ context.Context, id int64) error {
	if _, ok := t.st.transfers[id]; !ok {
		return &core.NotFoundError{Entity: "transfer", ID: id}
	}
	delete(t.st.transfers, id)
	return nil
}
