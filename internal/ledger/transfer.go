package ledger

import (
	"context"
	"errors"
	"fmt"

	"ledger/internal/core"
	"ledger/internal/repository"
)

// ValidateTransfer checks the pairing rules of a transfer and reports every
// violated rule at once: in must be a deposit, out must be a withdrawal,
// their values must be equal and opposite, and they must be two different
// transactions.
func ValidateTransfer(in, out core.Transaction) error {
	return transferViolations(in, out).OrNil()
}

func transferViolations(in, out core.Transaction) *core.ValidationError {
	v := &core.ValidationError{}
	if in.ID != 0 && in.ID == out.ID {
		v.Add("transaction_out", "transfer legs must be different transactions")
	}
	if !in.IsDeposit() {
		v.Addf("transaction_in", "must be a deposit (value > 0), got %s", in.Value)
	}
	if !out.IsWithdrawal() {
		v.Addf("transaction_out", "must be a withdrawal (value < 0), got %s", out.Value)
	}
	if in.Value.Cents != -out.Value.Cents {
		v.Addf("value", "deposit %s and withdrawal %s must be equal and opposite", in.Value, out.Value)
	}
	return v
}

// Transfers manages transfer links. A transfer never moves a balance, both
// legs are ordinary transactions already applied to their accounts.
type Transfers struct {
	store repository.Store
}

func NewTransfers(store repository.Store) *Transfers {
	return &Transfers{store: store}
}

func (s *Transfers) Get(ctx context.Context, id int64) (core.Transfer, error) {
	return s.store.GetTransfer(ctx, id)
}

// Create validates both legs inside the store transaction and persists the link.
func (s *Transfers) Create(ctx context.Context, inID, outID int64) (core.Transfer, error) {
	if err := checkLegIDs(inID, outID); err != nil {
		return core.Transfer{}, err
	}

	tf := core.Transfer{TransactionInID: inID, TransactionOutID: outID}
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := validateLegs(ctx, tx, 0, inID, outID); err != nil {
			return err
		}
		id, err := tx.InsertTransfer(ctx, tf)
		if err != nil {
			return fmt.Errorf("insert transfer: %w", err)
		}
		tf.ID = id
		return nil
	})
	if err != nil {
		return core.Transfer{}, err
	}
	return tf, nil
}

// Update relinks an existing transfer to a new pair of legs.
func (s *Transfers) Update(ctx context.Context, id, inID, outID int64) (core.Transfer, error) {
	if err := checkLegIDs(inID, outID); err != nil {
		return core.Transfer{}, err
	}

	tf := core.Transfer{ID: id, TransactionInID: inID, TransactionOutID: outID}
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetTransfer(ctx, id); err != nil {
			return err
		}
		if err := validateLegs(ctx, tx, id, inID, outID); err != nil {
			return err
		}
		if err := tx.UpdateTransfer(ctx, tf); err != nil {
			return fmt.Errorf("update transfer: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Transfer{}, err
	}
	return tf, nil
}

// Delete removes the link. Both legs stay in place and become deletable.
func (s *Transfers) Delete(ctx context.Context, id int64) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.DeleteTransfer(ctx, id)
	})
}

func checkLegIDs(inID, outID int64) error {
	v := &core.ValidationError{}
	if inID <= 0 {
		v.Add("transaction_in", "transaction is required")
	}
	if outID <= 0 {
		v.Add("transaction_out", "transaction is required")
	}
	return v.OrNil()
}

// validateLegs locks both legs in ascending id order, applies the pairing
// rules and rejects legs already linked by a transfer other than selfID.
func validateLegs(ctx context.Context, tx repository.Tx, selfID, inID, outID int64) error {
	legs := make(map[int64]core.Transaction, 2)
	first, second := inID, outID
	if second < first {
		first, second = second, first
	}
	for _, legID := range []int64{first, second} {
		if _, seen := legs[legID]; seen {
			continue
		}
		t, err := tx.LockTransaction(ctx, legID)
		if err != nil {
			return err
		}
		legs[legID] = t
	}

	v := transferViolations(legs[inID], legs[outID])
	for _, leg := range []struct {
		field string
		id    int64
	}{{"transaction_in", inID}, {"transaction_out", outID}} {
		other, err := tx.FindTransferByTransaction(ctx, leg.id)
		switch {
		case errors.Is(err, core.ErrNotFound):
			continue
		case err != nil:
			return err
		}
		if other.ID != selfID {
			v.Addf(leg.field, "transaction %d is already linked by transfer %d", leg.id, other.ID)
		}
	}
	return v.OrNil()
}
