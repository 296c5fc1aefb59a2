package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/services"
)

// ReconcileRequester queues a reconcile request for the worker.
type ReconcileRequester interface {
	PublishReconcileRequest(ctx context.Context, accountID int64) (string, error)
}

// App runs one CLI invocation against the ledger service.
type App struct {
	ledger    *services.LedgerService
	requester ReconcileRequester // nil when AMQP is disabled
	out       io.Writer
}

type action func(ctx context.Context, args []string) error

var errUsage = errors.New("invalid usage")

// Run dispatches args of the form "<command> <action> [flags]".
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	if args[0] == "reconcile" {
		return a.reconcile(ctx, args[1:])
	}

	commands := map[string]map[string]action{
		"account": {
			"create": a.accountCreate,
			"list":   a.accountList,
			"show":   a.accountShow,
			"rename": a.accountRename,
			"delete": a.accountDelete,
			"rebase": a.accountRebase,
		},
		"category": {
			"create": a.categoryCreate,
			"list":   a.categoryList,
			"rename": a.categoryRename,
			"delete": a.categoryDelete,
		},
		"tx": {
			"add":    a.txAdd,
			"update": a.txUpdate,
			"delete": a.txDelete,
			"list":   a.txList,
			"show":   a.txShow,
		},
		"transfer": {
			"create": a.transferCreate,
			"update": a.transferUpdate,
			"delete": a.transferDelete,
			"show":   a.transferShow,
		},
	}

	actions, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
	if len(args) < 2 {
		return fmt.Errorf("%w: %s needs an action", errUsage, args[0])
	}
	run, ok := actions[args[1]]
	if !ok {
		return fmt.Errorf("%w: unknown action %q for %s", errUsage, args[1], args[0])
	}
	return run(ctx, args[2:])
}

// exitCode maps the error taxonomy to process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	case errors.Is(err, core.ErrValidation):
		return 3
	case errors.Is(err, core.ErrNotFound):
		return 4
	case errors.Is(err, core.ErrConflict):
		// retryable
		return 75
	case errors.Is(err, core.ErrDuplicateName), errors.Is(err, core.ErrProtectedReference):
		return 5
	default:
		return 1
	}
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}
	return nil
}

func required(fs *flag.FlagSet, names ...string) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	var missing []string
	for _, n := range names {
		if !set[n] {
			missing = append(missing, "-"+n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s requires %s", errUsage, fs.Name(), strings.Join(missing, ", "))
	}
	return nil
}

func isSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func parseAmount(field, s string) (core.Money, error) {
	m, err := core.ParseAmount(s)
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		for i := range verr.Violations {
			verr.Violations[i].Field = field
		}
	}
	return m, err
}

func parseDate(s string) (core.Date, error) {
	d, err := core.ParseDate(s)
	if err != nil {
		return core.Date{}, core.NewValidationError("date", "expected YYYY-MM-DD")
	}
	return d, nil
}

// Accounts

func (a *App) accountCreate(ctx context.Context, args []string) error {
	fs := newFlagSet("account create")
	owner := fs.Int64("owner", 1, "owner id")
	name := fs.String("name", "", "account name")
	initial := fs.String("initial", "0", "initial value, e.g. 1250.00")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "name"); err != nil {
		return err
	}
	value, err := parseAmount("initial_value", *initial)
	if err != nil {
		return err
	}
	id, err := a.ledger.CreateAccount(ctx, *owner, *name, value)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, id)
	return nil
}

func (a *App) accountList(ctx context.Context, args []string) error {
	fs := newFlagSet("account list")
	owner := fs.Int64("owner", 1, "owner id")
	if err := parse(fs, args); err != nil {
		return err
	}
	accounts, err := a.ledger.ListAccounts(ctx, *owner)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tINITIAL\tBALANCE")
	for _, acc := range accounts {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", acc.ID, acc.Name, acc.InitialValue, acc.Balance())
	}
	return w.Flush()
}

func (a *App) accountShow(ctx context.Context, args []string) error {
	fs := newFlagSet("account show")
	id := fs.Int64("id", 0, "account id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "id"); err != nil {
		return err
	}
	acc, err := a.ledger.GetAccount(ctx, *id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d\t%s\t%s\t%s\n", acc.ID, acc.Name, acc.InitialValue, acc.Balance())
	return nil
}

func (a *App) accountRename(ctx context.Context, args []string) error {
	fs := newFlagSet("account rename")
	id := fs.Int64("id", 0, "account id")
	name := fs.String("name", "", "new name")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "id", "name"); err != nil {
		return err
	}
	_, err := a.ledger.RenameAccount(ctx, *id, *name)
	return err
}

func (a *App) accountDelete(ctx context.Context, args []string) error {
	fs := newFlagSet("account delete")
	id := fs.Int64("id", 0, "account id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "id"); err != nil {
		return err
	}
	return a.ledger.DeleteAccount(ctx, *id)
}

func (a *App) accountRebase(ctx context.Context, args []string) error {
	fs := newFlagSet("account rebase")
	id := fs.Int64("id", 0, "account id")
	initial := fs.String("initial", "", "new initial value")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "id", "initial"); err != nil {
		return err
	}
	value, err := parseAmount("initial_value", *initial)
	if err != nil {
		return err
	}
	acc, err := a.ledger.ChangeInitialValue(ctx, *id, value)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, acc.Balance())
	return nil
}

// Categories

func (a *App) categoryCreate(ctx context.Context, args []string) error {
	fs := newFlagSet("category create")
	owner := fs.Int64("owner", 1, "owner id")
	name := fs.String("name", "", "category name")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "name"); err != nil {
		return err
	}
	id, err := a.ledger.CreateCategory(ctx, *owner, *name)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, id)
	return nil
}

func (a *App) categoryList(ctx context.Context, args []string) error {
	fs := newFlagSet("category list")
	owner := fs.Int64("owner", 1, "owner id")
	if err := parse(fs, args); err != nil {
		return err
	}
	categories, err := a.ledger.ListCategories(ctx, *owner)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, c := range categories {
		fmt.Fprintf(w, "%d\t%s\n", c.ID, c.Name)
	}
	return w.Flush()
}

func (a *App) categoryRename(ctx context.Context, args []string) error {
	fs := newFlagSet("category rename")
	id := fs.Int64("id", 0, "category id")
	name := fs.String("name", "", "new name")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "id", "name"); err != nil {
		return err
	}
	_, err := a.ledger.RenameCategory(ctx, *id, *name)
	return err
}

func (a *App) categoryDelete(ctx context.Context, args []string) error {
	fs := newFlagSet("category delete")
	id := fs.Int64("id", 0, "category id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "id"); err != nil {
		return err
	}
	return a.ledger.DeleteCategory(ctx, *id)
}

// Transactions

func (a *App) txAdd(ctx context.Context, args []string) error {
	fs := newFlagSet("tx add")
	account := fs.Int64("account", 0, "account id")
	amount := fs.String("amount", "", "signed amount, negative for a withdrawal")
	title := fs.String("title", "", "title")
	description := fs.String("description", "", "description")
	category := fs.Int64("category", 0, "category id")
	date := fs.String("date", "", "date as YYYY-MM-DD (default today)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "account", "amount", "title"); err != nil {
		return err
	}

	in := services.NewTransaction{
		AccountID:   *account,
		Title:       *title,
		Description: *description,
	}
	var err error
	if in.Value, err = parseAmount("value", *amount); err != nil {
		return err
	}
	if isSet(fs, "category") {
		in.CategoryID = category
	}
	if *date != "" {
		if in.Date, err = parseDate(*date); err != nil {
			return err
		}
	}

	id, err := a.ledger.CreateTransaction(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, id)
	return nil
}

func (a *App) txUpdate(ctx context.Context, args []string) error {
	fs := newFlagSet("tx update")
	id := fs.Int64("id", 0, "transaction id")
	amount := fs.String("amount", "", "new signed amount (default unchanged)")
	account := fs.Int64("account", 0, "move to this account")
	title := fs.String("title", "", "new title")
	description := fs.String("description", "", "new description")
	category := fs.Int64("category", 0, "new category id")
	noCategory := fs.Bool("no-category", false, "clear the category")
	date := fs.String("date", "", "new date as YYYY-MM-DD")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "id"); err != nil {
		return err
	}

	u := ledger.TransactionUpdate{
		AccountID:     *account,
		ClearCategory: *noCategory,
	}
	if isSet(fs, "amount") {
		v, err := parseAmount("value", *amount)
		if err != nil {
			return err
		}
		u.Value = &v
	}
	if isSet(fs, "title") {
		u.Title = title
	}
	if isSet(fs, "description") {
		u.Description = description
	}
	if isSet(fs, "category") {
		u.CategoryID = category
	}
	if isSet(fs, "date") {
		d, err := parseDate(*date)
		if err != nil {
			return err
		}
		u.Date = &d
	}

	_, err := a.ledger.UpdateTransaction(ctx, *id, u)
	return err
}

func (a *App) txDelete(ctx context.Context, args []string) error {
	fs := newFlagSet("tx delete")
	id := fs.Int64("id", 0, "transaction id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "id"); err != nil {
		return err
	}
	return a.ledger.DeleteTransaction(ctx, *id)
}

func (a *App) txList(ctx context.Context, args []string) error {
	fs := newFlagSet("tx list")
	account := fs.Int64("account", 0, "account id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "account"); err != nil {
		return err
	}
	txs, err := a.ledger.ListTransactions(ctx, *account)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tAMOUNT\tCATEGORY\tTITLE")
	for _, t := range txs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", t.ID, t.Date, t.Value, categoryColumn(t.CategoryID), t.Title)
	}
	return w.Flush()
}

func (a *App) txShow(ctx context.Context, args []string) error {
	fs := newFlagSet("tx show")
	id := fs.Int64("id", 0, "transaction id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "id"); err != nil {
		return err
	}
	t, err := a.ledger.GetTransaction(ctx, *id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d\t%d\t%s\t%s\t%s\t%s\n", t.ID, t.AccountID, t.Date, t.Value, categoryColumn(t.CategoryID), t.Title)
	return nil
}

func categoryColumn(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprint(*id)
}

// Transfers

func (a *App) transferCreate(ctx context.Context, args []string) error {
	fs := newFlagSet("transfer create")
	in := fs.Int64("in", 0, "deposit transaction id")
	out := fs.Int64("out", 0, "withdrawal transaction id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "in", "out"); err != nil {
		return err
	}
	id, err := a.ledger.CreateTransfer(ctx, *in, *out)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, id)
	return nil
}

func (a *App) transferUpdate(ctx context.Context, args []string) error {
	fs := newFlagSet("transfer update")
	id := fs.Int64("id", 0, "transfer id")
	in := fs.Int64("in", 0, "deposit transaction id")
	out := fs.Int64("out", 0, "withdrawal transaction id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "id", "in", "out"); err != nil {
		return err
	}
	_, err := a.ledger.UpdateTransfer(ctx, *id, *in, *out)
	return err
}

func (a *App) transferDelete(ctx context.Context, args []string) error {
	fs := newFlagSet("transfer delete")
	id := fs.Int64("id", 0, "transfer id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "id"); err != nil {
		return err
	}
	return a.ledger.DeleteTransfer(ctx, *id)
}

func (a *App) transferShow(ctx context.Context, args []string) error {
	fs := newFlagSet("transfer show")
	id := fs.Int64("id", 0, "transfer id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required(fs, "id"); err != nil {
		return err
	}
	tf, err := a.ledger.GetTransfer(ctx, *id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d\tin=%d\tout=%d\n", tf.ID, tf.TransactionInID, tf.TransactionOutID)
	return nil
}

// Reconcile

func (a *App) reconcile(ctx context.Context, args []string) error {
	fs := newFlagSet("reconcile")
	account := fs.Int64("account", 0, "account id (default every account)")
	check := fs.Bool("check", false, "report drift without repairing")
	async := fs.Bool("async", false, "queue the request for ledger-worker")
	if err := parse(fs, args); err != nil {
		return err
	}

	if *async {
		if *check {
			return fmt.Errorf("%w: -check and -async are exclusive", errUsage)
		}
		if a.requester == nil {
			return fmt.Errorf("%w: -async needs AMQP_URL", errUsage)
		}
		id, err := a.requester.PublishReconcileRequest(ctx, *account)
		if err != nil {
			return fmt.Errorf("queue reconcile request: %w", err)
		}
		fmt.Fprintln(a.out, id)
		return nil
	}

	var recs []core.Reconciliation
	switch {
	case *account != 0 && *check:
		rec, err := a.ledger.CheckAccount(ctx, *account)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	case *account != 0:
		rec, err := a.ledger.ReconcileAccount(ctx, *account)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	case *check:
		return fmt.Errorf("%w: -check needs -account", errUsage)
	default:
		var err error
		if recs, err = a.ledger.ReconcileAll(ctx); err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tSTORED\tEXPECTED\tDRIFT\tREPAIRED")
	for _, rec := range recs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\n", rec.AccountID, rec.Stored, rec.Expected, rec.Drift(), rec.Repaired)
	}
	return w.Flush()
}
