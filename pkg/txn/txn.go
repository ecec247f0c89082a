// Package txn implements the transaction lifecycle shared by every backend.
//
// The active transaction is carried in a context.Context, keyed by the
// backend connector it belongs to. A nested Begin on a context that already
// carries an active transaction for the same connector reuses its connection
// and leaves commit and rollback to the outermost holder.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrAlreadyActive is returned by Begin on a transaction that already holds a connection.
	ErrAlreadyActive = errors.New("transaction already active")
	// ErrNotActive is returned by Commit and Rollback on a transaction without a connection.
	ErrNotActive = errors.New("transaction not active")
)

// Conn is a live backend connection with an open transaction.
type Conn interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Connector opens backend connections. Implementations must be comparable
// (typically pointers) since they key the active transaction in a context.
type Connector interface {
	Begin(ctx context.Context) (Conn, error)
}

// Outcome is the result a transaction scope asks for.
type Outcome int

const (
	// Complete commits when the scope is the outermost one.
	Complete Outcome = iota
	// RequestCommit explicitly asks the outermost scope to commit.
	RequestCommit
	// RequestRollback asks the outermost scope to roll back without an error.
	RequestRollback
)

func (o Outcome) String() string {
	switch o {
	case Complete:
		return "complete"
	case RequestCommit:
		return "commit"
	case RequestRollback:
		return "rollback"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

type ctxKey struct {
	connector Connector
}

// Transaction is one participant in a (possibly nested) transaction.
type Transaction struct {
	connector Connector
	logger    *slog.Logger
	conn      Conn
	outer     *Transaction
}

// New creates an inactive transaction for connector.
// A nil logger discards log output.
func New(connector Connector, logger *slog.Logger) *Transaction {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Transaction{connector: connector, logger: logger}
}

// Begin acquires a connection. If ctx carries an active transaction for the
// same connector its connection is reused and this transaction becomes a
// nested participant. The returned context carries the active transaction.
func (t *Transaction) Begin(ctx context.Context) (context.Context, error) {
	if t.conn != nil {
		return ctx, ErrAlreadyActive
	}
	if outer := active(ctx, t.connector); outer != nil {
		t.conn = outer.conn
		t.outer = outer
		t.logger.Debug("joined transaction", slog.Bool("nested", true))
		return ctx, nil
	}

	conn, err := t.connector.Begin(ctx)
	if err != nil {
		return ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}
	t.conn = conn
	t.logger.Debug("began transaction", slog.Bool("nested", false))
	return context.WithValue(ctx, ctxKey{t.connector}, t), nil
}

// Commit commits the transaction. A nested participant only releases its
// reference; the outermost holder decides the fate of the connection.
func (t *Transaction) Commit(ctx context.Context) error {
	return t.finish(ctx, "commit", Conn.Commit)
}

// Rollback rolls the transaction back, with the same nesting rules as Commit.
func (t *Transaction) Rollback(ctx context.Context) error {
	return t.finish(ctx, "rollback", Conn.Rollback)
}

func (t *Transaction) finish(ctx context.Context, op string, fn func(Conn, context.Context) error) error {
	if t.conn == nil {
		return ErrNotActive
	}
	if t.outer != nil {
		t.release()
		t.logger.Debug("released nested transaction", slog.String("op", op), slog.Bool("nested", true))
		return nil
	}
	conn := t.conn
	t.release()
	if err := fn(conn, ctx); err != nil {
		return fmt.Errorf("failed to %s transaction: %w", op, err)
	}
	t.logger.Debug("finished transaction", slog.String("op", op), slog.Bool("nested", false))
	return nil
}

func (t *Transaction) release() {
	t.conn = nil
	t.outer = nil
}

// Active reports whether the transaction holds a connection.
func (t *Transaction) Active() bool { return t.conn != nil }

// Nested reports whether the transaction reuses an outer transaction's connection.
func (t *Transaction) Nested() bool { return t.outer != nil }

// Conn returns the held connection, or nil.
func (t *Transaction) Conn() Conn { return t.conn }

func active(ctx context.Context, connector Connector) *Transaction {
	t, _ := ctx.Value(ctxKey{connector}).(*Transaction)
	if t == nil || t.conn == nil {
		return nil
	}
	return t
}

// FromContext returns the connection of the transaction active in ctx for
// connector, if any.
func FromContext(ctx context.Context, connector Connector) (Conn, bool) {
	t := active(ctx, connector)
	if t == nil {
		return nil, false
	}
	return t.conn, true
}

// Run executes fn inside a transaction scope.
//
// In the outermost scope an error from fn rolls back and is returned (joined
// with any rollback error), RequestRollback rolls back, and Complete or
// RequestCommit commits. In a nested scope the outcome and error are handed
// back unchanged for the enclosing scope to act on. A panic in fn rolls back
// the outermost transaction before propagating.
func Run(ctx context.Context, connector Connector, logger *slog.Logger, fn func(ctx context.Context) (Outcome, error)) (outcome Outcome, err error) {
	t := New(connector, logger)
	ctx, err = t.Begin(ctx)
	if err != nil {
		return Complete, err
	}

	if t.Nested() {
		defer t.release()
		return fn(ctx)
	}

	defer func() {
		if r := recover(); r != nil {
			if rbErr := t.Rollback(ctx); rbErr != nil {
				t.logger.Error("rollback after panic failed", slog.Any("error", rbErr))
			}
			panic(r)
		}
	}()

	outcome, err = fn(ctx)
	switch {
	case err != nil:
		if rbErr := t.Rollback(ctx); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return outcome, err
	case outcome == RequestRollback:
		return outcome, t.Rollback(ctx)
	default:
		return outcome, t.Commit(ctx)
	}
}
