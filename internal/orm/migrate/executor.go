package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TxBeginner is the part of *sql.DB the executor needs
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Executor runs DDL statements sequentially inside one transaction
type Executor struct {
	db     TxBeginner
	logger *zap.Logger
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger
func WithExecutorLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates a new statement executor
func NewExecutor(db TxBeginner, opts ...ExecutorOption) *Executor {
	e := &Executor{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecutionResult describes a completed run
type ExecutionResult struct {
	RunID      string
	Statements int
	Duration   time.Duration
}

// StatementError is returned when a statement fails; it unwraps to the database error
type StatementError struct {
	Index     int
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement %d failed: %v", e.Index+1, e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

// Execute applies the statements in order. The first failure rolls the transaction back and is
// returned without retry.
func (e *Executor) Execute(ctx context.Context, statements []string) (*ExecutionResult, error) {
	runID := uuid.New().String()
	logger := e.logger.With(zap.String("run_id", runID))
	start := time.Now()

	if len(statements) == 0 {
		logger.Info("no statements to execute")
		return &ExecutionResult{RunID: runID}, nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			logger.Warn("failed to rollback transaction", zap.Error(err))
		}
	}()

	for i, stmt := range statements {
		logger.Debug("executing statement", zap.Int("index", i), zap.String("sql", stmt))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			logger.Error("statement failed",
				zap.Int("index", i),
				zap.String("sql", stmt),
				zap.Error(err))
			return nil, &StatementError{Index: i, Statement: stmt, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	result := &ExecutionResult{RunID: runID, Statements: len(statements), Duration: time.Since(start)}
	logger.Info("statements applied",
		zap.Int("statements", result.Statements),
		zap.Duration("duration", result.Duration))
	return result, nil
}
