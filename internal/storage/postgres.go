package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
)

// --- Retry Logic Configuration ---
const (
	defaultRetryInitialInterval = 50 * time.Millisecond
	defaultRetryMaxInterval     = 2 * time.Second
	defaultRetryMaxElapsedTime  = 10 * time.Second
	readRetryMaxElapsedTime     = 5 * time.Second  // More aggressive for reads
	commitRetryMaxElapsedTime   = 15 * time.Second // More tolerant for commits
)

// newRetryPolicy creates a new exponential backoff policy with context awareness.
func newRetryPolicy(ctx context.Context, maxElapsedTime time.Duration) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitialInterval
	b.MaxInterval = defaultRetryMaxInterval
	b.MaxElapsedTime = maxElapsedTime
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// retryableOperation wraps a database operation with retry logic.
func retryableOperation(ctx context.Context, policy backoff.BackOffContext, opName string, operation func() error) error {
	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying DB operation",
			zap.String("operation", opName),
			zap.Error(err),
			zap.Duration("after", d),
		)
	}

	err := backoff.RetryNotify(func() error {
		err := operation()
		if err != nil {
			// Non-retryable GORM errors first
			if errors.Is(err, gorm.ErrRecordNotFound) ||
				errors.Is(err, gorm.ErrInvalidTransaction) ||
				errors.Is(err, gorm.ErrDuplicatedKey) ||
				errors.Is(err, gorm.ErrForeignKeyViolated) {
				return backoff.Permanent(err)
			}
			if isTransientError(err) {
				return err
			}
			// Treat other errors as permanent by default
			return backoff.Permanent(err)
		}
		return nil
	}, policy, notify)

	return err
}

// isTransientError checks if the error suggests a temporary issue like a network problem.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: Connection Exception
		// Class 53: Insufficient Resources
		// 40001/40P01: serialization failure / deadlock
		if strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			strings.HasPrefix(pgErr.Code, "40P01") ||
			strings.HasPrefix(pgErr.Code, "40001") {
			return true
		}
	}

	// Fallback to string matching for common network-related errors
	errStr := strings.ToLower(err.Error())
	transientIndicators := []string{
		"connection refused",
		"network is unreachable",
		"i/o timeout",
		"broken pipe",
		"connection reset by peer",
		"could not translate host name",
		"no route to host",
		"database system is starting up",
		"connection timed out",
		"connection reset",
	}
	for _, indicator := range transientIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// PostgresRepo implements the repository interfaces on a single shared
// connection pool.
type PostgresRepo struct {
	db *gorm.DB
}

// NewPostgresRepo connects to PostgreSQL with connection retry and optionally
// migrates the conversation schema.
func NewPostgresRepo(dsn string, autoMigrate bool) (*PostgresRepo, error) {
	operationConnect := func() (*gorm.DB, error) {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			if isTransientError(err) {
				logger.Log.Warn("Failed to connect to postgres (transient), retrying...", zap.Error(err))
				return nil, err
			}
			return nil, backoff.Permanent(fmt.Errorf("failed to connect to postgres db: %w", err))
		}
		return db, nil
	}

	notify := func(err error, d time.Duration) {
		logger.Log.Warn("Retrying DB connection", zap.Error(err), zap.Duration("after", d))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 1 * time.Minute

	db, err := backoff.RetryNotifyWithData(operationConnect, b, notify)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres after retries: %w", err)
	}

	repo := &PostgresRepo{db: db}

	if autoMigrate {
		logger.Log.Info("Running auto-migration for conversation schema")
		err = db.AutoMigrate(
			&model.Contact{},
			&model.Order{},
			&model.OrderMessage{},
			&model.Message{},
			&model.InternalMessage{},
			&model.Automation{},
			&model.ExhaustedEvent{},
		)
		if err != nil {
			sqlDB, dbErr := db.DB()
			if dbErr == nil && sqlDB != nil {
				sqlDB.Close()
			}
			return nil, fmt.Errorf("failed to auto-migrate schema: %w", err)
		}
	}

	return repo, nil
}

// DB exposes the underlying gorm handle. Intended for tests and migrations.
func (r *PostgresRepo) DB() *gorm.DB {
	return r.db
}

// Close closes the database connection
func (r *PostgresRepo) Close(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to get underlying SQL DB for closing", zap.Error(err))
		return nil
	}

	closeErr := sqlDB.Close()
	if closeErr != nil {
		logger.FromContext(ctx).Error("Failed to close database connection", zap.Error(closeErr))
		return fmt.Errorf("failed to close SQL DB: %w", closeErr)
	}

	logger.FromContext(ctx).Info("Database connection closed successfully")
	return nil
}

// checkConstraintViolation inspects database errors and maps them to standard apperrors.
func checkConstraintViolation(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		// Class 23: Integrity Constraint Violation
		case "23505": // unique_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrDuplicate, pgErr.ConstraintName, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: null value in column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "23514": // check_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)

		// Class 22: Data Exception
		case "22001": // string_data_right_truncation
			return fmt.Errorf("%w: value too long for column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "22P02": // invalid_text_representation
			return fmt.Errorf("%w: invalid input syntax for type %s: %w", apperrors.ErrBadRequest, pgErr.DataTypeName, err)

		// Class 40: Transaction Rollback
		case "40001": // serialization_failure
			fallthrough
		case "40P01": // deadlock_detected
			return fmt.Errorf("%w: transaction rollback (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)

		default:
			if strings.HasPrefix(pgErr.Code, "53") { // Class 53: Insufficient Resources
				return fmt.Errorf("%w: insufficient resources (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			if strings.HasPrefix(pgErr.Code, "08") { // Class 08: Connection Exception
				return fmt.Errorf("%w: connection error (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			return fmt.Errorf("%w: unhandled pgcode %s: %w", apperrors.ErrDatabase, pgErr.Code, err)
		}
	}

	return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
}
