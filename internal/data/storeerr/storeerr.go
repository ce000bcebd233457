package storeerr

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/atlaskb/atlas-backend/internal/domain/builderr"
)

// Map classifies infrastructure failures into pipeline error codes so phase
// loops can decide retry vs. halt without inspecting driver errors.
func Map(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *builderr.Error
	if errors.As(err, &be) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return builderr.Wrap(builderr.CodeNotFound, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return builderr.Wrap(builderr.CodeRetryable, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return builderr.Wrap(builderr.CodeConflict, op, err) // unique_violation
		case "23503":
			return builderr.Wrap(builderr.CodeDataIntegrity, op, err) // foreign_key_violation
		case "40001", "40P01", "55P03":
			return builderr.Wrap(builderr.CodeRetryable, op, err) // serialization/deadlock/lock_not_available
		case "53300", "57P03", "08006", "08003":
			return builderr.Wrap(builderr.CodeRetryable, op, err) // connection pressure
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "duplicate key"), strings.Contains(msg, "already exists"):
		return builderr.Wrap(builderr.CodeConflict, op, err)
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "temporar"):
		return builderr.Wrap(builderr.CodeRetryable, op, err)
	default:
		return builderr.Wrap(builderr.CodeInternal, op, err)
	}
}
