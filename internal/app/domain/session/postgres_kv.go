package session

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const sessionTable = "admin_sessions"

// Queryer is the part of pgxpool.Pool the store needs.
type Queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var (
	_ KV      = (*PostgresKV)(nil)
	_ Swapper = (*PostgresKV)(nil)
)

// PostgresKV lets several dashboard processes share one admin session. The
// table comes from the migrations in internal/db. Every write stamps a fresh
// revision so operators can tell overwrites apart.
type PostgresKV struct {
	logger *zap.Logger
	db     Queryer
	psql   sq.StatementBuilderType
}

func NewPostgresKV(db Queryer, logger *zap.Logger) *PostgresKV {
	return &PostgresKV{
		logger: logger,
		db:     db,
		psql:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (p *PostgresKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := otel.Tracer("clinic-admin").Start(ctx, "PostgresKV.Get", trace.WithAttributes(
		attribute.String("session.key", key),
	))
	defer span.End()

	query, args, err := p.psql.Select("value").From(sessionTable).Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return nil, false, errors.Wrap(err, "build select")
	}

	var value string
	if err := p.db.QueryRow(ctx, query, args...).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "select session failed")
		p.logger.Error("Failed to read session row", zap.String("key", key), zap.Error(err))
		return nil, false, errors.Wrap(err, "select session")
	}
	return []byte(value), true, nil
}

func (p *PostgresKV) Set(ctx context.Context, key string, value []byte) error {
	ctx, span := otel.Tracer("clinic-admin").Start(ctx, "PostgresKV.Set", trace.WithAttributes(
		attribute.String("session.key", key),
	))
	defer span.End()

	query, args, err := p.psql.Insert(sessionTable).
		Columns("key", "value", "revision", "updated_at").
		Values(key, string(value), uuid.New(), sq.Expr("now()")).
		Suffix("ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, revision = EXCLUDED.revision, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build upsert")
	}

	if _, err := p.db.Exec(ctx, query, args...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert session failed")
		return errors.Wrap(err, "upsert session")
	}
	return nil
}

func (p *PostgresKV) Delete(ctx context.Context, key string) error {
	ctx, span := otel.Tracer("clinic-admin").Start(ctx, "PostgresKV.Delete", trace.WithAttributes(
		attribute.String("session.key", key),
	))
	defer span.End()

	query, args, err := p.psql.Delete(sessionTable).Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return errors.Wrap(err, "build delete")
	}
	if _, err := p.db.Exec(ctx, query, args...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete session failed")
		return errors.Wrap(err, "delete session")
	}
	return nil
}

// CompareAndSwap writes next, or deletes the row when next is nil, only while
// the stored JSON still has field equal to expected. The check runs inside the
// statement so concurrent processes cannot overwrite each other.
func (p *PostgresKV) CompareAndSwap(ctx context.Context, key, field, expected string, next []byte) (bool, error) {
	ctx, span := otel.Tracer("clinic-admin").Start(ctx, "PostgresKV.CompareAndSwap", trace.WithAttributes(
		attribute.String("session.key", key),
		attribute.Bool("session.delete", next == nil),
	))
	defer span.End()

	guard := sq.Expr("(value::jsonb ->> ?) = ?", field, expected)

	var builder sq.Sqlizer
	if next == nil {
		builder = p.psql.Delete(sessionTable).Where(sq.Eq{"key": key}).Where(guard)
	} else {
		builder = p.psql.Update(sessionTable).
			Set("value", string(next)).
			Set("revision", uuid.New()).
			Set("updated_at", sq.Expr("now()")).
			Where(sq.Eq{"key": key}).
			Where(guard)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return false, errors.Wrap(err, "build compare and swap")
	}

	tag, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compare and swap failed")
		return false, errors.Wrap(err, "compare and swap session")
	}
	swapped := tag.RowsAffected() == 1
	span.SetAttributes(attribute.Bool("session.swapped", swapped))
	if !swapped {
		p.logger.Debug("Session changed elsewhere, swap skipped", zap.String("key", key))
	}
	return swapped, nil
}
