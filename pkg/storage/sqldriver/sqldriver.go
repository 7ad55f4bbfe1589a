// Package sqldriver implements the interaction and credential stores on top of
// ent's SQL dialect layer. The sqlite, postgres and mysql packages open a
// database and hand it to Open.
package sqldriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/storage"
)

// Driver persists interaction records, providers and secrets in one SQL
// database.
type Driver struct {
	drv *entsql.Driver
}

var (
	_ storage.Driver    = (*Driver)(nil)
	_ credentials.Store = (*Driver)(nil)
)

// Open wraps db with the ent SQL driver for the given dialect and runs the
// append-only schema migration.
func Open(ctx context.Context, dialectName string, db *sql.DB) (*Driver, error) {
	drv := entsql.OpenDB(dialectName, db)

	m, err := schema.NewMigrate(drv)
	if err != nil {
		drv.Close()
		return nil, fmt.Errorf("failed to prepare migration: %w", err)
	}

	if err := m.Create(ctx, Tables...); err != nil {
		drv.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Driver{drv: drv}, nil
}

// Dialect returns the SQL dialect name.
func (d *Driver) Dialect() string {
	return d.drv.Dialect()
}

// DB returns the underlying database handle.
func (d *Driver) DB() *sql.DB {
	return d.drv.DB()
}

// Close closes the underlying database.
func (d *Driver) Close() error {
	return d.drv.Close()
}

func (d *Driver) builder() *entsql.DialectBuilder {
	return entsql.Dialect(d.drv.Dialect())
}

var interactionSelectColumns = []string{
	"id", "provider_id", "model", "streaming", "raw_request", "raw_response",
	"content", "input_tokens", "output_tokens", "response_time_ms",
	"status_code", "error", "created_at", "completed_at",
}

// Create implements storage.Driver.
func (d *Driver) Create(ctx context.Context, rec *storage.InteractionRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query, args := d.builder().Insert(interactionsTableName).
		Columns(interactionSelectColumns...).
		Values(
			rec.ID,
			rec.ProviderID,
			rec.Model,
			rec.Streaming,
			[]byte(rec.RawRequest),
			nullBytes(rec.RawResponse),
			rec.Content,
			rec.InputTokens,
			rec.OutputTokens,
			rec.ResponseTimeMs,
			rec.StatusCode,
			nullString(rec.Error),
			createdAt.UTC(),
			nullTime(rec.CompletedAt),
		).
		Query()

	if err := d.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("failed to insert interaction %s: %w", rec.ID, err)
	}

	return nil
}

// Update implements storage.Driver. The completion is applied only while
// completed_at is still null, so concurrent completions cannot both win.
func (d *Driver) Update(ctx context.Context, id string, c *storage.Completion) error {
	completedAt := c.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	query, args := d.builder().Update(interactionsTableName).
		Set("raw_response", nullBytes(c.RawResponse)).
		Set("content", c.Content).
		Set("input_tokens", c.InputTokens).
		Set("output_tokens", c.OutputTokens).
		Set("response_time_ms", c.ResponseTime.Milliseconds()).
		Set("status_code", c.StatusCode).
		Set("error", nullString(c.Error)).
		Set("completed_at", completedAt.UTC()).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.IsNull("completed_at"),
		)).
		Query()

	var res sql.Result
	if err := d.drv.Exec(ctx, query, args, &res); err != nil {
		return fmt.Errorf("failed to update interaction %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update interaction %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	// Nothing matched: the record is missing or already completed.
	if _, err := d.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", storage.ErrAlreadyCompleted, id)
}

// Get implements storage.Driver.
func (d *Driver) Get(ctx context.Context, id string) (*storage.InteractionRecord, error) {
	b := d.builder()
	query, args := b.Select(interactionSelectColumns...).
		From(b.Table(interactionsTableName)).
		Where(entsql.EQ("id", id)).
		Query()

	recs, err := d.queryInteractions(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, storage.NotFoundError{ID: id}
	}

	return recs[0], nil
}

// List implements storage.Driver.
func (d *Driver) List(ctx context.Context, opts storage.ListOptions) ([]*storage.InteractionRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	b := d.builder()
	sel := b.Select(interactionSelectColumns...).
		From(b.Table(interactionsTableName)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id")).
		Limit(limit)
	if opts.ProviderID != "" {
		sel.Where(entsql.EQ("provider_id", opts.ProviderID))
	}

	query, args := sel.Query()
	return d.queryInteractions(ctx, query, args)
}

func (d *Driver) queryInteractions(ctx context.Context, query string, args []any) ([]*storage.InteractionRecord, error) {
	var rows entsql.Rows
	if err := d.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var recs []*storage.InteractionRecord
	for rows.Next() {
		var (
			rec         storage.InteractionRecord
			rawRequest  []byte
			rawResponse []byte
			errText     sql.NullString
			completedAt sql.NullTime
		)

		if err := rows.Scan(
			&rec.ID,
			&rec.ProviderID,
			&rec.Model,
			&rec.Streaming,
			&rawRequest,
			&rawResponse,
			&rec.Content,
			&rec.InputTokens,
			&rec.OutputTokens,
			&rec.ResponseTimeMs,
			&rec.StatusCode,
			&errText,
			&rec.CreatedAt,
			&completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}

		if len(rawRequest) > 0 {
			rec.RawRequest = rawRequest
		}
		if len(rawResponse) > 0 {
			rec.RawResponse = rawResponse
		}
		rec.Error = errText.String
		if completedAt.Valid {
			t := completedAt.Time
			rec.CompletedAt = &t
		}

		recs = append(recs, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read interactions: %w", err)
	}

	return recs, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// rollback aborts tx and joins any rollback failure onto err.
func rollback(tx interface{ Rollback() error }, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		return errors.Join(err, fmt.Errorf("rolling back: %w", rerr))
	}
	return err
}
