package sqldriver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/switchboard/pkg/credentials"
)

// SaveProvider implements credentials.ProviderStore. Saving an active default
// provider clears the default flag on every other provider in the same
// transaction.
func (d *Driver) SaveProvider(ctx context.Context, p *credentials.ProviderConfig) error {
	if p == nil {
		return errors.New("cannot store nil provider")
	}
	if err := p.Validate(); err != nil {
		return err
	}

	config, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding provider %s: %w", p.ID, err)
	}

	tx, err := d.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	b := d.builder()
	if p.Active && p.Default {
		query, args := b.Update(providersTableName).
			Set("is_default", false).
			Where(entsql.NEQ("id", p.ID)).
			Query()
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			return rollback(tx, fmt.Errorf("clearing default providers: %w", err))
		}
	}

	query, args := b.Insert(providersTableName).
		Columns("id", "config", "api_key", "active", "is_default").
		Values(p.ID, string(config), nullString(p.APIKey), p.Active, p.Default).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if err := tx.Exec(ctx, query, args, nil); err != nil {
		return rollback(tx, fmt.Errorf("saving provider %s: %w", p.ID, err))
	}

	return tx.Commit()
}

// GetProvider implements credentials.ProviderStore.
func (d *Driver) GetProvider(ctx context.Context, id string) (*credentials.ProviderConfig, error) {
	b := d.builder()
	query, args := b.Select("config", "api_key", "active", "is_default").
		From(b.Table(providersTableName)).
		Where(entsql.EQ("id", id)).
		Query()

	providers, err := d.queryProviders(ctx, d.drv, query, args)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		return nil, credentials.NotFoundError{Kind: "provider", ID: id}
	}

	return providers[0], nil
}

// ListProviders implements credentials.ProviderStore.
func (d *Driver) ListProviders(ctx context.Context) ([]*credentials.ProviderConfig, error) {
	b := d.builder()
	query, args := b.Select("config", "api_key", "active", "is_default").
		From(b.Table(providersTableName)).
		OrderBy("id").
		Query()

	return d.queryProviders(ctx, d.drv, query, args)
}

// SetDefault implements credentials.ProviderStore.
func (d *Driver) SetDefault(ctx context.Context, id string) error {
	tx, err := d.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	b := d.builder()
	query, args := b.Select("config", "api_key", "active", "is_default").
		From(b.Table(providersTableName)).
		Where(entsql.EQ("id", id)).
		Query()

	providers, err := d.queryProviders(ctx, tx, query, args)
	if err != nil {
		return rollback(tx, err)
	}
	if len(providers) == 0 {
		return rollback(tx, credentials.NotFoundError{Kind: "provider", ID: id})
	}
	if !providers[0].Active {
		return rollback(tx, fmt.Errorf("%w: %s", credentials.ErrInactiveProvider, id))
	}

	query, args = b.Update(providersTableName).
		Set("is_default", false).
		Where(entsql.NEQ("id", id)).
		Query()
	if err := tx.Exec(ctx, query, args, nil); err != nil {
		return rollback(tx, fmt.Errorf("clearing default providers: %w", err))
	}

	query, args = b.Update(providersTableName).
		Set("is_default", true).
		Where(entsql.EQ("id", id)).
		Query()
	if err := tx.Exec(ctx, query, args, nil); err != nil {
		return rollback(tx, fmt.Errorf("setting default provider %s: %w", id, err))
	}

	return tx.Commit()
}

// queryProviders runs a provider select against conn, which is either the
// driver or an open transaction. The active and default columns are
// authoritative over the flags in the stored config.
func (d *Driver) queryProviders(ctx context.Context, conn dialect.ExecQuerier, query string, args []any) ([]*credentials.ProviderConfig, error) {
	var rows entsql.Rows
	if err := conn.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("failed to query providers: %w", err)
	}
	defer rows.Close()

	var providers []*credentials.ProviderConfig
	for rows.Next() {
		var (
			config    string
			apiKey    sql.NullString
			active    bool
			isDefault bool
		)
		if err := rows.Scan(&config, &apiKey, &active, &isDefault); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}

		p := &credentials.ProviderConfig{}
		if err := json.Unmarshal([]byte(config), p); err != nil {
			return nil, fmt.Errorf("decoding provider config: %w", err)
		}
		p.APIKey = apiKey.String
		p.Active = active
		p.Default = isDefault

		providers = append(providers, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read providers: %w", err)
	}

	return providers, nil
}

// GetAPIKey implements credentials.SecretStore.
func (d *Driver) GetAPIKey(ctx context.Context, providerID string) (string, error) {
	b := d.builder()
	query, args := b.Select("api_key").
		From(b.Table(providerKeysTableName)).
		Where(entsql.EQ("provider_id", providerID)).
		Query()

	var rows entsql.Rows
	if err := d.drv.Query(ctx, query, args, &rows); err != nil {
		return "", fmt.Errorf("failed to query api key: %w", err)
	}
	defer rows.Close()

	var key string
	if rows.Next() {
		if err := rows.Scan(&key); err != nil {
			return "", fmt.Errorf("failed to scan api key: %w", err)
		}
	}

	return key, rows.Err()
}

// SetAPIKey implements credentials.SecretStore.
func (d *Driver) SetAPIKey(ctx context.Context, providerID, key string) error {
	query, args := d.builder().Insert(providerKeysTableName).
		Columns("provider_id", "api_key").
		Values(providerID, key).
		OnConflict(
			entsql.ConflictColumns("provider_id"),
			entsql.ResolveWithNewValues(),
		).
		Query()

	if err := d.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("saving api key for %s: %w", providerID, err)
	}

	return nil
}

// GetToken implements credentials.SecretStore.
func (d *Driver) GetToken(ctx context.Context, providerID string) (*credentials.TokenRecord, error) {
	b := d.builder()
	query, args := b.Select("access_token", "refresh_token", "token_type", "scope", "issued_at", "expires_at").
		From(b.Table(oauthTokensTableName)).
		Where(entsql.EQ("provider_id", providerID)).
		Query()

	var rows entsql.Rows
	if err := d.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read token: %w", err)
		}
		return nil, credentials.NotFoundError{Kind: "token", ID: providerID}
	}

	var (
		tok       credentials.TokenRecord
		refresh   sql.NullString
		expiresAt sql.NullTime
	)
	if err := rows.Scan(&tok.AccessToken, &refresh, &tok.TokenType, &tok.Scope, &tok.IssuedAt, &expiresAt); err != nil {
		return nil, fmt.Errorf("failed to scan token: %w", err)
	}
	tok.RefreshToken = refresh.String
	if expiresAt.Valid {
		tok.ExpiresAt = expiresAt.Time
	}

	return &tok, nil
}

// SaveToken implements credentials.SecretStore. The row is replaced in a
// single upsert so readers never see a half-written token.
func (d *Driver) SaveToken(ctx context.Context, providerID string, token *credentials.TokenRecord) error {
	if token == nil {
		return errors.New("cannot save nil token")
	}

	var expiresAt any
	if !token.ExpiresAt.IsZero() {
		expiresAt = token.ExpiresAt.UTC()
	}
	issuedAt := token.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}

	query, args := d.builder().Insert(oauthTokensTableName).
		Columns("provider_id", "access_token", "refresh_token", "token_type", "scope", "issued_at", "expires_at").
		Values(providerID, token.AccessToken, nullString(token.RefreshToken), token.TokenType, token.Scope, issuedAt.UTC(), expiresAt).
		OnConflict(
			entsql.ConflictColumns("provider_id"),
			entsql.ResolveWithNewValues(),
		).
		Query()

	if err := d.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("saving token for %s: %w", providerID, err)
	}

	return nil
}

// DeleteToken implements credentials.SecretStore.
func (d *Driver) DeleteToken(ctx context.Context, providerID string) error {
	query, args := d.builder().Delete(oauthTokensTableName).
		Where(entsql.EQ("provider_id", providerID)).
		Query()

	if err := d.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("deleting token for %s: %w", providerID, err)
	}

	return nil
}
