package sqldriver

import (
	"math"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	interactionsTableName = "interactions"
	providersTableName    = "providers"
	providerKeysTableName = "provider_keys"
	oauthTokensTableName  = "oauth_tokens"
)

var (
	// InteractionsColumns holds the columns for the "interactions" table.
	InteractionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 64},
		{Name: "provider_id", Type: field.TypeString, Size: 255},
		{Name: "model", Type: field.TypeString, Size: 255},
		{Name: "streaming", Type: field.TypeBool, Default: false},
		{Name: "raw_request", Type: field.TypeBytes, Size: math.MaxUint32},
		{Name: "raw_response", Type: field.TypeBytes, Size: math.MaxUint32, Nullable: true},
		{Name: "content", Type: field.TypeString, Size: math.MaxInt32, Default: ""},
		{Name: "input_tokens", Type: field.TypeInt, Default: 0},
		{Name: "output_tokens", Type: field.TypeInt, Default: 0},
		{Name: "response_time_ms", Type: field.TypeInt64, Default: 0},
		{Name: "status_code", Type: field.TypeInt, Default: 0},
		{Name: "error", Type: field.TypeString, Size: math.MaxInt32, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "completed_at", Type: field.TypeTime, Nullable: true},
	}

	// InteractionsTable holds the schema information for the "interactions" table.
	InteractionsTable = &schema.Table{
		Name:       interactionsTableName,
		Columns:    InteractionsColumns,
		PrimaryKey: []*schema.Column{InteractionsColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "interaction_provider_id_created_at",
				Unique:  false,
				Columns: []*schema.Column{InteractionsColumns[1], InteractionsColumns[12]},
			},
			{
				Name:    "interaction_created_at",
				Unique:  false,
				Columns: []*schema.Column{InteractionsColumns[12]},
			},
		},
	}

	// ProvidersColumns holds the columns for the "providers" table.
	ProvidersColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 255},
		{Name: "config", Type: field.TypeString, Size: math.MaxInt32},
		{Name: "api_key", Type: field.TypeString, Size: 1024, Nullable: true},
		{Name: "active", Type: field.TypeBool, Default: true},
		{Name: "is_default", Type: field.TypeBool, Default: false},
	}

	// ProvidersTable holds the schema information for the "providers" table.
	ProvidersTable = &schema.Table{
		Name:       providersTableName,
		Columns:    ProvidersColumns,
		PrimaryKey: []*schema.Column{ProvidersColumns[0]},
	}

	// ProviderKeysColumns holds the columns for the "provider_keys" table.
	ProviderKeysColumns = []*schema.Column{
		{Name: "provider_id", Type: field.TypeString, Size: 255},
		{Name: "api_key", Type: field.TypeString, Size: 1024},
	}

	// ProviderKeysTable holds the schema information for the "provider_keys" table.
	ProviderKeysTable = &schema.Table{
		Name:       providerKeysTableName,
		Columns:    ProviderKeysColumns,
		PrimaryKey: []*schema.Column{ProviderKeysColumns[0]},
	}

	// OAuthTokensColumns holds the columns for the "oauth_tokens" table.
	OAuthTokensColumns = []*schema.Column{
		{Name: "provider_id", Type: field.TypeString, Size: 255},
		{Name: "access_token", Type: field.TypeString, Size: math.MaxUint16},
		{Name: "refresh_token", Type: field.TypeString, Size: math.MaxUint16, Nullable: true},
		{Name: "token_type", Type: field.TypeString, Size: 64, Default: ""},
		{Name: "scope", Type: field.TypeString, Size: 1024, Default: ""},
		{Name: "issued_at", Type: field.TypeTime},
		{Name: "expires_at", Type: field.TypeTime, Nullable: true},
	}

	// OAuthTokensTable holds the schema information for the "oauth_tokens" table.
	OAuthTokensTable = &schema.Table{
		Name:       oauthTokensTableName,
		Columns:    OAuthTokensColumns,
		PrimaryKey: []*schema.Column{OAuthTokensColumns[0]},
	}

	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		InteractionsTable,
		ProvidersTable,
		ProviderKeysTable,
		OAuthTokensTable,
	}
)
