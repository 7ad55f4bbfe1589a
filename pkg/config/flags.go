package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline.
type Flag struct {
	// Name is the long flag name (e.g. "listen").
	Name string

	// Shorthand is the one-letter short flag (e.g. "l"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "gateway.listen").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag and BindRegisteredFlags to
// avoid typos or drift from one command to another.
const (
	FlagListen          = "listen"
	FlagRequestTimeout  = "request-timeout"
	FlagDefaultProvider = "default-provider"
	FlagStorageDriver   = "storage-driver"
	FlagStorageDSN      = "storage-dsn"
	FlagSQLite          = "sqlite"
	FlagEventStream     = "eventstream"
	FlagKafkaBrokers    = "kafka-brokers"
	FlagKafkaTopic      = "kafka-topic"
)

// ServeFlags is the FlagSet used by "switchboard serve".
var ServeFlags = FlagSet{
	FlagListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "gateway.listen",
		Description: "Address for the gateway to listen on",
	},
	FlagRequestTimeout: {
		Name:        "request-timeout",
		ViperKey:    "gateway.request_timeout",
		Description: "Upper bound on a single upstream request",
	},
	FlagDefaultProvider: {
		Name:        "default-provider",
		Shorthand:   "p",
		ViperKey:    "gateway.default_provider",
		Description: "Provider id used when the store flags no default",
	},
	FlagStorageDriver: {
		Name:        "storage-driver",
		ViperKey:    "storage.driver",
		Description: "Interaction store (memory, sqlite, postgres, mysql)",
	},
	FlagStorageDSN: {
		Name:        "storage-dsn",
		ViperKey:    "storage.dsn",
		Description: "Connection string for the postgres or mysql store",
	},
	FlagSQLite: {
		Name:        "sqlite",
		Shorthand:   "s",
		ViperKey:    "storage.sqlite_path",
		Description: "Path to the SQLite database",
	},
	FlagEventStream: {
		Name:        "eventstream",
		ViperKey:    "eventstream.provider",
		Description: "Interaction event publisher (nop, kafka)",
	},
	FlagKafkaBrokers: {
		Name:        "kafka-brokers",
		ViperKey:    "eventstream.brokers",
		Description: "Comma-separated Kafka brokers",
	},
	FlagKafkaTopic: {
		Name:        "kafka-topic",
		ViperKey:    "eventstream.topic",
		Description: "Kafka topic for interaction events",
	},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}
