// Package config loads layered operational settings for the core:
// storage DSN, blob root, default interpretation quota, schema
// evolution thresholds, and OTEL exporter selection. It uses a
// viper-singleton pattern: defaults registered in code, overridable
// by a config file and NEOTOMA_-prefixed environment variables.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize (re)creates the package-level viper instance with
// defaults registered, environment overrides enabled, and an optional
// config file search path. Safe to call multiple times (each call
// replaces the singleton), which keeps tests isolated from one
// another without a shared global config state.
func Initialize() error {
	v = viper.New()

	v.SetEnvPrefix("NEOTOMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("neotoma")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/neotoma")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.dsn", "file:neotoma.db")
	v.SetDefault("blobstore.root", "./blobs")
	v.SetDefault("quota.default_interpretations_per_tenant", 10000)
	v.SetDefault("schema.promotion_min_occurrences", 3)
	v.SetDefault("schema.promotion_min_sources", 2)
	v.SetDefault("otel.exporter", "stdout")
	v.SetDefault("query.default_limit", 50)
	v.SetDefault("query.max_limit", 500)
	v.SetDefault("graph.default_neighborhood_depth", 1)
	v.SetDefault("graph.max_related_depth", 5)
}

func ensure() *viper.Viper {
	if v == nil {
		_ = Initialize()
	}
	return v
}

// GetString, GetInt, GetFloat64, and GetBool read a setting by its
// dotted key, after environment and config-file overrides have been
// applied.
func GetString(key string) string   { return ensure().GetString(key) }
func GetInt(key string) int         { return ensure().GetInt(key) }
func GetInt64(key string) int64     { return ensure().GetInt64(key) }
func GetFloat64(key string) float64 { return ensure().GetFloat64(key) }
func GetBool(key string) bool       { return ensure().GetBool(key) }
