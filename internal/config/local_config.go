package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of neotoma.yaml read directly, bypassing
// the viper singleton. Useful for CLI entry points that need a setting
// (e.g. storage path) before the service and its viper instance are
// constructed.
type LocalConfig struct {
	StorageDSN   string `yaml:"storage_dsn"`
	BlobRoot     string `yaml:"blob_root"`
	DefaultActor string `yaml:"default_actor"`
}

// LoadLocalConfig reads and parses path directly. Returns an empty,
// non-nil LocalConfig if the file does not exist or cannot be parsed
// — callers always get a value to layer defaults onto.
func LoadLocalConfig(path string) *LocalConfig {
	data, err := os.ReadFile(path) // #nosec G304 - path is operator supplied
	if err != nil {
		return &LocalConfig{}
	}
	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}
	return &cfg
}
