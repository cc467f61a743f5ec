package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "DOCFORGE"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "docforge.db"
	defaultLogLevel      = "info"
	defaultCacheTTLMs    = 250
	defaultSyncIntervalS = 5
	defaultTokenTTLMin   = 30
)

// DocTypeConfig declares one document type in the configuration file.
type DocTypeConfig struct {
	Name                    string   `mapstructure:"name"`
	CanDeleteDocuments      bool     `mapstructure:"can_delete_documents"`
	CanReplaceDocuments     bool     `mapstructure:"can_replace_documents"`
	CanFetchWholeCollection bool     `mapstructure:"can_fetch_whole_collection"`
	MaxOpIDs                int      `mapstructure:"max_op_ids"`
	MaxDigests              int      `mapstructure:"max_digests"`
	MintVersionOnEmptyPatch bool     `mapstructure:"mint_version_on_empty_patch"`
	ChangeEventFieldNames   []string `mapstructure:"change_event_field_names"`
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	AuthSigningKey   string
	TokenTTL         time.Duration
	CacheTTL         time.Duration
	SyncScanInterval time.Duration
	DocTypes         []DocTypeConfig
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("cache.ttl_ms", defaultCacheTTLMs)
	configViper.SetDefault("sync.scan_interval_s", defaultSyncIntervalS)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMin)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		AuthSigningKey:   configViper.GetString("auth.signing_secret"),
		TokenTTL:         time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		CacheTTL:         time.Duration(configViper.GetInt("cache.ttl_ms")) * time.Millisecond,
		SyncScanInterval: time.Duration(configViper.GetInt("sync.scan_interval_s")) * time.Second,
	}

	if err := configViper.UnmarshalKey("doctypes", &cfg.DocTypes); err != nil {
		return AppConfig{}, fmt.Errorf("doctypes configuration is invalid: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningKey) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	for _, docType := range c.DocTypes {
		if strings.TrimSpace(docType.Name) == "" {
			return fmt.Errorf("doctypes entries require a name")
		}
	}
	return nil
}
