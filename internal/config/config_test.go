package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected http address: %q", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != "docforge.db" {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected log level: %q", cfg.LogLevel)
	}
	if cfg.CacheTTL != 250*time.Millisecond {
		t.Fatalf("unexpected cache ttl: %v", cfg.CacheTTL)
	}
	if cfg.SyncScanInterval != 5*time.Second {
		t.Fatalf("unexpected sync interval: %v", cfg.SyncScanInterval)
	}
	if cfg.TokenTTL != 30*time.Minute {
		t.Fatalf("unexpected token ttl: %v", cfg.TokenTTL)
	}
}

func TestLoadParsesDocTypes(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")
	configViper.Set("doctypes", []map[string]any{
		{
			"name":                        "profile",
			"can_delete_documents":        true,
			"max_op_ids":                  10,
			"mint_version_on_empty_patch": true,
			"change_event_field_names":    []string{"name", "city"},
		},
	})

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if len(cfg.DocTypes) != 1 {
		t.Fatalf("expected one document type, got %d", len(cfg.DocTypes))
	}
	docType := cfg.DocTypes[0]
	if docType.Name != "profile" || !docType.CanDeleteDocuments {
		t.Fatalf("unexpected document type: %#v", docType)
	}
	if docType.MaxOpIDs != 10 || !docType.MintVersionOnEmptyPatch {
		t.Fatalf("unexpected policy knobs: %#v", docType)
	}
	if len(docType.ChangeEventFieldNames) != 2 {
		t.Fatalf("unexpected field names: %#v", docType.ChangeEventFieldNames)
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	if _, err := Load(NewViper()); err == nil {
		t.Fatalf("expected an error without a signing secret")
	}
}

func TestLoadRejectsUnnamedDocType(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")
	configViper.Set("doctypes", []map[string]any{{"can_delete_documents": true}})

	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected an error for a doctype without a name")
	}
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("DOCFORGE_HTTP_ADDRESS", "127.0.0.1:9999")
	configViper := viper.New()
	ApplyDefaults(configViper)
	configViper.Set("auth.signing_secret", "test-secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != "127.0.0.1:9999" {
		t.Fatalf("expected the environment override, got %q", cfg.HTTPAddress)
	}
}
