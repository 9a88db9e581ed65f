package config

import (
	"os"
	"path/filepath"
	"testing"

	"doc-translator/internal/types"
)

func newTestManager(t *testing.T) *ConfigManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultConfigFileName)
	m, err := NewConfigManager(path)
	if err != nil {
		t.Fatalf("NewConfigManager() error = %v", err)
	}
	return m
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	m := newTestManager(t)
	if err := m.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg := m.GetConfig()
	if cfg.OpenAIBaseURL != DefaultBaseURL {
		t.Errorf("OpenAIBaseURL = %q, want %q", cfg.OpenAIBaseURL, DefaultBaseURL)
	}
	if cfg.OpenAIModel != DefaultModel {
		t.Errorf("OpenAIModel = %q, want %q", cfg.OpenAIModel, DefaultModel)
	}
	if cfg.ContextWindow != DefaultContextWindow {
		t.Errorf("ContextWindow = %d, want %d", cfg.ContextWindow, DefaultContextWindow)
	}
	if cfg.RecognitionBaseURL != DefaultRecognitionBaseURL {
		t.Errorf("RecognitionBaseURL = %q, want %q", cfg.RecognitionBaseURL, DefaultRecognitionBaseURL)
	}
	if cfg.RepairRetries != DefaultRepairRetries {
		t.Errorf("RepairRetries = %d, want %d", cfg.RepairRetries, DefaultRepairRetries)
	}
}

func TestLoadInvalidJSONUsesDefaults(t *testing.T) {
	m := newTestManager(t)
	if err := os.WriteFile(m.GetConfigPath(), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := m.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.GetModel() != DefaultModel {
		t.Errorf("GetModel() = %q, want default after invalid JSON", m.GetModel())
	}
}

func TestLoadFillsEmptyFields(t *testing.T) {
	m := newTestManager(t)
	if err := os.WriteFile(m.GetConfigPath(), []byte(`{"openai_api_key":"sk-test"}`), 0600); err != nil {
		t.Fatal(err)
	}
	if err := m.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.GetAPIKey() != "sk-test" {
		t.Errorf("GetAPIKey() = %q, want sk-test", m.GetAPIKey())
	}
	if m.GetContextWindow() != DefaultContextWindow {
		t.Errorf("GetContextWindow() = %d, want default", m.GetContextWindow())
	}
	if m.GetRecognitionBaseURL() != DefaultRecognitionBaseURL {
		t.Errorf("GetRecognitionBaseURL() = %q, want default", m.GetRecognitionBaseURL())
	}
}

func TestSaveAndReload(t *testing.T) {
	m := newTestManager(t)
	m.SetConfig(&types.Config{
		OpenAIAPIKey:      "sk-abc",
		OpenAIModel:       "gpt-4o",
		ContextWindow:     4096,
		RecognitionAppID:  "app-id",
		RecognitionAppKey: "app-key",
		RepairRetries:     2,
	})
	if err := m.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	m2, err := NewConfigManager(m.GetConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if err := m2.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m2.GetAPIKey() != "sk-abc" {
		t.Errorf("GetAPIKey() = %q, want sk-abc", m2.GetAPIKey())
	}
	if m2.GetModel() != "gpt-4o" {
		t.Errorf("GetModel() = %q, want gpt-4o", m2.GetModel())
	}
	if m2.GetContextWindow() != 4096 {
		t.Errorf("GetContextWindow() = %d, want 4096", m2.GetContextWindow())
	}
	if m2.GetRecognitionAppID() != "app-id" || m2.GetRecognitionAppKey() != "app-key" {
		t.Errorf("recognition credentials not round-tripped")
	}
	if m2.GetRepairRetries() != 2 {
		t.Errorf("GetRepairRetries() = %d, want 2", m2.GetRepairRetries())
	}
}

func TestCredentialEnvFallback(t *testing.T) {
	m := newTestManager(t)
	if err := m.Load(); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvOpenAIAPIKey, "sk-env")
	t.Setenv(EnvOpenAIBaseURL, "https://proxy.example.com/v1")
	t.Setenv(EnvRecognitionAppID, "env-app-id")
	t.Setenv(EnvRecognitionAppKey, "env-app-key")

	if got := m.GetAPIKey(); got != "sk-env" {
		t.Errorf("GetAPIKey() = %q, want env fallback", got)
	}
	if got := m.GetBaseURL(); got != "https://proxy.example.com/v1" {
		t.Errorf("GetBaseURL() = %q, want env fallback", got)
	}
	if got := m.GetRecognitionAppID(); got != "env-app-id" {
		t.Errorf("GetRecognitionAppID() = %q, want env fallback", got)
	}
	if got := m.GetRecognitionAppKey(); got != "env-app-key" {
		t.Errorf("GetRecognitionAppKey() = %q, want env fallback", got)
	}

	// Config file values take precedence over environment.
	m.SetConfig(&types.Config{OpenAIAPIKey: "sk-file", OpenAIBaseURL: "https://file.example.com/v1"})
	if got := m.GetAPIKey(); got != "sk-file" {
		t.Errorf("GetAPIKey() = %q, want file value to win", got)
	}
	if got := m.GetBaseURL(); got != "https://file.example.com/v1" {
		t.Errorf("GetBaseURL() = %q, want file value to win", got)
	}
}

func TestUpdateConfigPartial(t *testing.T) {
	m := newTestManager(t)
	if err := m.Load(); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateConfig("sk-new", "", "gpt-4o-mini", 0, "", "", "", "", ""); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	if m.GetAPIKey() != "sk-new" {
		t.Errorf("GetAPIKey() = %q after update", m.GetAPIKey())
	}
	if m.GetModel() != "gpt-4o-mini" {
		t.Errorf("GetModel() = %q after update", m.GetModel())
	}
	// Untouched fields keep defaults.
	if m.GetBaseURL() != DefaultBaseURL {
		t.Errorf("GetBaseURL() = %q, want default preserved", m.GetBaseURL())
	}
	if m.GetContextWindow() != DefaultContextWindow {
		t.Errorf("GetContextWindow() = %d, want default preserved", m.GetContextWindow())
	}
}
