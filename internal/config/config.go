// Package config provides configuration management for the document translator.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"doc-translator/internal/logger"
	"doc-translator/internal/types"
)

const (
	// DefaultConfigFileName is the default configuration file name
	DefaultConfigFileName = "doc-translator-config.json"
	// EnvOpenAIAPIKey is the environment variable name for OpenAI API key
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	// EnvOpenAIBaseURL is the environment variable name for OpenAI base URL
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
	// EnvRecognitionAppID is the environment variable name for the formula recognition app ID
	EnvRecognitionAppID = "MATHPIX_APP_ID"
	// EnvRecognitionAppKey is the environment variable name for the formula recognition app key
	EnvRecognitionAppKey = "MATHPIX_APP_KEY"
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is the default OpenAI model to use
	DefaultModel = "gpt-4"
	// DefaultRecognitionBaseURL is the default formula recognition API base URL
	DefaultRecognitionBaseURL = "https://api.mathpix.com/v3"
	// DefaultContextWindow is the default context window size in tokens.
	// Controls how much text goes into a single translation call.
	DefaultContextWindow = 8192
	// DefaultRepairRetries is how many times a chunk with lost placeholders
	// is re-translated before the loss is reported.
	DefaultRepairRetries = 1
)

// ConfigManager manages application configuration
type ConfigManager struct {
	configPath string
	config     *types.Config
}

// NewConfigManager creates a new ConfigManager with the specified config path.
// If configPath is empty, it uses the default path in user's home directory.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Error("failed to get user home directory", err)
			return nil, types.NewAppError(types.ErrConfig, "failed to get user home directory", err)
		}
		configPath = filepath.Join(homeDir, ".config", "doc-translator", DefaultConfigFileName)
	}

	logger.Info("ConfigManager initialized", logger.String("configPath", configPath))
	return &ConfigManager{
		configPath: configPath,
		config:     defaultConfig(),
	}, nil
}

// defaultConfig returns a Config with default values
func defaultConfig() *types.Config {
	return &types.Config{
		OpenAIAPIKey:       "",
		OpenAIBaseURL:      DefaultBaseURL,
		OpenAIModel:        DefaultModel,
		ContextWindow:      DefaultContextWindow,
		RecognitionBaseURL: DefaultRecognitionBaseURL,
		RepairRetries:      DefaultRepairRetries,
	}
}

// Load loads configuration from the config file.
// If the file doesn't exist, it uses default values.
// Environment variables take precedence for credentials if config file values are empty.
func (m *ConfigManager) Load() error {
	logger.Debug("loading configuration", logger.String("path", m.configPath))

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("config file not found, using defaults", logger.String("path", m.configPath))
			m.config = defaultConfig()
		} else {
			logger.Error("failed to read config file", err, logger.String("path", m.configPath))
			return types.NewAppError(types.ErrConfig, "failed to read config file", err)
		}
	} else {
		config := &types.Config{}
		if err := json.Unmarshal(data, config); err != nil {
			// Invalid JSON, use defaults
			logger.Warn("invalid config file format, using defaults", logger.String("path", m.configPath), logger.Err(err))
			m.config = defaultConfig()
		} else {
			logger.Info("configuration loaded successfully",
				logger.String("path", m.configPath),
				logger.Int("apiKeyLength", len(config.OpenAIAPIKey)),
				logger.String("baseURL", config.OpenAIBaseURL),
				logger.String("model", config.OpenAIModel))
			m.config = config
		}
	}

	// Apply defaults for empty fields
	if m.config.OpenAIModel == "" {
		m.config.OpenAIModel = DefaultModel
	}
	if m.config.OpenAIBaseURL == "" {
		m.config.OpenAIBaseURL = DefaultBaseURL
	}
	if m.config.ContextWindow == 0 {
		m.config.ContextWindow = DefaultContextWindow
	}
	if m.config.RecognitionBaseURL == "" {
		m.config.RecognitionBaseURL = DefaultRecognitionBaseURL
	}
	if m.config.RepairRetries == 0 {
		m.config.RepairRetries = DefaultRepairRetries
	}

	return nil
}

// Save saves the current configuration to the config file.
func (m *ConfigManager) Save() error {
	logger.Debug("saving configuration", logger.String("path", m.configPath))

	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Error("failed to create config directory", err, logger.String("dir", dir))
		return types.NewAppError(types.ErrConfig, "failed to create config directory", err)
	}

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		logger.Error("failed to marshal config", err)
		return types.NewAppError(types.ErrConfig, "failed to marshal config", err)
	}

	// 0600: the file holds API credentials
	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		logger.Error("failed to write config file", err, logger.String("path", m.configPath))
		return types.NewAppError(types.ErrConfig, "failed to write config file", err)
	}

	logger.Info("configuration saved successfully", logger.String("path", m.configPath))
	return nil
}

// GetAPIKey returns the OpenAI API key.
// It first checks the config file value, then falls back to the environment variable.
func (m *ConfigManager) GetAPIKey() string {
	if m.config != nil && m.config.OpenAIAPIKey != "" {
		return m.config.OpenAIAPIKey
	}
	return os.Getenv(EnvOpenAIAPIKey)
}

// SetAPIKey sets the OpenAI API key and saves the configuration.
func (m *ConfigManager) SetAPIKey(key string) error {
	logger.Info("setting API key")
	if m.config == nil {
		m.config = defaultConfig()
	}
	m.config.OpenAIAPIKey = key
	return m.Save()
}

// GetBaseURL returns the OpenAI API base URL.
// It first checks the config file value, then falls back to the environment variable.
func (m *ConfigManager) GetBaseURL() string {
	if m.config != nil && m.config.OpenAIBaseURL != "" {
		return m.config.OpenAIBaseURL
	}
	if envURL := os.Getenv(EnvOpenAIBaseURL); envURL != "" {
		return envURL
	}
	return DefaultBaseURL
}

// GetModel returns the OpenAI model to use.
func (m *ConfigManager) GetModel() string {
	if m.config != nil && m.config.OpenAIModel != "" {
		return m.config.OpenAIModel
	}
	return DefaultModel
}

// GetContextWindow returns the context window size in tokens.
func (m *ConfigManager) GetContextWindow() int {
	if m.config != nil && m.config.ContextWindow > 0 {
		return m.config.ContextWindow
	}
	return DefaultContextWindow
}

// GetRecognitionAppID returns the formula recognition service app ID.
// It first checks the config file value, then falls back to the environment variable.
func (m *ConfigManager) GetRecognitionAppID() string {
	if m.config != nil && m.config.RecognitionAppID != "" {
		return m.config.RecognitionAppID
	}
	return os.Getenv(EnvRecognitionAppID)
}

// GetRecognitionAppKey returns the formula recognition service app key.
// It first checks the config file value, then falls back to the environment variable.
func (m *ConfigManager) GetRecognitionAppKey() string {
	if m.config != nil && m.config.RecognitionAppKey != "" {
		return m.config.RecognitionAppKey
	}
	return os.Getenv(EnvRecognitionAppKey)
}

// GetRecognitionBaseURL returns the formula recognition API base URL.
func (m *ConfigManager) GetRecognitionBaseURL() string {
	if m.config != nil && m.config.RecognitionBaseURL != "" {
		return m.config.RecognitionBaseURL
	}
	return DefaultRecognitionBaseURL
}

// GetGlossaryDirectory returns the glossary directory.
func (m *ConfigManager) GetGlossaryDirectory() string {
	if m.config != nil {
		return m.config.GlossaryDirectory
	}
	return ""
}

// GetWorkDirectory returns the work directory.
func (m *ConfigManager) GetWorkDirectory() string {
	if m.config != nil {
		return m.config.WorkDirectory
	}
	return ""
}

// GetOutputDirectory returns the output directory.
func (m *ConfigManager) GetOutputDirectory() string {
	if m.config != nil {
		return m.config.OutputDirectory
	}
	return ""
}

// GetRepairRetries returns how many repair re-translations are attempted
// for a chunk that lost placeholders.
func (m *ConfigManager) GetRepairRetries() int {
	if m.config != nil && m.config.RepairRetries > 0 {
		return m.config.RepairRetries
	}
	return DefaultRepairRetries
}

// GetConfig returns the current configuration.
func (m *ConfigManager) GetConfig() *types.Config {
	if m.config == nil {
		return defaultConfig()
	}
	return m.config
}

// SetConfig sets the entire configuration.
func (m *ConfigManager) SetConfig(config *types.Config) {
	m.config = config
}

// GetConfigPath returns the path to the config file.
func (m *ConfigManager) GetConfigPath() string {
	return m.configPath
}

// UpdateConfig updates the configuration with new values and saves it.
// Empty or zero arguments leave the corresponding field unchanged.
func (m *ConfigManager) UpdateConfig(apiKey, baseURL, model string, contextWindow int, appID, appKey, glossaryDir, workDir, outputDir string) error {
	logger.Info("updating configuration")
	if m.config == nil {
		m.config = defaultConfig()
	}

	if apiKey != "" {
		m.config.OpenAIAPIKey = apiKey
	}
	if baseURL != "" {
		m.config.OpenAIBaseURL = baseURL
	}
	if model != "" {
		m.config.OpenAIModel = model
	}
	if contextWindow > 0 {
		m.config.ContextWindow = contextWindow
	}
	if appID != "" {
		m.config.RecognitionAppID = appID
	}
	if appKey != "" {
		m.config.RecognitionAppKey = appKey
	}
	if glossaryDir != "" {
		m.config.GlossaryDirectory = glossaryDir
	}
	if workDir != "" {
		m.config.WorkDirectory = workDir
	}
	if outputDir != "" {
		m.config.OutputDirectory = outputDir
	}

	return m.Save()
}
