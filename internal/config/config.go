package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all process-level settings. Per-service deployment settings
// live in the deployment descriptor (see LoadDescriptor).
type Config struct {
	// Logging configuration
	LogLevel  string
	LogFormat string

	// Deployment descriptor location
	DescriptorPath string

	// AWS configuration
	AWSRegion    string
	AWSAccountID string

	// Object storage configuration (S3 or any S3-compatible endpoint)
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool

	// Deployment history (DynamoDB); empty disables recording
	DeploymentsTableName string

	// Trigger API configuration
	Port      string
	APISecret string

	// Credentials handed to external tools
	GitAuthorName  string
	GitAuthorEmail string
	NpmToken       string
	DockerHubUser  string
	DockerHubToken string
}

// New creates a new Config instance by loading environment variables
// from .env file (if present) and OS environment.
// OS environment variables take precedence over .env file values.
func New() (*Config, error) {
	// Load .env file from the working directory (silently ignore if not found)
	envPath := filepath.Join(".", ".env")
	_ = godotenv.Load(envPath)

	cfg := &Config{
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "INFO"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),

		DescriptorPath: os.Getenv("DEPLOY_CONFIG"),

		AWSRegion:    getEnvOrDefault("AWS_REGION", "us-east-1"),
		AWSAccountID: os.Getenv("AWS_ACCOUNT_ID"),

		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3UsePathStyle:    getBoolOrDefault("S3_USE_PATH_STYLE", true),

		DeploymentsTableName: os.Getenv("DEPLOYMENTS_TABLE"),

		Port:      getEnvOrDefault("PORT", "3001"),
		APISecret: os.Getenv("DEPLOYER_API_SECRET"),

		GitAuthorName:  getEnvOrDefault("GIT_AUTHOR_NAME", "deployer"),
		GitAuthorEmail: getEnvOrDefault("GIT_AUTHOR_EMAIL", "deployer@localhost"),
		NpmToken:       os.Getenv("NPM_TOKEN"),
		DockerHubUser:  os.Getenv("DOCKERHUB_USERNAME"),
		DockerHubToken: os.Getenv("DOCKERHUB_TOKEN"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks that configured values are well formed
func (c *Config) validate() error {
	// Static credentials must come in pairs
	if (c.S3AccessKeyID == "") != (c.S3SecretAccessKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}

	// Validate AWS Account ID format (should be 12 digits)
	if c.AWSAccountID != "" && (len(c.AWSAccountID) != 12 || !isNumeric(c.AWSAccountID)) {
		return fmt.Errorf("AWS_ACCOUNT_ID must be exactly 12 digits (got '%s')", c.AWSAccountID)
	}

	if !isNumeric(c.Port) || c.Port == "" {
		return fmt.Errorf("PORT must be numeric (got '%s')", c.Port)
	}
	return nil
}

// ValidateServe checks the settings only the trigger API needs
func (c *Config) ValidateServe() error {
	if len(c.APISecret) < 32 {
		return fmt.Errorf("DEPLOYER_API_SECRET must be at least 32 characters (got %d)", len(c.APISecret))
	}
	return nil
}

// HistoryEnabled reports whether deployment runs are recorded
func (c *Config) HistoryEnabled() bool {
	return c.DeploymentsTableName != ""
}

// isNumeric checks if a string contains only numeric characters
func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
