// Package config loads the pipeline configuration from the process
// environment. The configuration surface is environment variables only;
// the resulting Config is constructed once at startup and passed to each
// stage explicitly.
package config

import (
	"fmt"
	"os"
)

// Environment variable names read by Load.
const (
	EnvSalesforceUsername      = "OK_WATCH_SALESFORCE_USERNAME"
	EnvSalesforcePassword      = "OK_WATCH_SALESFORCE_PASSWORD"
	EnvSalesforceSecurityToken = "OK_WATCH_SALESFORCE_SECURITY_TOKEN"
	EnvSalesforceLoginDomain   = "OK_WATCH_SALESFORCE_LOGIN_DOMAIN"
	EnvAWSAccessKeyID          = "AWS_ACCESS_KEY_ID"
	EnvAWSSecretAccessKey      = "AWS_SECRET_ACCESS_KEY"
	EnvAWSRegion               = "AWS_REGION"
	EnvAWSDefaultRegion        = "AWS_DEFAULT_REGION"
	EnvS3Bucket                = "OK_WATCH_S3_BUCKET"
	EnvSlackToken              = "SLACK_ACCESS_TOKEN"
	EnvSlackChannel            = "SLACK_CHANNEL"
)

// Defaults for the optional variables.
const (
	DefaultLoginDomain  = "login.salesforce.com"
	DefaultSlackChannel = "ok_watch_salesforce"
)

// Config represents the entire application configuration.
type Config struct {
	Salesforce SalesforceConfig
	Storage    StorageConfig
	Slack      SlackConfig
}

// SalesforceConfig holds the credentials for the SOAP username/password
// login together with the login domain (overridable for sandbox orgs).
type SalesforceConfig struct {
	Username      string
	Password      string
	SecurityToken string
	LoginDomain   string
}

// StorageConfig holds the object storage credentials and the destination
// bucket.
type StorageConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
}

// SlackConfig configures failure notifications. An empty token disables
// them.
type SlackConfig struct {
	Token   string
	Channel string
}

// Enabled reports whether notifications are configured.
func (s SlackConfig) Enabled() bool {
	return s.Token != ""
}

// MissingConfigurationError reports a required environment variable that
// is unset or empty.
type MissingConfigurationError struct {
	Key string
}

func (e *MissingConfigurationError) Error() string {
	return fmt.Sprintf("missing configuration: %s is not set", e.Key)
}

// Load reads and validates the configuration from the process
// environment. It has no side effects beyond reading environment state.
func Load() (*Config, error) {
	cfg := &Config{
		Salesforce: SalesforceConfig{
			LoginDomain: withDefault(EnvSalesforceLoginDomain, DefaultLoginDomain),
		},
		Slack: SlackConfig{
			Token:   os.Getenv(EnvSlackToken),
			Channel: withDefault(EnvSlackChannel, DefaultSlackChannel),
		},
	}

	var err error
	if cfg.Salesforce.Username, err = required(EnvSalesforceUsername); err != nil {
		return nil, err
	}
	if cfg.Salesforce.Password, err = required(EnvSalesforcePassword); err != nil {
		return nil, err
	}
	if cfg.Salesforce.SecurityToken, err = required(EnvSalesforceSecurityToken); err != nil {
		return nil, err
	}
	if cfg.Storage.AccessKeyID, err = required(EnvAWSAccessKeyID); err != nil {
		return nil, err
	}
	if cfg.Storage.SecretAccessKey, err = required(EnvAWSSecretAccessKey); err != nil {
		return nil, err
	}
	if cfg.Storage.Bucket, err = required(EnvS3Bucket); err != nil {
		return nil, err
	}

	// The conventional AWS_DEFAULT_REGION spelling is accepted as a
	// fallback for AWS_REGION.
	cfg.Storage.Region = os.Getenv(EnvAWSRegion)
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = os.Getenv(EnvAWSDefaultRegion)
	}
	if cfg.Storage.Region == "" {
		return nil, &MissingConfigurationError{Key: EnvAWSRegion}
	}

	return cfg, nil
}

// required reads key from the environment, failing with a
// MissingConfigurationError naming the key when it is unset or empty.
func required(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", &MissingConfigurationError{Key: key}
	}
	return v, nil
}

func withDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
