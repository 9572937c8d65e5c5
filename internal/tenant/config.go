// Package tenant holds the per-application configuration and the runtime
// context shared by the query and write pipelines of one tenant.
package tenant

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/restcore/internal/ir"
)

// Defaults applied by DefaultConfig.
const (
	DefaultSessionLength    = 365 * 24 * time.Hour
	DefaultMaxSubqueryDepth = 16
	DefaultMaxFollowups     = 8

	// MinFollowups is one run for each distinct follow-up action. The
	// queue never holds an action twice, so a lower cap could fail a
	// write after its row was saved.
	MinFollowups = 3
)

// PasswordPolicy constrains user passwords. The zero value allows anything.
type PasswordPolicy struct {
	// ValidatorPattern is a regular expression every password must match.
	ValidatorPattern string `yaml:"validator_pattern"`
	// ValidationError replaces the default policy violation message.
	ValidationError string `yaml:"validation_error"`
	// DoNotAllowUsername rejects passwords containing the username.
	DoNotAllowUsername bool `yaml:"do_not_allow_username"`
	// MaxPasswordAge enables stamping of the password change time.
	MaxPasswordAge time.Duration `yaml:"max_password_age"`
	// MaxPasswordHistory is the number of previous hashes a new password
	// may not reuse.
	MaxPasswordHistory int `yaml:"max_password_history"`
}

// Enabled reports whether any rule is set.
func (p PasswordPolicy) Enabled() bool {
	return p.ValidatorPattern != "" || p.DoNotAllowUsername || p.MaxPasswordAge > 0 || p.MaxPasswordHistory > 0
}

// Config is the configuration of one tenant.
type Config struct {
	AppID     string `yaml:"app_id"`
	AppName   string `yaml:"app_name"`
	ServerURL string `yaml:"server_url"`

	AllowClientClassCreation bool `yaml:"allow_client_class_creation"`
	AllowCustomObjectID      bool `yaml:"allow_custom_object_id"`
	ObjectIDSize             int  `yaml:"object_id_size"`

	SessionLength                   time.Duration `yaml:"session_length"`
	RevokeSessionOnPasswordReset    bool          `yaml:"revoke_session_on_password_reset"`
	VerifyUserEmails                bool          `yaml:"verify_user_emails"`
	PreventLoginWithUnverifiedEmail bool          `yaml:"prevent_login_with_unverified_email"`
	EmailVerifyTokenValidity        time.Duration `yaml:"email_verify_token_validity"`

	PasswordPolicy PasswordPolicy `yaml:"password_policy"`

	// MaxLimit caps the limit of every find. Zero disables the cap.
	MaxLimit         int `yaml:"max_limit"`
	MaxSubqueryDepth int `yaml:"max_subquery_depth"`
	MaxFollowups     int `yaml:"max_followups"`
	BcryptCost       int `yaml:"bcrypt_cost"`

	LiveQueryClasses []string `yaml:"live_query_classes"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		AppID:                        "restcore",
		AppName:                      "restcore",
		ServerURL:                    "http://localhost:1337/parse",
		AllowClientClassCreation:     true,
		ObjectIDSize:                 ir.DefaultObjectIDSize,
		SessionLength:                DefaultSessionLength,
		RevokeSessionOnPasswordReset: true,
		MaxSubqueryDepth:             DefaultMaxSubqueryDepth,
		MaxFollowups:                 DefaultMaxFollowups,
	}
}

// LoadConfig reads a YAML config file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig. Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if c.AppID == "" {
		return fmt.Errorf("app_id is required")
	}
	if c.ObjectIDSize < 1 {
		return fmt.Errorf("object_id_size must be positive, got %d", c.ObjectIDSize)
	}
	if c.MaxLimit < 0 {
		return fmt.Errorf("max_limit must not be negative")
	}
	if c.MaxSubqueryDepth < 1 {
		return fmt.Errorf("max_subquery_depth must be positive, got %d", c.MaxSubqueryDepth)
	}
	if c.MaxFollowups < MinFollowups {
		return fmt.Errorf("max_followups must be at least %d, got %d", MinFollowups, c.MaxFollowups)
	}
	if c.SessionLength <= 0 {
		return fmt.Errorf("session_length must be positive")
	}
	if p := c.PasswordPolicy.ValidatorPattern; p != "" {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("password_policy.validator_pattern: %w", err)
		}
	}
	return nil
}
