package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"encoding/json"

	"github.com/goccy/go-yaml"
	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// TriageConfig is the YAML configuration file for feeds, triage rules and
// platform behaviour. It is loaded once at startup and schema validated
// before the engine starts.
type TriageConfig struct {
	Feeds     []FeedConfig    `yaml:"feeds,omitempty" json:"feeds,omitempty"`
	Rules     RulesConfig     `yaml:"rules" json:"rules"`
	Dedup     DedupConfig     `yaml:"dedup,omitempty" json:"dedup,omitempty"`
	Agent     AgentConfig     `yaml:"agent,omitempty" json:"agent,omitempty"`
	Notify    NotifyConfig    `yaml:"notify,omitempty" json:"notify,omitempty"`
	Retention RetentionConfig `yaml:"retention,omitempty" json:"retention,omitempty"`
}

type FeedConfig struct {
	Name         string   `yaml:"name" json:"name,omitempty" jsonschema:"required"`
	URL          string   `yaml:"url" json:"url,omitempty" jsonschema:"required"`
	Enabled      *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	PollInterval string   `yaml:"pollInterval,omitempty" json:"pollInterval,omitempty"`
	Tags         []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

type RulesConfig struct {
	Relevance  []RelevanceRule `yaml:"relevance" json:"relevance,omitempty" jsonschema:"required"`
	Thresholds Thresholds      `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`
	Guardrails []GuardrailRule `yaml:"guardrails,omitempty" json:"guardrails,omitempty"`
}

// RelevanceRule scores an article when its expression matches. The expression
// runs against the article environment, see the triage package for the
// available fields and helper functions.
type RelevanceRule struct {
	Name     string `yaml:"name" json:"name,omitempty" jsonschema:"required"`
	When     string `yaml:"when" json:"when,omitempty" jsonschema:"required"`
	Weight   int    `yaml:"weight" json:"weight,omitempty" jsonschema:"required"`
	Severity string `yaml:"severity,omitempty" json:"severity,omitempty" jsonschema:"enum=CRITICAL,enum=HIGH,enum=MEDIUM,enum=LOW,enum=INFO"`
}

// Thresholds map an article's summed rule weight to a triage decision.
// Score >= AutoPublish publishes, score >= Review escalates to an analyst,
// anything below drops.
type Thresholds struct {
	AutoPublish int `yaml:"autoPublish,omitempty" json:"autoPublish,omitempty"`
	Review      int `yaml:"review,omitempty" json:"review,omitempty"`
}

// GuardrailRule gates content before publication. A matching deny rule drops
// the article outright, a matching review rule forces analyst review.
type GuardrailRule struct {
	Name    string `yaml:"name" json:"name,omitempty" jsonschema:"required"`
	Action  string `yaml:"action" json:"action,omitempty" jsonschema:"required,enum=deny,enum=review"`
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	When    string `yaml:"when,omitempty" json:"when,omitempty"`
}

type DedupConfig struct {
	Window string `yaml:"window,omitempty" json:"window,omitempty"`
}

type AgentConfig struct {
	Enabled         bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Provider        string  `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=openai,enum=static"`
	Model           string  `yaml:"model,omitempty" json:"model,omitempty"`
	BaseURL         string  `yaml:"baseUrl,omitempty" json:"baseUrl,omitempty"`
	APIKeyEnv       string  `yaml:"apiKeyEnv,omitempty" json:"apiKeyEnv,omitempty"`
	MaxTurns        int     `yaml:"maxTurns,omitempty" json:"maxTurns,omitempty"`
	ConfidenceFloor float64 `yaml:"confidenceFloor,omitempty" json:"confidenceFloor,omitempty"`
}

type NotifyConfig struct {
	WebhookURL  string `yaml:"webhookUrl,omitempty" json:"webhookUrl,omitempty"`
	NtfyURL     string `yaml:"ntfyUrl,omitempty" json:"ntfyUrl,omitempty"`
	MinSeverity string `yaml:"minSeverity,omitempty" json:"minSeverity,omitempty" jsonschema:"enum=CRITICAL,enum=HIGH,enum=MEDIUM,enum=LOW,enum=INFO"`
}

type RetentionConfig struct {
	Articles      string `yaml:"articles,omitempty" json:"articles,omitempty"`
	Raw           string `yaml:"raw,omitempty" json:"raw,omitempty"`
	Workflows     string `yaml:"workflows,omitempty" json:"workflows,omitempty"`
	DeadLetters   string `yaml:"deadLetters,omitempty" json:"deadLetters,omitempty"`
	SweepInterval string `yaml:"sweepInterval,omitempty" json:"sweepInterval,omitempty"`
}

// LoadTriageConfig reads, defaults and schema validates a config file.
func LoadTriageConfig(path string) (*TriageConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg TriageConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.ApplyDefaults()
	if err := ValidateTriageConfig(&cfg); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	if err := cfg.checkDurations(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with working defaults so a minimal config
// file only needs feeds and relevance rules.
func (c *TriageConfig) ApplyDefaults() {
	if c.Rules.Thresholds.AutoPublish == 0 {
		c.Rules.Thresholds.AutoPublish = 70
	}
	if c.Rules.Thresholds.Review == 0 {
		c.Rules.Thresholds.Review = 30
	}
	if c.Dedup.Window == "" {
		c.Dedup.Window = "72h"
	}
	if c.Agent.Provider == "" {
		c.Agent.Provider = "openai"
	}
	if c.Agent.MaxTurns == 0 {
		c.Agent.MaxTurns = 6
	}
	if c.Agent.ConfidenceFloor == 0 {
		c.Agent.ConfidenceFloor = 0.5
	}
	if c.Notify.MinSeverity == "" {
		c.Notify.MinSeverity = "HIGH"
	}
	if c.Retention.Articles == "" {
		c.Retention.Articles = "720h"
	}
	if c.Retention.Raw == "" {
		c.Retention.Raw = "168h"
	}
	if c.Retention.Workflows == "" {
		c.Retention.Workflows = "2160h"
	}
	if c.Retention.DeadLetters == "" {
		c.Retention.DeadLetters = "720h"
	}
	if c.Retention.SweepInterval == "" {
		c.Retention.SweepInterval = "6 hours"
	}
	for i := range c.Feeds {
		if c.Feeds[i].PollInterval == "" {
			c.Feeds[i].PollInterval = "15 minutes"
		}
		if c.Feeds[i].Enabled == nil {
			enabled := true
			c.Feeds[i].Enabled = &enabled
		}
	}
}

func (c *TriageConfig) checkDurations() error {
	var errs []error
	for name, v := range map[string]string{
		"dedup.window":          c.Dedup.Window,
		"retention.articles":    c.Retention.Articles,
		"retention.raw":         c.Retention.Raw,
		"retention.workflows":   c.Retention.Workflows,
		"retention.deadLetters": c.Retention.DeadLetters,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a valid duration", name, v))
		}
	}
	return errors.Join(errs...)
}

// DedupWindow returns the parsed dedup lookback window.
func (c *TriageConfig) DedupWindow() time.Duration {
	d, err := time.ParseDuration(c.Dedup.Window)
	if err != nil {
		return 72 * time.Hour
	}
	return d
}

// ArticleRetention returns the parsed retention window for terminal articles.
func (c *RetentionConfig) ArticleRetention() time.Duration {
	return parseDurationOr(c.Articles, 720*time.Hour)
}

// RawRetention returns the parsed retention window for raw feed payloads.
func (c *RetentionConfig) RawRetention() time.Duration {
	return parseDurationOr(c.Raw, 168*time.Hour)
}

// WorkflowRetention returns the parsed retention window for finished workflows.
func (c *RetentionConfig) WorkflowRetention() time.Duration {
	return parseDurationOr(c.Workflows, 2160*time.Hour)
}

// DeadLetterRetention returns the parsed retention window for redriven dead letters.
func (c *RetentionConfig) DeadLetterRetention() time.Duration {
	return parseDurationOr(c.DeadLetters, 720*time.Hour)
}

func parseDurationOr(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

var triageSchemaOnce = sync.OnceValues(func() ([]byte, error) {
	r := &jsonschema.Reflector{ExpandedStruct: true}
	schema := r.Reflect(&TriageConfig{})
	schema.ID = "https://github.com/sentinelwatch/sentinel/config"
	return json.MarshalIndent(schema, "", "  ")
})

// TriageConfigSchema returns the JSON schema for the config file.
func TriageConfigSchema() ([]byte, error) {
	return triageSchemaOnce()
}

// ValidateTriageConfig checks a config against the reflected JSON schema.
func ValidateTriageConfig(cfg *TriageConfig) error {
	schemaBytes, err := TriageConfigSchema()
	if err != nil {
		return err
	}
	schemaLoader := gojsonschema.NewStringLoader(string(schemaBytes))
	docLoader := gojsonschema.NewGoLoader(cfg)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return err
	}
	if !result.Valid() {
		var errs []error
		for _, e := range result.Errors() {
			errs = append(errs, errors.New(e.String()))
		}
		return errors.Join(errs...)
	}
	return nil
}
