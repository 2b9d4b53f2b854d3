package tracker

import (
	"time"

	"github.com/kwv/rigidreg/registration"
)

// Config represents the full configuration file
type Config struct {
	MQTT    MQTTConfig                      `yaml:"mqtt" json:"mqtt"`
	ICP     ICPSettings                     `yaml:"icp" json:"icp"`
	Filter  FilterConfig                    `yaml:"filter" json:"filter"`
	History HistoryConfig                   `yaml:"history,omitempty" json:"history,omitempty"`
	Log     LogConfig                       `yaml:"log,omitempty" json:"log,omitempty"`
	HTTP    HTTPConfig                      `yaml:"http,omitempty" json:"http,omitempty"`
	Quality *registration.QualityThresholds `yaml:"quality,omitempty" json:"quality,omitempty"` // Optional RMS grading thresholds
	Tools   []ToolConfig                    `yaml:"tools" json:"tools"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// ICPSettings is the YAML form of registration.ICPConfig. Zero values fall
// back to registration.DefaultICPConfig.
type ICPSettings struct {
	MaxIterations   int     `yaml:"maxIterations,omitempty" json:"maxIterations,omitempty"`
	RMSThreshold    float64 `yaml:"rmsThreshold,omitempty" json:"rmsThreshold,omitempty"`
	JustVisible     *bool   `yaml:"justVisible,omitempty" json:"justVisible,omitempty"`
	KDTreeMinPoints int     `yaml:"kdTreeMinPoints,omitempty" json:"kdTreeMinPoints,omitempty"`
	Refine          bool    `yaml:"refine,omitempty" json:"refine,omitempty"`
	Verbose         bool    `yaml:"verbose,omitempty" json:"verbose,omitempty"`
}

// FilterConfig selects how the recent transforms of a tool are averaged
type FilterConfig struct {
	Policy string `yaml:"policy,omitempty" json:"policy,omitempty"` // constant, linear, log, square or cubic
	Window int    `yaml:"window,omitempty" json:"window,omitempty"` // number of recent transforms averaged
}

// HistoryConfig locates the sqlite registration history; an empty path disables it
type HistoryConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// LogConfig enables a rolling log file next to stderr
type LogConfig struct {
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"maxSizeMB,omitempty" json:"maxSizeMB,omitempty"`
	MaxBackups int    `yaml:"maxBackups,omitempty" json:"maxBackups,omitempty"`
	MaxAgeDays int    `yaml:"maxAgeDays,omitempty" json:"maxAgeDays,omitempty"`
	Compress   bool   `yaml:"compress,omitempty" json:"compress,omitempty"`
}

// HTTPConfig holds the status server settings
type HTTPConfig struct {
	Port int `yaml:"port,omitempty" json:"port,omitempty"`
}

// ToolConfig defines a tracked rigid body: the model point list it is
// registered against and the topic its acquired points arrive on.
type ToolConfig struct {
	ID      string  `yaml:"id" json:"id"`
	Topic   string  `yaml:"topic,omitempty" json:"topic,omitempty"`
	Model   string  `yaml:"model" json:"model"`                         // point list file
	Initial *string `yaml:"initial,omitempty" json:"initial,omitempty"` // Optional RigidMatrix file seeding ICP
	Color   string  `yaml:"color,omitempty" json:"color,omitempty"`
}

// Registration is the outcome of one registration run for a tool
type Registration struct {
	ToolID     string                      `json:"toolId"`
	RunID      string                      `json:"runId"`
	Transform  registration.RigidTransform `json:"transform"`
	FirstRMS   float64                     `json:"firstRms"`
	LastRMS    float64                     `json:"lastRms"`
	Iterations int                         `json:"iterations"`
	Converged  bool                        `json:"converged"`
	Quality    registration.Quality        `json:"quality"`
	Timestamp  time.Time                   `json:"timestamp"`
}

// GetToolByID returns the tool config for a given ID, or nil
func (c *Config) GetToolByID(id string) *ToolConfig {
	for i := range c.Tools {
		if c.Tools[i].ID == id {
			return &c.Tools[i]
		}
	}
	return nil
}

// GetToolByTopic returns the tool subscribed to topic, or nil
func (c *Config) GetToolByTopic(topic string) *ToolConfig {
	for i := range c.Tools {
		if c.Tools[i].Topic != "" && c.Tools[i].Topic == topic {
			return &c.Tools[i]
		}
	}
	return nil
}

// GetQuality returns the configured grading thresholds or the defaults
func (c *Config) GetQuality() registration.QualityThresholds {
	if c.Quality == nil {
		return registration.DefaultQualityThresholds()
	}
	return *c.Quality
}

// GetPolicy parses the filter policy; an empty policy is FilterConstant
func (f FilterConfig) GetPolicy() (registration.FilterPolicy, error) {
	if f.Policy == "" {
		return registration.FilterConstant, nil
	}
	return registration.ParseFilterPolicy(f.Policy)
}

// GetJustVisible defaults to true when unset
func (s ICPSettings) GetJustVisible() bool {
	if s.JustVisible == nil {
		return true
	}
	return *s.JustVisible
}

// ICPConfig converts the settings into a registration.ICPConfig
func (s ICPSettings) ICPConfig() registration.ICPConfig {
	cfg := registration.DefaultICPConfig()
	if s.MaxIterations > 0 {
		cfg.MaxIterations = s.MaxIterations
	}
	if s.RMSThreshold > 0 {
		cfg.RMSThreshold = s.RMSThreshold
	}
	if s.KDTreeMinPoints > 0 {
		cfg.KDTreeMinPoints = s.KDTreeMinPoints
	}
	cfg.JustVisible = s.GetJustVisible()
	cfg.Refine = s.Refine
	cfg.Verbose = s.Verbose
	return cfg
}

// GetInitial returns the initial transform file, or "" when unset
func (tc *ToolConfig) GetInitial() string {
	if tc.Initial == nil {
		return ""
	}
	return *tc.Initial
}
