// Package config loads and validates annotator configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all service configuration loaded from a single YAML file.
// Dataset paths are resolved against the directory containing the config file.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Logging LoggingConfig `mapstructure:"logging"`

	DataFile             string            `mapstructure:"data_file"`
	AnnotationOutput     string            `mapstructure:"annotation_output"`
	AnnotatorColumn      string            `mapstructure:"annotator_column"`
	AnnotatorFilter      []string          `mapstructure:"annotator_filter"`
	DefaultListSeparator string            `mapstructure:"default_list_separator"`
	Viewer               ViewerConfig      `mapstructure:"viewer"`
	Panel                PanelConfig       `mapstructure:"panel"`
	Autosave             AutosaveConfig    `mapstructure:"autosave"`
	DisplayFields        []DisplayField    `mapstructure:"display_fields"`
	AnnotationFields     []AnnotationField `mapstructure:"annotation_fields"`

	// RootDir is the directory the config file was loaded from.
	RootDir string `mapstructure:"-"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// HTTPConfig bounds outbound fetches issued on behalf of the proxy.
type HTTPConfig struct {
	PageTimeoutSeconds     int    `mapstructure:"page_timeout_seconds"`
	ResourceTimeoutSeconds int    `mapstructure:"resource_timeout_seconds"`
	ProbeTimeoutSeconds    int    `mapstructure:"probe_timeout_seconds"`
	UserAgent              string `mapstructure:"user_agent"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ViewerConfig governs how the client displays each entry's page.
type ViewerConfig struct {
	URLColumn            string `mapstructure:"url_column"`
	PreferProxy          bool   `mapstructure:"prefer_proxy"`
	AllowProxyToggle     bool   `mapstructure:"allow_proxy_toggle"`
	OpenOriginalInNewTab bool   `mapstructure:"open_original_in_new_tab"`
	AutoProxyOnBlock     bool   `mapstructure:"auto_proxy_on_block"`
	DetachedWindow       bool   `mapstructure:"detached_window"`
}

// PanelConfig sizes the annotation panel in the client.
type PanelConfig struct {
	InitialHeight int  `mapstructure:"initial_height"`
	Resizable     bool `mapstructure:"resizable"`
	MinHeight     int  `mapstructure:"min_height"`
	MaxHeight     int  `mapstructure:"max_height"`
}

// AutosaveConfig controls periodic client-side saves.
type AutosaveConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
}

// DisplayField is a read-only dataset column surfaced in the client.
type DisplayField struct {
	Column      string `mapstructure:"column"`
	Label       string `mapstructure:"label"`
	Type        string `mapstructure:"type"`
	Separator   string `mapstructure:"separator"`
	Placeholder string `mapstructure:"placeholder"`
	Help        string `mapstructure:"help"`
}

// AnnotationField is a named, typed field the annotator fills in.
// List-typed submissions join with Separator, or the store-wide default.
type AnnotationField struct {
	Name        string   `mapstructure:"name"`
	Label       string   `mapstructure:"label"`
	Type        string   `mapstructure:"type"`
	Options     []string `mapstructure:"options"`
	Required    bool     `mapstructure:"required"`
	Placeholder string   `mapstructure:"placeholder"`
	Default     string   `mapstructure:"default"`
	Separator   string   `mapstructure:"separator"`
	Help        string   `mapstructure:"help"`
}

// Load builds a Config from the given file. It returns a fully-populated,
// validated Config or an error, never a partially valid one.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("config file %s: %w", abs, err)
	}

	v := viper.New()
	v.SetEnvPrefix("ANNOTATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigFile(abs)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.RootDir = filepath.Dir(abs)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 5000)
	v.SetDefault("http.page_timeout_seconds", 15)
	v.SetDefault("http.resource_timeout_seconds", 20)
	v.SetDefault("http.probe_timeout_seconds", 10)
	v.SetDefault("http.user_agent", "PageAnnotator/1.0")
	v.SetDefault("logging.development", true)
	v.SetDefault("default_list_separator", ";")
	v.SetDefault("viewer.allow_proxy_toggle", true)
	v.SetDefault("viewer.open_original_in_new_tab", true)
	v.SetDefault("viewer.auto_proxy_on_block", true)
	v.SetDefault("panel.initial_height", 360)
	v.SetDefault("panel.min_height", 180)
	v.SetDefault("autosave.enabled", true)
	v.SetDefault("autosave.interval_seconds", 6)
}

func (c *Config) normalize() {
	c.DataFile = c.resolvePath(c.DataFile)
	c.AnnotationOutput = c.resolvePath(c.AnnotationOutput)
	c.AnnotatorColumn = strings.TrimSpace(c.AnnotatorColumn)

	filter := make([]string, 0, len(c.AnnotatorFilter))
	for _, name := range c.AnnotatorFilter {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			filter = append(filter, trimmed)
		}
	}
	c.AnnotatorFilter = filter

	if c.Autosave.IntervalSeconds < 2 {
		c.Autosave.IntervalSeconds = 2
	}
}

func (c *Config) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.RootDir, p)
}

// Validate enforces the structural requirements of the dataset configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.PageTimeoutSeconds <= 0 || c.HTTP.ResourceTimeoutSeconds <= 0 || c.HTTP.ProbeTimeoutSeconds <= 0 {
		return fmt.Errorf("http timeouts must be > 0")
	}
	if c.DataFile == "" {
		return fmt.Errorf("data_file is required in the configuration")
	}
	if c.AnnotationOutput == "" {
		return fmt.Errorf("annotation_output is required in the configuration")
	}
	if c.Viewer.URLColumn == "" {
		return fmt.Errorf("viewer.url_column must be provided in the configuration")
	}
	if len(c.AnnotationFields) == 0 {
		return fmt.Errorf("at least one annotation field is required in the configuration")
	}
	for i, field := range c.AnnotationFields {
		if field.Name == "" || field.Label == "" {
			return fmt.Errorf("annotation field %d must include both name and label", i)
		}
	}
	for i, field := range c.DisplayFields {
		if field.Column == "" || field.Label == "" {
			return fmt.Errorf("display field %d must include both column and label", i)
		}
	}
	if len(c.AnnotatorFilter) > 0 && c.AnnotatorColumn == "" {
		return fmt.Errorf("annotator_filter requires annotator_column to be set")
	}
	return nil
}

// AnnotationFieldNames returns the configured field names in declaration order.
func (c *Config) AnnotationFieldNames() []string {
	names := make([]string, len(c.AnnotationFields))
	for i, field := range c.AnnotationFields {
		names[i] = field.Name
	}
	return names
}

// ClientView serializes the client-facing portion of the configuration.
func (c *Config) ClientView() map[string]any {
	displayFields := make([]map[string]any, len(c.DisplayFields))
	for i, f := range c.DisplayFields {
		displayFields[i] = map[string]any{
			"column":      f.Column,
			"label":       f.Label,
			"type":        f.Type,
			"separator":   f.Separator,
			"placeholder": f.Placeholder,
			"help":        f.Help,
		}
	}
	annotationFields := make([]map[string]any, len(c.AnnotationFields))
	for i, f := range c.AnnotationFields {
		annotationFields[i] = map[string]any{
			"name":        f.Name,
			"label":       f.Label,
			"type":        f.Type,
			"options":     f.Options,
			"required":    f.Required,
			"placeholder": f.Placeholder,
			"default":     f.Default,
			"separator":   f.Separator,
			"help":        f.Help,
		}
	}
	return map[string]any{
		"viewer": map[string]any{
			"url_column":               c.Viewer.URLColumn,
			"prefer_proxy":             c.Viewer.PreferProxy,
			"allow_proxy_toggle":       c.Viewer.AllowProxyToggle,
			"open_original_in_new_tab": c.Viewer.OpenOriginalInNewTab,
			"auto_proxy_on_block":      c.Viewer.AutoProxyOnBlock,
			"detached_window":          c.Viewer.DetachedWindow,
		},
		"displayFields":        displayFields,
		"annotationFields":     annotationFields,
		"defaultListSeparator": c.DefaultListSeparator,
		"panel": map[string]any{
			"initial_height": c.Panel.InitialHeight,
			"resizable":      c.Panel.Resizable,
			"min_height":     c.Panel.MinHeight,
			"max_height":     c.Panel.MaxHeight,
		},
		"autosave": map[string]any{
			"enabled":          c.Autosave.Enabled,
			"interval_seconds": c.Autosave.IntervalSeconds,
		},
		"annotatorColumn": c.AnnotatorColumn,
		"annotatorFilter": c.AnnotatorFilter,
	}
}
