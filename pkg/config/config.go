// Package config loads crew settings with koanf: defaults, then a YAML
// file, an optional profile file, STOCKCREW_ environment variables and
// finally --set overrides from the command line.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/smkhb/Stock-Agent/pkg/errors"
)

// EnvPrefix prefixes environment overrides: STOCKCREW_LLM_BASE_URL -> llm.base_url.
const EnvPrefix = "STOCKCREW_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Trace     TraceConfig     `koanf:"trace"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Tools     ToolsConfig     `koanf:"tools"`
	MCP       MCPConfig       `koanf:"mcp"`
	Server    ServerConfig    `koanf:"server"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider    string  `koanf:"provider"` // mock, ollama, openai
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      string  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
	// ManagerModel is used by the llm delegation strategy. Empty means Model.
	ManagerModel string `koanf:"manager_model"`
}

type SchedulerConfig struct {
	Process            string `koanf:"process"`  // sequential, hierarchical
	Strategy           string `koanf:"strategy"` // keyword, llm
	Concurrency        int    `koanf:"concurrency"`
	MaxDelegations     int    `koanf:"max_delegations"`
	MaxRunIterations   int    `koanf:"max_run_iterations"`
	TaskTimeoutSeconds int    `koanf:"task_timeout_seconds"`
	ToolTimeoutSeconds int    `koanf:"tool_timeout_seconds"`
	PersistMemory      bool   `koanf:"persist_memory"`
}

// TaskTimeout returns the per-task deadline, zero when disabled.
func (s SchedulerConfig) TaskTimeout() time.Duration {
	return time.Duration(s.TaskTimeoutSeconds) * time.Second
}

// ToolTimeout returns the per-attempt tool deadline, zero when disabled.
func (s SchedulerConfig) ToolTimeout() time.Duration {
	return time.Duration(s.ToolTimeoutSeconds) * time.Second
}

// Hierarchical reports whether the manager coordinates the run.
func (s SchedulerConfig) Hierarchical() bool {
	return s.Process == "hierarchical"
}

type TraceConfig struct {
	Store string `koanf:"store"` // memory, sqlite
	DSN   string `koanf:"dsn"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type ToolsConfig struct {
	PriceFixture string `koanf:"price_fixture"`
	NewsFixture  string `koanf:"news_fixture"`
}

type MCPConfig struct {
	Servers map[string]MCPServerConfig `koanf:"servers"`
}

// MCPServerConfig describes a stdio MCP server whose tools are added to the crew.
type MCPServerConfig struct {
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	Env     []string `koanf:"env"`
	// Tools limits the imported tools. Empty imports all.
	Tools []string `koanf:"tools"`
	// Agents lists the roles receiving the tools.
	Agents []string `koanf:"agents"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

func defaults() map[string]any {
	return map[string]any{
		"log.level":                      "info",
		"log.format":                     "text",
		"llm.provider":                   "mock",
		"llm.model":                      "gpt-4o-mini",
		"llm.temperature":                0.7,
		"scheduler.process":              "hierarchical",
		"scheduler.strategy":             "keyword",
		"scheduler.concurrency":          1,
		"scheduler.max_delegations":      0,
		"scheduler.max_run_iterations":   15,
		"scheduler.task_timeout_seconds": 0,
		"scheduler.tool_timeout_seconds": 30,
		"scheduler.persist_memory":       false,
		"trace.store":                    "memory",
		"trace.dsn":                      "file:stockcrew.db",
		"telemetry.exporter":             "none",
		"telemetry.otlp_endpoint":        "localhost:4317",
		"telemetry.otlp_insecure":        true,
		"server.addr":                    ":8080",
	}
}

// Load reads path (optional) over the defaults and applies the environment.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile also merges the profile file next to path, e.g.
// config.dev.yaml for profile "dev".
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI understands --config <path>, --profile <name> and repeated
// --set key=value arguments. Other arguments are ignored.
func LoadWithCLI(args []string) (*Config, error) {
	cli, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(cli.path, cli.profile, cli.sets)
}

// ProfileConfigPath returns the profile file for path.
func ProfileConfigPath(path, profile string) string {
	if path == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

func load(path, profile string, sets []override) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if p := ProfileConfigPath(path, profile); p != "" {
		if _, err := os.Stat(p); err == nil {
			if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load profile %s: %w", p, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	for _, o := range sets {
		if err := k.Set(o.key, o.value); err != nil {
			return nil, fmt.Errorf("apply --set %s: %w", o.key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps STOCKCREW_SECTION_SOME_KEY to section.some_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, found := strings.Cut(s, "_")
	if !found {
		return section
	}
	return section + "." + rest
}

// Validate rejects unknown enumerations and negative limits.
func (c *Config) Validate() error {
	checks := []struct {
		key   string
		value string
		allow []string
	}{
		{"llm.provider", c.LLM.Provider, []string{"mock", "ollama", "openai"}},
		{"scheduler.process", c.Scheduler.Process, []string{"sequential", "hierarchical"}},
		{"scheduler.strategy", c.Scheduler.Strategy, []string{"keyword", "llm"}},
		{"trace.store", c.Trace.Store, []string{"memory", "sqlite"}},
		{"telemetry.exporter", c.Telemetry.Exporter, []string{"none", "stdout", "otlp"}},
	}
	for _, chk := range checks {
		if !contains(chk.allow, chk.value) {
			return errors.Newf(errors.CodeConfig, "%s must be one of %s, got %q", chk.key, strings.Join(chk.allow, "|"), chk.value)
		}
	}
	if c.Scheduler.Concurrency < 1 {
		return errors.Newf(errors.CodeConfig, "scheduler.concurrency must be at least 1, got %d", c.Scheduler.Concurrency)
	}
	if c.Scheduler.MaxDelegations < 0 || c.Scheduler.MaxRunIterations < 0 ||
		c.Scheduler.TaskTimeoutSeconds < 0 || c.Scheduler.ToolTimeoutSeconds < 0 {
		return errors.New(errors.CodeConfig, "scheduler limits must not be negative", nil)
	}
	for name, srv := range c.MCP.Servers {
		if strings.TrimSpace(srv.Command) == "" {
			return errors.Newf(errors.CodeConfig, "mcp server %q has no command", name)
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

type override struct {
	key   string
	value any
}

type cliArgs struct {
	path    string
	profile string
	sets    []override
}

func parseCLIOverrides(args []string) (cliArgs, error) {
	var out cliArgs
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, inline, hasInline := strings.Cut(arg, "=")
		switch name {
		case "--config", "--profile", "--set":
		default:
			continue
		}
		value := inline
		if !hasInline {
			if i+1 >= len(args) {
				return cliArgs{}, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			out.path = value
		case "--profile":
			out.profile = value
		case "--set":
			o, err := parseOverride(value)
			if err != nil {
				return cliArgs{}, err
			}
			out.sets = append(out.sets, o)
		}
	}
	return out, nil
}

// parseOverride splits key=value. JSON objects and arrays are decoded;
// scalars stay strings and are converted when unmarshalled.
func parseOverride(s string) (override, error) {
	key, raw, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return override{}, fmt.Errorf("invalid --set %q, expected key=value", s)
	}
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
			return override{}, fmt.Errorf("invalid JSON in --set %s: %w", key, err)
		}
		return override{key: key, value: v}, nil
	}
	return override{key: key, value: raw}, nil
}
