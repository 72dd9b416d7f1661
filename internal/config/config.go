package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/assign"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/gate"
	"github.com/SamuraiBuddha/claude-flow-sub002/internal/pool"
)

// FileName is the orchestrator config file inside the claude-flow home.
const FileName = "config.yaml"

// Config is the orchestrator configuration. Zero fields fall back to the
// component defaults, so a partial file is fine.
type Config struct {
	Server    Server        `yaml:"server"`
	Store     StoreConfig   `yaml:"store"`
	Pool      pool.Config   `yaml:"pool"`
	Assign    assign.Config `yaml:"assign"`
	Gates     Gates         `yaml:"gates"`
	Workflows []WorkflowDef `yaml:"workflows"`
	Notify    []WebhookDef  `yaml:"notify"`
}

// Server configures the HTTP API.
type Server struct {
	Listen      string `yaml:"listen"`
	APIKey      string `yaml:"api_key"`
	ServiceName string `yaml:"service_name"`
}

// StoreConfig selects and addresses the snapshot/audit store.
type StoreConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend string `yaml:"backend"`
	// DSN is the database path (sqlite) or connection URL (postgres).
	// For sqlite an empty DSN resolves to <home>/claude-flow.db.
	DSN string `yaml:"dsn"`
}

// Gates holds the engine tuning plus declarative gate definitions whose
// requirement checks are resolved through the check registry.
type Gates struct {
	Engine      gate.Config `yaml:"engine"`
	Definitions []GateDef   `yaml:"definitions"`
}

// GateDef is one gate as written in the config file.
type GateDef struct {
	ID           string           `yaml:"id"`
	Name         string           `yaml:"name"`
	MinPassScore float64          `yaml:"min_pass_score"`
	DependsOn    []string         `yaml:"depends_on"`
	AutoAdvance  bool             `yaml:"auto_advance"`
	MaxRetries   int              `yaml:"max_retries"`
	Requirements []RequirementDef `yaml:"requirements"`
}

// RequirementDef is one requirement as written in the config file.
type RequirementDef struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Weight       float64  `yaml:"weight"`
	Mandatory    bool     `yaml:"mandatory"`
	ErrorMessage string   `yaml:"error_message"`
	Check        CheckRef `yaml:"check"`
}

// WorkflowDef binds a named workflow to its ordered phases. Tasks are
// submitted at runtime; the file only declares phase gate bindings.
type WorkflowDef struct {
	Name   string     `yaml:"name"`
	Phases []PhaseDef `yaml:"phases"`
}

// PhaseDef is one phase's gate bindings.
type PhaseDef struct {
	Name  string   `yaml:"name"`
	Gates []string `yaml:"gates"`
}

// WebhookDef is one notification sink.
type WebhookDef struct {
	// Kind is "slack" or "webhook".
	Kind string `yaml:"kind"`
	URL  string `yaml:"url"`
	// Events filters by event type; empty forwards everything.
	Events []string `yaml:"events"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Server: Server{Listen: "127.0.0.1:7420", ServiceName: "claude-flow"},
		Store:  StoreConfig{Backend: "sqlite"},
		Pool:   pool.DefaultConfig(),
		Assign: assign.DefaultConfig(),
		Gates:  Gates{Engine: gate.DefaultConfig()},
	}
}

// Load reads the config file under home, overlaying it onto the defaults.
// A missing file returns the defaults without error.
func Load(home string) (Config, error) {
	cfg := Default()
	path := filepath.Join(home, FileName)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store.Backend {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	seen := make(map[string]bool, len(c.Gates.Definitions))
	for _, g := range c.Gates.Definitions {
		if g.ID == "" {
			return fmt.Errorf("gate definition missing id")
		}
		if seen[g.ID] {
			return fmt.Errorf("duplicate gate definition %q", g.ID)
		}
		seen[g.ID] = true
	}
	for _, w := range c.Workflows {
		if w.Name == "" {
			return fmt.Errorf("workflow definition missing name")
		}
		for _, p := range w.Phases {
			for _, gid := range p.Gates {
				if len(c.Gates.Definitions) > 0 && !seen[gid] {
					return fmt.Errorf("workflow %q phase %q references unknown gate %q", w.Name, p.Name, gid)
				}
			}
		}
	}
	return nil
}

// BuildGates resolves the declarative gate definitions into engine gates,
// binding each requirement's check through the registry.
func (c Config) BuildGates() ([]gate.Gate, error) {
	out := make([]gate.Gate, 0, len(c.Gates.Definitions))
	for _, def := range c.Gates.Definitions {
		g := gate.Gate{
			ID:           def.ID,
			Name:         def.Name,
			MinPassScore: def.MinPassScore,
			DependsOn:    append([]string(nil), def.DependsOn...),
			AutoAdvance:  def.AutoAdvance,
			MaxRetries:   def.MaxRetries,
		}
		for _, rd := range def.Requirements {
			check, err := BuildCheck(rd.Check)
			if err != nil {
				return nil, fmt.Errorf("gate %s requirement %s: %w", def.ID, rd.ID, err)
			}
			g.Requirements = append(g.Requirements, gate.Requirement{
				ID:           rd.ID,
				Name:         rd.Name,
				Weight:       rd.Weight,
				Mandatory:    rd.Mandatory,
				ErrorMessage: rd.ErrorMessage,
				Check:        check,
			})
		}
		out = append(out, g)
	}
	return out, nil
}
