package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models phaseline.yml: the org calendar, the task template catalog,
// the user roster with area assignments, and the per-phase swap allowance.
type Config struct {
	Org struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"org"`
	Phases    map[int]Phase             `yaml:"phases"`
	Areas     []string                  `yaml:"areas"`
	Users     []User                    `yaml:"users"`
	Leaders   map[string][]string       `yaml:"leaders"`
	Templates map[string][]TaskTemplate `yaml:"templates"`
	Swaps     struct {
		PerPhase int `yaml:"per_phase"`
	} `yaml:"swaps"`
	Impact struct {
		GatedAreas []string `yaml:"gated_areas"`
	} `yaml:"impact"`
	Sinks []SinkConfig `yaml:"sinks"`
}

type Phase struct {
	Weeks int    `yaml:"weeks"`
	Start string `yaml:"start"` // YYYY-MM-DD
}

type User struct {
	ID    string   `yaml:"id"`
	Name  string   `yaml:"name"`
	Areas []string `yaml:"areas"`
}

type TaskTemplate struct {
	Title          string `yaml:"title"`
	Description    string `yaml:"description"`
	RequiresLeader bool   `yaml:"requires_leader"`
}

type SinkConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"` // webhook, log
	URL  string `yaml:"url,omitempty"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with pl org config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Org.ID == "" {
		return fmt.Errorf("config.org.id is required")
	}
	if len(c.Phases) == 0 {
		return fmt.Errorf("config.phases is required")
	}
	for n, p := range c.Phases {
		if n < 1 || n > 4 {
			return fmt.Errorf("phase %d out of range 1-4", n)
		}
		if p.Weeks < 1 {
			return fmt.Errorf("phase %d needs at least one week", n)
		}
		if p.Start == "" {
			return fmt.Errorf("phase %d missing start date", n)
		}
		if _, err := time.Parse("2006-01-02", p.Start); err != nil {
			return fmt.Errorf("phase %d start must be YYYY-MM-DD, got %q", n, p.Start)
		}
	}
	known := map[string]bool{}
	for _, a := range c.Areas {
		if a == "" {
			return fmt.Errorf("config.areas contains an empty area")
		}
		known[a] = true
	}
	userIDs := map[string]bool{}
	for _, u := range c.Users {
		if u.ID == "" {
			return fmt.Errorf("config.users contains a user without id")
		}
		if userIDs[u.ID] {
			return fmt.Errorf("duplicate user id %s", u.ID)
		}
		userIDs[u.ID] = true
		for _, a := range u.Areas {
			if !known[a] {
				return fmt.Errorf("user %s assigned to unknown area %s", u.ID, a)
			}
		}
	}
	for area, tpls := range c.Templates {
		if !known[area] {
			return fmt.Errorf("templates reference unknown area %s", area)
		}
		for i, t := range tpls {
			if t.Title == "" {
				return fmt.Errorf("template %d for area %s has empty title", i, area)
			}
		}
	}
	for area, leaders := range c.Leaders {
		if !known[area] {
			return fmt.Errorf("leaders reference unknown area %s", area)
		}
		for _, id := range leaders {
			if !userIDs[id] {
				return fmt.Errorf("area %s lists unknown leader %s", area, id)
			}
		}
	}
	if c.Swaps.PerPhase < 0 {
		return fmt.Errorf("config.swaps.per_phase must not be negative")
	}
	for _, a := range c.Impact.GatedAreas {
		if !known[a] {
			return fmt.Errorf("impact.gated_areas references unknown area %s", a)
		}
	}
	for i, s := range c.Sinks {
		switch s.Kind {
		case "log":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("sink %d: webhook requires url", i)
			}
		default:
			return fmt.Errorf("sink %d: unknown kind %s", i, s.Kind)
		}
	}
	return nil
}

// UsersInArea returns the roster subset assigned to an area.
func (c *Config) UsersInArea(area string) []User {
	var out []User
	for _, u := range c.Users {
		for _, a := range u.Areas {
			if a == area {
				out = append(out, u)
				break
			}
		}
	}
	return out
}

// LeaderFor resolves a leader for an area, excluding the executing user.
// Returns "" when no eligible leader exists.
func (c *Config) LeaderFor(area, excludeUserID string) string {
	for _, id := range c.Leaders[area] {
		if id != excludeUserID {
			return id
		}
	}
	return ""
}

// ImpactGated reports whether completions in the area require an impact report.
func (c *Config) ImpactGated(area string) bool {
	for _, a := range c.Impact.GatedAreas {
		if a == area {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "phaseline.yml")
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an org.
func Default(orgID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, orgID))).Decode(&cfg)
	cfg.Org.ID = orgID
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `org:
  id: %s
  name: Default Org

phases:
  1: { weeks: 4, start: "2026-01-05" }
  2: { weeks: 4, start: "2026-02-02" }
  3: { weeks: 4, start: "2026-03-02" }
  4: { weeks: 4, start: "2026-03-30" }

areas: [sales, marketing, operations, finance]

users:
  - { id: ana, name: Ana, areas: [sales] }
  - { id: luis, name: Luis, areas: [marketing] }
  - { id: marta, name: Marta, areas: [operations, finance] }

leaders:
  sales: [marta]
  marketing: [ana]
  operations: [marta]
  finance: [marta]

templates:
  sales:
    - title: "Revisar métricas de ventas"
      description: "Analizar el embudo semanal"
    - title: "Actualizar pipeline"
      description: "Depurar oportunidades frías"
      requires_leader: true
  marketing:
    - title: "Planificar campaña"
      description: "Definir audiencia y canal"
      requires_leader: true
    - title: "Publicar contenido"
      description: "Calendario editorial de la semana"
  operations:
    - title: "Revisar procesos"
      description: "Detectar cuellos de botella"
  finance:
    - title: "Conciliar movimientos"
      description: "Cierre semanal de caja"
      requires_leader: true

swaps:
  per_phase: 3

impact:
  gated_areas: [sales, finance]

sinks:
  - { name: console, kind: log }
`
