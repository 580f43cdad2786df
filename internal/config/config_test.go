package config

import (
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default("org-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing org id", func(c *Config) { c.Org.ID = "" }, "org.id"},
		{"phase out of range", func(c *Config) {
			c.Phases[5] = Phase{Weeks: 4, Start: "2026-06-01"}
		}, "phase"},
		{"zero weeks", func(c *Config) {
			p := c.Phases[1]
			p.Weeks = 0
			c.Phases[1] = p
		}, "week"},
		{"bad phase start", func(c *Config) {
			p := c.Phases[1]
			p.Start = "next monday"
			c.Phases[1] = p
		}, "start"},
		{"duplicate user", func(c *Config) {
			c.Users = append(c.Users, User{ID: "ana", Name: "Ana 2", Areas: []string{"sales"}})
		}, "duplicate"},
		{"user in unknown area", func(c *Config) {
			c.Users[0].Areas = []string{"legal"}
		}, "area"},
		{"leader for unknown area", func(c *Config) {
			c.Leaders["legal"] = []string{"marta"}
		}, "area"},
		{"templates for unknown area", func(c *Config) {
			c.Templates["legal"] = []TaskTemplate{{Title: "x"}}
		}, "area"},
		{"gated unknown area", func(c *Config) {
			c.Impact.GatedAreas = []string{"legal"}
		}, "area"},
		{"bad sink kind", func(c *Config) {
			c.Sinks = []SinkConfig{{Name: "s", Kind: "smoke-signal"}}
		}, "kind"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default("org-1")
			c.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected rejection")
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Fatalf("error %q does not mention %q", err, c.want)
			}
		})
	}
}

func TestLeaderForExcludesExecutor(t *testing.T) {
	cfg := Default("org-1")
	if got := cfg.LeaderFor("sales", "ana"); got != "marta" {
		t.Fatalf("expected marta for sales, got %q", got)
	}
	// marta is the only finance leader, so her own finance tasks run solo
	if got := cfg.LeaderFor("finance", "marta"); got != "" {
		t.Fatalf("expected no leader, got %q", got)
	}
	if got := cfg.LeaderFor("unknown", "ana"); got != "" {
		t.Fatalf("expected no leader for unknown area, got %q", got)
	}
}

func TestImpactGated(t *testing.T) {
	cfg := Default("org-1")
	if !cfg.ImpactGated("sales") || !cfg.ImpactGated("finance") {
		t.Fatalf("sales and finance should be gated")
	}
	if cfg.ImpactGated("operations") {
		t.Fatalf("operations should not be gated")
	}
}

func TestGeneratedYAMLRoundTrips(t *testing.T) {
	raw := GenerateDefault("org-1")
	cfg, err := FromYAML([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Org.ID != "org-1" {
		t.Fatalf("expected org-1, got %s", cfg.Org.ID)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("generated config should validate: %v", err)
	}
	if len(cfg.Templates["sales"]) != 2 {
		t.Fatalf("expected 2 sales templates, got %d", len(cfg.Templates["sales"]))
	}
}

func TestUsersInArea(t *testing.T) {
	cfg := Default("org-1")
	got := cfg.UsersInArea("sales")
	if len(got) != 1 || got[0].ID != "ana" {
		t.Fatalf("expected ana in sales, got %+v", got)
	}
	if len(cfg.UsersInArea("legal")) != 0 {
		t.Fatalf("expected no users in unknown area")
	}
}
