package config

import "testing"

func TestParseCapOverrides(t *testing.T) {
	got, err := parseCapOverrides(" journal_entry:5, social_post:10 ,")
	if err != nil {
		t.Fatalf("parseCapOverrides: %v", err)
	}
	if got["journal_entry"] != 5 || got["social_post"] != 10 || len(got) != 2 {
		t.Fatalf("unexpected overrides: %v", got)
	}

	empty, err := parseCapOverrides("   ")
	if err != nil || empty != nil {
		t.Fatalf("empty input: got %v, %v", empty, err)
	}

	for _, bad := range []string{"journal_entry", "journal_entry:x", "journal_entry:0"} {
		if _, err := parseCapOverrides(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestLoadMemoryDrivers(t *testing.T) {
	t.Setenv("STORE_DRIVER", DriverMemory)
	t.Setenv("QUEUE_DRIVER", DriverMemory)
	t.Setenv("AURA_CAP_OVERRIDES", "meditation_session:2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AuraDailyPointCeiling != 200 {
		t.Errorf("ceiling = %d, want 200", cfg.AuraDailyPointCeiling)
	}
	if cfg.AuraCapOverrides["meditation_session"] != 2 {
		t.Errorf("overrides = %v", cfg.AuraCapOverrides)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		StoreDriver:           DriverPostgres,
		QueueDriver:           DriverRedis,
		DBPassword:            "secret",
		DBMaxConns:            10,
		DBMinConns:            2,
		AuraDailyPointCeiling: 200,
		AuraFollowOnWorkers:   1,
		RateLimitPerMinute:    60,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(c *Config){
		"unknown store":    func(c *Config) { c.StoreDriver = "mongo" },
		"unknown queue":    func(c *Config) { c.QueueDriver = "kafka" },
		"missing password": func(c *Config) { c.DBPassword = "" },
		"bad conns":        func(c *Config) { c.DBMinConns = 20 },
		"zero ceiling":     func(c *Config) { c.AuraDailyPointCeiling = 0 },
		"no workers":       func(c *Config) { c.AuraFollowOnWorkers = 0 },
		"zero rate limit":  func(c *Config) { c.RateLimitPerMinute = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
