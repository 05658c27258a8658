package app

import (
	"context"
	"testing"
	"time"

	"serotonyl.ru/aura-points/internal/config"
	"serotonyl.ru/aura-points/internal/features/aura"
)

func memoryConfig() *config.Config {
	return &config.Config{
		AppEnv:                "test",
		AppTimezone:           "UTC",
		StoreDriver:           config.DriverMemory,
		QueueDriver:           config.DriverMemory,
		HTTPAddr:              "127.0.0.1:0",
		HTTPRequestTimeout:    time.Second,
		HTTPAllowedOrigins:    []string{"*"},
		RateLimitPerMinute:    60,
		AuraDailyPointCeiling: 200,
		AuraCapOverrides:      map[string]int{"journal_entry": 1},
		AuraFollowOnWorkers:   1,
	}
}

func TestNewWithMemoryDrivers(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer a.Close()

	if a.DB != nil || a.Redis != nil {
		t.Fatal("memory drivers must not open connections")
	}

	req := aura.AwardRequest{
		UserID:   "u1",
		Activity: aura.ActivityJournalEntry,
		Proof:    &aura.Proof{Type: aura.ProofJournalLength, Value: 60},
	}
	if res, err := a.Service.Award(ctx, req); err != nil || !res.Accepted {
		t.Fatalf("first award = %+v, %v", res, err)
	}
	res, err := a.Service.Award(ctx, req)
	if err != nil || res.Reason != aura.KindDailyCapExceeded {
		t.Fatalf("cap override not applied: %+v, %v", res, err)
	}
}

func TestNewRejectsBadCapOverride(t *testing.T) {
	cfg := memoryConfig()
	cfg.AuraCapOverrides = map[string]int{"dancing": 2}
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected catalog error")
	}
}
