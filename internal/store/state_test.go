package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"trendtrader/pkg/models"
)

func TestState_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "state.json")

	saved := &EngineState{
		Positions: []*models.Position{{
			Symbol:        "KRW-BTC",
			State:         models.StateHeld,
			AvgEntryPrice: 100_000_000,
			Volume:        0.001,
			StopPrice:     95_000_000,
		}},
		Cooldowns: map[string]time.Time{"KRW-ETH": time.Now().Add(time.Hour).Truncate(time.Second)},
		Paused:    true,
	}
	if err := SaveState(path, saved); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadState(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Positions) != 1 || loaded.Positions[0].Symbol != "KRW-BTC" {
		t.Fatalf("positions did not round-trip: %+v", loaded.Positions)
	}
	if loaded.Positions[0].State != models.StateHeld {
		t.Errorf("expected HELD, got %s", loaded.Positions[0].State)
	}
	if !loaded.Paused {
		t.Error("paused flag did not round-trip")
	}
	if _, ok := loaded.Cooldowns["KRW-ETH"]; !ok {
		t.Error("cooldowns did not round-trip")
	}
	if loaded.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt stamped on save")
	}
}

func TestLoadState_MissingFile(t *testing.T) {
	state, err := LoadState(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if len(state.Positions) != 0 || state.Paused {
		t.Errorf("expected empty state, got %+v", state)
	}
	if state.Cooldowns == nil {
		t.Error("cooldowns map must be initialized")
	}
}

func TestLoadState_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadState(path); err == nil {
		t.Error("corrupt state file must surface an error")
	}
}

func TestSaveState_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := SaveState(path, &EngineState{}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away after save")
	}
}
