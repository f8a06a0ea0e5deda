package trader

import (
	"errors"
	"testing"
	"time"
)

func TestSlotManager_CapEnforced(t *testing.T) {
	sm := NewSlotManager()
	for _, symbol := range []string{"KRW-BTC", "KRW-ETH", "KRW-XRP"} {
		if err := sm.TryAdmit(symbol, 3); err != nil {
			t.Fatalf("admit %s: %v", symbol, err)
		}
	}
	if err := sm.TryAdmit("KRW-SOL", 3); !errors.Is(err, ErrNoFreeSlot) {
		t.Errorf("expected ErrNoFreeSlot, got %v", err)
	}
	if sm.Occupied() != 3 {
		t.Errorf("expected 3 occupied slots, got %d", sm.Occupied())
	}
}

func TestSlotManager_DuplicateSymbolRejected(t *testing.T) {
	sm := NewSlotManager()
	if err := sm.TryAdmit("KRW-BTC", 3); err != nil {
		t.Fatal(err)
	}
	if err := sm.TryAdmit("KRW-BTC", 3); !errors.Is(err, ErrAlreadyHeld) {
		t.Errorf("expected ErrAlreadyHeld, got %v", err)
	}
}

func TestSlotManager_CooldownBlocksReentry(t *testing.T) {
	sm := NewSlotManager()
	now := time.Now()
	sm.now = func() time.Time { return now }

	if err := sm.TryAdmit("KRW-BTC", 3); err != nil {
		t.Fatal(err)
	}
	sm.Release("KRW-BTC", time.Hour)

	if err := sm.TryAdmit("KRW-BTC", 3); !errors.Is(err, ErrCooldownActive) {
		t.Errorf("expected ErrCooldownActive, got %v", err)
	}

	now = now.Add(61 * time.Minute)
	if err := sm.TryAdmit("KRW-BTC", 3); err != nil {
		t.Errorf("expected admission after cooldown expiry, got %v", err)
	}
}

func TestSlotManager_ZeroCooldownRelease(t *testing.T) {
	sm := NewSlotManager()
	if err := sm.TryAdmit("KRW-BTC", 3); err != nil {
		t.Fatal(err)
	}
	sm.Release("KRW-BTC", 0)

	if sm.InCooldown("KRW-BTC") {
		t.Error("zero-cooldown release must leave the symbol eligible")
	}
	if err := sm.TryAdmit("KRW-BTC", 3); err != nil {
		t.Errorf("expected immediate re-admission, got %v", err)
	}
}

func TestSlotManager_ReleaseIdempotent(t *testing.T) {
	sm := NewSlotManager()
	if err := sm.TryAdmit("KRW-BTC", 1); err != nil {
		t.Fatal(err)
	}
	sm.Release("KRW-BTC", 0)
	sm.Release("KRW-BTC", 0) // second release is a no-op
	if sm.Occupied() != 0 {
		t.Errorf("expected 0 occupied, got %d", sm.Occupied())
	}
}

func TestSlotManager_SweepDropsExpired(t *testing.T) {
	sm := NewSlotManager()
	now := time.Now()
	sm.now = func() time.Time { return now }

	sm.Restore("KRW-BTC")
	sm.Release("KRW-BTC", 30*time.Minute)
	sm.Restore("KRW-ETH")
	sm.Release("KRW-ETH", 2*time.Hour)

	now = now.Add(time.Hour)
	expired := sm.Sweep()
	if len(expired) != 1 || expired[0] != "KRW-BTC" {
		t.Errorf("expected [KRW-BTC] expired, got %v", expired)
	}
	if !sm.InCooldown("KRW-ETH") {
		t.Error("KRW-ETH cooldown should survive the sweep")
	}
}

func TestSlotManager_RestoreCooldowns(t *testing.T) {
	sm := NewSlotManager()
	now := time.Now()
	sm.now = func() time.Time { return now }

	sm.RestoreCooldowns(map[string]time.Time{
		"KRW-BTC": now.Add(time.Hour),
		"KRW-ETH": now.Add(-time.Minute), // already expired
	})

	if !sm.InCooldown("KRW-BTC") {
		t.Error("unexpired cooldown should be restored")
	}
	if sm.InCooldown("KRW-ETH") {
		t.Error("expired cooldown should be discarded on restore")
	}
}
