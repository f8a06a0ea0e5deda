package trader

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrNoFreeSlot     = errors.New("no free slot")
	ErrAlreadyHeld    = errors.New("symbol already occupies a slot")
	ErrCooldownActive = errors.New("symbol is in cooldown")
)

// SlotManager arbitrates the fixed budget of concurrent positions and the
// per-symbol cooldowns after a close. Admission is a single
// compare-and-reserve under the lock, so concurrent attempts can never
// exceed the slot cap.
type SlotManager struct {
	mu        sync.Mutex
	occupied  map[string]struct{}
	cooldowns map[string]time.Time
	now       func() time.Time
}

func NewSlotManager() *SlotManager {
	return &SlotManager{
		occupied:  make(map[string]struct{}),
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}
}

// TryAdmit reserves a slot for the symbol or explains the denial. maxSlots
// comes from the caller's config snapshot since the cap is hot-reloadable.
func (sm *SlotManager) TryAdmit(symbol string, maxSlots int) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, held := sm.occupied[symbol]; held {
		return ErrAlreadyHeld
	}
	if expiry, ok := sm.cooldowns[symbol]; ok {
		if sm.now().Before(expiry) {
			return ErrCooldownActive
		}
		delete(sm.cooldowns, symbol)
	}
	if len(sm.occupied) >= maxSlots {
		return ErrNoFreeSlot
	}

	sm.occupied[symbol] = struct{}{}
	return nil
}

// Restore re-occupies a slot during startup reconciliation without the
// admission checks; the position already exists on the exchange.
func (sm *SlotManager) Restore(symbol string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.occupied[symbol] = struct{}{}
}

// Release frees the symbol's slot. A positive cooldown records the
// re-entry block; entry timeouts release with zero cooldown so the symbol
// stays immediately eligible. Releasing a symbol that holds no slot is a
// no-op, which makes release idempotent for retry paths.
func (sm *SlotManager) Release(symbol string, cooldown time.Duration) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.occupied, symbol)
	if cooldown > 0 {
		sm.cooldowns[symbol] = sm.now().Add(cooldown)
	}
}

// Occupied returns how many slots are taken.
func (sm *SlotManager) Occupied() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.occupied)
}

// Held reports whether the symbol currently occupies a slot.
func (sm *SlotManager) Held(symbol string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	_, ok := sm.occupied[symbol]
	return ok
}

// InCooldown reports whether the symbol has an unexpired cooldown.
func (sm *SlotManager) InCooldown(symbol string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	expiry, ok := sm.cooldowns[symbol]
	return ok && sm.now().Before(expiry)
}

// Sweep drops expired cooldown entries and returns the symbols released.
func (sm *SlotManager) Sweep() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var expired []string
	now := sm.now()
	for symbol, expiry := range sm.cooldowns {
		if !now.Before(expiry) {
			delete(sm.cooldowns, symbol)
			expired = append(expired, symbol)
		}
	}
	return expired
}

// Cooldowns snapshots the live cooldown map for persistence.
func (sm *SlotManager) Cooldowns() map[string]time.Time {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	out := make(map[string]time.Time, len(sm.cooldowns))
	now := sm.now()
	for symbol, expiry := range sm.cooldowns {
		if now.Before(expiry) {
			out[symbol] = expiry
		}
	}
	return out
}

// RestoreCooldowns loads persisted cooldowns, keeping only unexpired ones.
func (sm *SlotManager) RestoreCooldowns(cooldowns map[string]time.Time) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := sm.now()
	for symbol, expiry := range cooldowns {
		if now.Before(expiry) {
			sm.cooldowns[symbol] = expiry
		}
	}
}
