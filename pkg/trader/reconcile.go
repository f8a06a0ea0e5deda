package trader

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"trendtrader/internal/config"
	"trendtrader/internal/store"
	"trendtrader/pkg/models"
)

// dustThreshold is the minimum notional (in quote currency) for an
// exchange holding to count as a real position during reconciliation.
const dustThreshold = 5000.0

// reconcile rebuilds in-memory state from the persisted snapshot and the
// exchange's actual orders and balances. Runs once before the loops start.
func (t *Trader) reconcile(ctx context.Context) error {
	state, err := t.loadState()
	if err != nil {
		return err
	}

	cfg := t.configs.Snapshot()
	t.slots.RestoreCooldowns(state.Cooldowns)
	t.mu.Lock()
	t.paused = state.Paused
	t.mu.Unlock()

	for _, pos := range state.Positions {
		t.restorePosition(ctx, pos, cfg)
	}

	t.adoptOrphanHoldings(ctx, cfg)

	t.persist()
	t.updateSubscription()
	t.logger.WithFields(logrus.Fields{
		"positions": len(t.Positions()),
		"cooldowns": len(t.slots.Cooldowns()),
		"paused":    t.Paused(),
	}).Info("Reconciliation complete")
	return nil
}

func (t *Trader) loadState() (*store.EngineState, error) {
	state, err := store.LoadState(t.stateFile)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// restorePosition re-queries the position's pending order and places it
// back in the right state. An order the exchange no longer knows about is
// treated as if it filled: the engine assumes it holds the asset and lets
// the balance check below settle it.
func (t *Trader) restorePosition(ctx context.Context, pos *models.Position, cfg *config.StrategyConfig) {
	log := t.logger.WithFields(logrus.Fields{
		"symbol": pos.Symbol,
		"state":  pos.State,
	})

	if pos.State.Terminal() {
		return
	}

	if pos.Pending != nil {
		order, err := t.gateway.OrderStatus(ctx, pos.Pending.OrderID)
		if err != nil {
			if models.IsTransient(err) {
				// Keep the persisted view; the position loop re-queries.
				log.WithError(err).Warn("Order re-query failed, restoring as persisted")
			} else {
				// Unknown order: resolve conservatively as held so the
				// stop logic stays in force.
				log.WithError(err).Warn("Pending order unknown at exchange, restoring as held")
				t.resolveUnknownOrder(pos, cfg)
			}
		} else {
			t.applyRestoredOrder(pos, order, cfg, log)
		}
	}

	if pos.State.Terminal() {
		return
	}

	t.slots.Restore(pos.Symbol)
	lc := Resume(t.gateway, t.logger, pos)
	t.mu.Lock()
	t.lifecycles[pos.Symbol] = lc
	t.mu.Unlock()
	log.Info("Position restored")
}

func (t *Trader) resolveUnknownOrder(pos *models.Position, cfg *config.StrategyConfig) {
	switch pos.State {
	case models.StateEntryPending:
		if pos.Volume > 0 {
			pos.State = models.StateHeld
		} else {
			pos.State = models.StateEntryCancelled
		}
	case models.StateExitPending:
		// Assume the exit never reached the book; hold and exit again.
		pos.State = models.StateHeld
	}
	pos.Pending = nil
	if pos.State == models.StateHeld && pos.StopPrice == 0 {
		pos.StopPrice = pos.AvgEntryPrice * (1 - cfg.Exit.StopLoss)
	}
}

func (t *Trader) applyRestoredOrder(pos *models.Position, order *models.Order, cfg *config.StrategyConfig, log *logrus.Entry) {
	switch order.Status {
	case models.OrderStatusFilled:
		switch pos.State {
		case models.StateEntryPending:
			fill := order.AvgFillPrice()
			pos.State = models.StateHeld
			pos.AvgEntryPrice = fill
			pos.InitialEntryPrice = fill
			pos.Volume = order.ExecutedVolume
			pos.HighestPrice = fill
			pos.StopPrice = fill * (1 - cfg.Exit.StopLoss)
			pos.Pending = nil
			log.Info("Entry filled while offline")
		case models.StateExitPending:
			// The trigger that issued the exit is not persisted; archive
			// under the stop-loss default, matching the live retry path.
			t.closeRestored(pos, order, ReasonStopLoss, cfg)
			log.Info("Exit filled while offline")
		case models.StateHeld:
			if pos.Pending.Kind == models.PendingTakeProfit {
				t.closeRestored(pos, order, ReasonTakeProfit, cfg)
				log.Info("Take-profit filled while offline")
			}
		}
	case models.OrderStatusCancelled:
		switch pos.State {
		case models.StateEntryPending:
			if order.ExecutedVolume > 0 {
				fill := order.AvgFillPrice()
				pos.State = models.StateHeld
				pos.AvgEntryPrice = fill
				pos.InitialEntryPrice = fill
				pos.Volume = order.ExecutedVolume
				pos.HighestPrice = fill
				pos.StopPrice = fill * (1 - cfg.Exit.StopLoss)
			} else {
				pos.State = models.StateEntryCancelled
			}
			pos.Pending = nil
		case models.StateExitPending:
			pos.State = models.StateHeld
			pos.Pending = nil
		case models.StateHeld:
			pos.Pending = nil
		}
	default:
		// Still open; the position loop keeps supervising it.
	}
}

// closeRestored finishes a position whose closing order filled while the
// process was down: the slot goes into cooldown and the round trip is
// archived, exactly as a live close would have done.
func (t *Trader) closeRestored(pos *models.Position, order *models.Order, reason string, cfg *config.StrategyConfig) {
	pos.State = models.StateClosed
	pos.Pending = nil

	exitPrice := order.AvgFillPrice()
	volume := order.ExecutedVolume
	if volume <= 0 {
		volume = pos.Volume
	}
	t.slots.Release(pos.Symbol, time.Duration(cfg.CooldownMinutes)*time.Minute)
	t.archiveTrade(&models.TradeRecord{
		Symbol:      pos.Symbol,
		EntryPrice:  pos.AvgEntryPrice,
		ExitPrice:   exitPrice,
		Volume:      volume,
		PnL:         (exitPrice - pos.AvgEntryPrice) * volume,
		ProfitRate:  (exitPrice - pos.AvgEntryPrice) / pos.AvgEntryPrice,
		AddBuyCount: pos.AddBuyCount,
		Reason:      reason,
		EntryTime:   pos.EntryTime,
		ExitTime:    time.Now(),
	})
}

// adoptOrphanHoldings scans exchange balances for assets the engine does
// not track, typically left behind by a crash between fill and persist.
// Dust below the exchange minimum is ignored.
func (t *Trader) adoptOrphanHoldings(ctx context.Context, cfg *config.StrategyConfig) {
	balances, err := t.gateway.Balances(ctx)
	if err != nil {
		t.countGatewayError(err)
		t.logger.WithError(err).Warn("Balance reconciliation skipped")
		return
	}

	quoteCurrency := cfg.Universe.QuoteCurrency
	for _, bal := range balances {
		if bal.Currency == quoteCurrency || bal.Amount <= 0 {
			continue
		}
		symbol := quoteCurrency + "-" + strings.ToUpper(bal.Currency)

		t.mu.RLock()
		_, tracked := t.lifecycles[symbol]
		t.mu.RUnlock()
		if tracked {
			continue
		}

		price, err := t.gateway.LatestQuote(ctx, symbol)
		if err != nil {
			continue // not a tradable market, or quote unavailable
		}
		if bal.Amount*price < dustThreshold {
			continue
		}

		entry := bal.AvgBuyPrice
		if entry <= 0 {
			entry = price
		}
		pos := &models.Position{
			Symbol:            symbol,
			State:             models.StateHeld,
			AvgEntryPrice:     entry,
			InitialEntryPrice: entry,
			Volume:            bal.Amount,
			EntryTime:         time.Now(),
			HighestPrice:      price,
			StopPrice:         entry * (1 - cfg.Exit.StopLoss),
		}

		t.slots.Restore(symbol)
		t.mu.Lock()
		t.lifecycles[symbol] = Resume(t.gateway, t.logger, pos)
		t.mu.Unlock()
		t.logger.WithFields(logrus.Fields{
			"symbol": symbol,
			"volume": bal.Amount,
			"value":  bal.Amount * price,
		}).Warn("Adopted untracked holding")
	}
}
