package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"trendtrader/internal/config"
	"trendtrader/pkg/models"
)

// Exit reasons recorded on archived trades and metrics.
const (
	ReasonStopLoss     = "stop_loss"
	ReasonBreakEven    = "break_even"
	ReasonTrailingStop = "trailing_stop"
	ReasonTakeProfit   = "take_profit"
	ReasonPanicSell    = "panic_sell"
	ReasonEntryTimeout = "entry_timeout"
)

// Outcome reports a terminal transition from an Advance call so the
// scheduler can release the slot and archive the trade.
type Outcome struct {
	Done     bool
	Cooldown bool
	Record   *models.TradeRecord
}

// Lifecycle drives a single position through
// ENTRY_PENDING → HELD → EXIT_PENDING → CLOSED. The mutex serializes the
// position loop's Advance against force-exit commands and snapshot reads
// from other goroutines, so no two order actions for the same position
// ever overlap.
type Lifecycle struct {
	mu       sync.Mutex
	Position *models.Position
	gateway  Gateway
	logger   *logrus.Entry
	now      func() time.Time

	exitReason string
}

func NewLifecycle(gateway Gateway, logger *logrus.Logger, pos *models.Position) *Lifecycle {
	return &Lifecycle{
		Position: pos,
		gateway:  gateway,
		logger:   logger.WithField("symbol", pos.Symbol),
		now:      time.Now,
	}
}

// OpenEntry places the discounted limit buy that starts the lifecycle.
// The discount tier follows the trend slope captured at admission.
func OpenEntry(ctx context.Context, gateway Gateway, logger *logrus.Logger, cand *models.ScoredCandidate, cfg *config.StrategyConfig) (*Lifecycle, error) {
	offset := cfg.OffsetForSlope(cand.Slope)
	limitPrice := RoundToTick(cand.Price * (1 - offset))
	if limitPrice <= 0 {
		return nil, fmt.Errorf("degenerate limit price for %s at %v", cand.Symbol, cand.Price)
	}
	volume := cfg.TradeAmount / limitPrice

	orderID, err := gateway.PlaceLimitBuy(ctx, cand.Symbol, limitPrice, volume)
	if err != nil {
		return nil, fmt.Errorf("place entry for %s: %w", cand.Symbol, err)
	}

	now := time.Now()
	pos := &models.Position{
		Symbol:     cand.Symbol,
		State:      models.StateEntryPending,
		EntryScore: cand.Score,
		EntrySlope: cand.Slope,
		WindowHigh: cand.WindowHigh,
		Pending: &models.PendingOrder{
			OrderID:  orderID,
			Side:     models.OrderSideBuy,
			Kind:     models.PendingEntry,
			Price:    limitPrice,
			Volume:   volume,
			PlacedAt: now,
		},
	}

	lc := NewLifecycle(gateway, logger, pos)
	lc.logger.WithFields(logrus.Fields{
		"score":       cand.Score,
		"slope":       cand.Slope,
		"offset":      offset,
		"limit_price": limitPrice,
	}).Info("Entry order placed")
	return lc, nil
}

// Resume rebuilds a lifecycle around a persisted or recovered position.
func Resume(gateway Gateway, logger *logrus.Logger, pos *models.Position) *Lifecycle {
	return NewLifecycle(gateway, logger, pos)
}

// Snapshot returns a copy of the position safe to hand to readers in
// other goroutines.
func (lc *Lifecycle) Snapshot() *models.Position {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.Position.Clone()
}

// State reports the current lifecycle state.
func (lc *Lifecycle) State() models.PositionState {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.Position.State
}

// Advance runs one decision cycle against the latest price. All reads of
// the strategy config go through the snapshot passed in, so a hot reload
// mid-cycle can never mix parameter versions.
func (lc *Lifecycle) Advance(ctx context.Context, cfg *config.StrategyConfig, price float64) (*Outcome, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	switch lc.Position.State {
	case models.StateEntryPending:
		return lc.superviseEntry(ctx, cfg)
	case models.StateHeld:
		return lc.manageHolding(ctx, cfg, price)
	case models.StateExitPending:
		return lc.superviseExit(ctx, price)
	default:
		return &Outcome{Done: true}, nil
	}
}

// --- ENTRY_PENDING ---

func (lc *Lifecycle) superviseEntry(ctx context.Context, cfg *config.StrategyConfig) (*Outcome, error) {
	pos := lc.Position
	pending := pos.Pending
	if pending == nil {
		// Should not happen; treat as a cancelled entry so the slot frees.
		pos.State = models.StateEntryCancelled
		return &Outcome{Done: true}, nil
	}

	if lc.now().Sub(pending.PlacedAt) > time.Duration(cfg.TimeoutMinutes)*time.Minute {
		return lc.cancelTimedOutEntry(ctx, pending)
	}

	order, err := lc.gateway.OrderStatus(ctx, pending.OrderID)
	if err != nil {
		if models.IsTransient(err) {
			return nil, nil // retry next tick, state unchanged
		}
		return nil, err
	}

	switch order.Status {
	case models.OrderStatusFilled:
		lc.becomeHeld(order.AvgFillPrice(), order.ExecutedVolume, cfg)
	case models.OrderStatusCancelled:
		if order.ExecutedVolume > 0 {
			// Cancelled externally after a partial fill; manage what we got.
			lc.logger.WithField("volume", order.ExecutedVolume).Info("Entry cancelled with partial fill, holding remainder")
			lc.becomeHeld(order.AvgFillPrice(), order.ExecutedVolume, cfg)
		} else {
			lc.logger.Info("Entry order cancelled externally")
			pos.State = models.StateEntryCancelled
			pos.Pending = nil
			return &Outcome{Done: true}, nil
		}
	}
	return nil, nil
}

// cancelTimedOutEntry actively cancels at the exchange, then re-queries:
// the transition only happens once the cancel (or a late fill) is
// confirmed. A timed-out entry frees its slot without a cooldown.
func (lc *Lifecycle) cancelTimedOutEntry(ctx context.Context, pending *models.PendingOrder) (*Outcome, error) {
	lc.logger.Info("Entry order timed out, cancelling")
	if err := lc.gateway.CancelOrder(ctx, pending.OrderID); err != nil {
		if models.IsTransient(err) {
			return nil, nil
		}
		// Rejected cancel usually means the order just filled; fall through
		// to the status check.
		lc.logger.WithError(err).Warn("Cancel rejected, re-querying order")
	}

	order, err := lc.gateway.OrderStatus(ctx, pending.OrderID)
	if err != nil {
		if models.IsTransient(err) {
			return nil, nil
		}
		return nil, err
	}

	switch order.Status {
	case models.OrderStatusFilled:
		lc.logger.Info("Entry filled during cancellation")
		lc.becomeHeldNoCfg(order.AvgFillPrice(), order.ExecutedVolume)
		return nil, nil
	case models.OrderStatusCancelled:
		if order.ExecutedVolume > 0 {
			lc.becomeHeldNoCfg(order.AvgFillPrice(), order.ExecutedVolume)
			return nil, nil
		}
		lc.Position.State = models.StateEntryCancelled
		lc.Position.Pending = nil
		return &Outcome{Done: true}, nil
	default:
		return nil, nil // cancel not visible yet
	}
}

func (lc *Lifecycle) becomeHeld(fillPrice, volume float64, cfg *config.StrategyConfig) {
	pos := lc.Position
	pos.State = models.StateHeld
	pos.AvgEntryPrice = fillPrice
	pos.InitialEntryPrice = fillPrice
	pos.Volume = volume
	pos.EntryTime = lc.now()
	pos.HighestPrice = fillPrice
	pos.StopPrice = fillPrice * (1 - cfg.Exit.StopLoss)
	pos.Pending = nil
	lc.logger.WithFields(logrus.Fields{
		"fill_price": fillPrice,
		"volume":     volume,
		"stop_price": pos.StopPrice,
	}).Info("Entry filled")
}

// becomeHeldNoCfg is the timeout path, where no config snapshot is in
// hand; the stop price is set on the next holding cycle.
func (lc *Lifecycle) becomeHeldNoCfg(fillPrice, volume float64) {
	pos := lc.Position
	pos.State = models.StateHeld
	pos.AvgEntryPrice = fillPrice
	pos.InitialEntryPrice = fillPrice
	pos.Volume = volume
	pos.EntryTime = lc.now()
	pos.HighestPrice = fillPrice
	pos.Pending = nil
	lc.logger.WithFields(logrus.Fields{"fill_price": fillPrice, "volume": volume}).Info("Entry filled")
}

// --- HELD ---

func (lc *Lifecycle) manageHolding(ctx context.Context, cfg *config.StrategyConfig, price float64) (*Outcome, error) {
	pos := lc.Position
	if price <= 0 {
		return nil, nil
	}

	// An add-buy whose fill was not visible at placement time must fold
	// in before any exit is sized off the position's volume.
	if pos.Pending != nil && pos.Pending.Kind == models.PendingAddBuy {
		if err := lc.superviseAddBuy(ctx, cfg); err != nil {
			return nil, err
		}
		if pos.Pending != nil {
			return nil, nil // fill still not visible; defer this cycle
		}
	}

	if price > pos.HighestPrice {
		pos.HighestPrice = price
	}
	profitRate := (price - pos.AvgEntryPrice) / pos.AvgEntryPrice

	lc.updateStopPrice(cfg, profitRate)

	// 1. Stop-loss: the safety backstop, checked before everything else.
	if fired := lc.checkStop(cfg, price, profitRate); fired {
		reason := ReasonStopLoss
		if pos.BreakEvenActive {
			reason = ReasonBreakEven
		}
		return lc.exitAtMarket(ctx, price, reason)
	}

	// 2. Trailing stop. Suppressed once the position has been averaged
	// down, so an add-buy position exits through its take-profit limit.
	if pos.AddBuyCount == 0 {
		if fired := lc.checkTrailing(cfg, price); fired {
			return lc.exitAtMarket(ctx, price, ReasonTrailingStop)
		}
	}

	// 3. Resting take-profit: check fills, then keep the target current.
	out, err := lc.superviseTakeProfit(ctx, price)
	if out != nil || err != nil {
		return out, err
	}
	if err := lc.ensureTakeProfit(ctx, cfg); err != nil {
		if !models.IsTransient(err) {
			lc.logger.WithError(err).Warn("Take-profit placement rejected")
		}
	}

	// 4. Add-buy (averaging down) within the same slot.
	if cfg.Exit.MaxAddBuys > 0 && pos.AddBuyCount < cfg.Exit.MaxAddBuys &&
		profitRate <= cfg.Exit.AddBuyTrigger {
		if err := lc.executeAddBuy(ctx, cfg); err != nil {
			if !models.IsTransient(err) {
				lc.logger.WithError(err).Warn("Add-buy failed")
			}
		}
	}

	return nil, nil
}

// updateStopPrice recomputes the working stop from the config snapshot.
// Before break-even it tracks entry × (1 − stop_loss); once the
// break-even trigger is reached the stop ratchets to the profit floor and
// never moves down again.
func (lc *Lifecycle) updateStopPrice(cfg *config.StrategyConfig, profitRate float64) {
	pos := lc.Position
	if !pos.BreakEvenActive && profitRate >= cfg.Exit.BreakEvenTrigger {
		pos.BreakEvenActive = true
		lc.logger.WithField("profit_rate", profitRate).Info("Break-even protection armed")
	}

	if pos.BreakEvenActive {
		floor := pos.AvgEntryPrice * (1 + cfg.Exit.BreakEvenSL)
		if floor > pos.StopPrice {
			pos.StopPrice = floor
		}
		return
	}
	pos.StopPrice = pos.AvgEntryPrice * (1 - cfg.Exit.StopLoss)
}

// checkStop applies the confirmation window to the raw stop condition.
// Break-even stops fire immediately; a true loss cut may be configured to
// persist across consecutive one-second ticks first.
func (lc *Lifecycle) checkStop(cfg *config.StrategyConfig, price, profitRate float64) bool {
	pos := lc.Position
	if price > pos.StopPrice {
		if pos.StopConfirmTicks > 0 {
			lc.logger.WithField("profit_rate", profitRate).Info("Stop-loss condition recovered")
			pos.StopConfirmTicks = 0
		}
		return false
	}

	if pos.BreakEvenActive || cfg.Exit.StopLossConfirmSec == 0 {
		return true
	}

	pos.StopConfirmTicks++
	if pos.StopConfirmTicks >= cfg.Exit.StopLossConfirmSec {
		pos.StopConfirmTicks = 0
		return true
	}
	lc.logger.WithFields(logrus.Fields{
		"confirm": pos.StopConfirmTicks,
		"needed":  cfg.Exit.StopLossConfirmSec,
	}).Info("Stop-loss pending confirmation")
	return false
}

func (lc *Lifecycle) checkTrailing(cfg *config.StrategyConfig, price float64) bool {
	pos := lc.Position
	maxRate := (pos.HighestPrice - pos.AvgEntryPrice) / pos.AvgEntryPrice
	if maxRate < cfg.Exit.TrailingStopTrigger {
		return false
	}

	drop := (pos.HighestPrice - price) / pos.HighestPrice
	if drop < cfg.Exit.TrailingStopGap {
		if pos.TrailConfirmTicks > 0 {
			lc.logger.WithField("drop", drop).Info("Trailing stop condition recovered")
			pos.TrailConfirmTicks = 0
		}
		return false
	}

	if cfg.Exit.TrailingConfirmSec == 0 {
		return true
	}
	pos.TrailConfirmTicks++
	if pos.TrailConfirmTicks >= cfg.Exit.TrailingConfirmSec {
		pos.TrailConfirmTicks = 0
		return true
	}
	lc.logger.WithFields(logrus.Fields{
		"confirm": pos.TrailConfirmTicks,
		"needed":  cfg.Exit.TrailingConfirmSec,
	}).Info("Trailing stop pending confirmation")
	return false
}

// superviseTakeProfit checks whether the resting limit sell filled.
func (lc *Lifecycle) superviseTakeProfit(ctx context.Context, price float64) (*Outcome, error) {
	pos := lc.Position
	if pos.Pending == nil || pos.Pending.Kind != models.PendingTakeProfit {
		return nil, nil
	}

	order, err := lc.gateway.OrderStatus(ctx, pos.Pending.OrderID)
	if err != nil {
		if models.IsTransient(err) {
			return nil, nil
		}
		return nil, err
	}
	if order.Status == models.OrderStatusFilled {
		return lc.close(order.AvgFillPrice(), order.ExecutedVolume, ReasonTakeProfit), nil
	}
	if order.Status == models.OrderStatusCancelled {
		// Cancelled externally; drop the reference and re-place next cycle.
		pos.Pending = nil
	}
	return nil, nil
}

// ensureTakeProfit keeps a limit sell resting at the blended target:
// entry + (window high − entry) × take_profit_ratio, floored at 1% above
// entry. The order is replaced when the target moves by at least a tick.
func (lc *Lifecycle) ensureTakeProfit(ctx context.Context, cfg *config.StrategyConfig) error {
	pos := lc.Position
	target := lc.takeProfitTarget(cfg)

	if pos.Pending != nil && pos.Pending.Kind == models.PendingTakeProfit {
		if pos.Pending.Price == target {
			return nil
		}
		if err := lc.gateway.CancelOrder(ctx, pos.Pending.OrderID); err != nil {
			if models.IsTransient(err) {
				return nil
			}
			return err
		}
		pos.Pending = nil
	}
	if pos.Pending != nil {
		return nil // some other order outstanding
	}

	orderID, err := lc.gateway.PlaceLimitSell(ctx, pos.Symbol, target, pos.Volume)
	if err != nil {
		return err
	}
	pos.Pending = &models.PendingOrder{
		OrderID:  orderID,
		Side:     models.OrderSideSell,
		Kind:     models.PendingTakeProfit,
		Price:    target,
		Volume:   pos.Volume,
		PlacedAt: lc.now(),
	}
	lc.logger.WithField("target", target).Info("Take-profit limit placed")
	return nil
}

func (lc *Lifecycle) takeProfitTarget(cfg *config.StrategyConfig) float64 {
	pos := lc.Position
	target := pos.AvgEntryPrice * 1.01
	if pos.WindowHigh > pos.AvgEntryPrice {
		blended := pos.AvgEntryPrice + (pos.WindowHigh-pos.AvgEntryPrice)*cfg.Exit.TakeProfitRatio
		if blended > target {
			target = blended
		}
	}
	return RoundToTick(target)
}

// executeAddBuy averages down: cancel the resting take-profit, buy at
// market, fold the fill into the weighted-average entry, and reset the
// high-water mark so the trailing stop cannot fire off the old peak. The
// add-buy lives inside the position's existing slot.
func (lc *Lifecycle) executeAddBuy(ctx context.Context, cfg *config.StrategyConfig) error {
	pos := lc.Position

	if pos.Pending != nil && pos.Pending.Kind == models.PendingTakeProfit {
		if err := lc.gateway.CancelOrder(ctx, pos.Pending.OrderID); err != nil {
			if models.IsTransient(err) {
				return nil
			}
			return err
		}
		pos.Pending = nil
	}

	funds := cfg.TradeAmount * cfg.Exit.AddBuyAmountRatio
	if funds < minOrderFunds {
		funds = minOrderFunds
	}

	orderID, err := lc.gateway.PlaceMarketBuy(ctx, pos.Symbol, funds)
	if err != nil {
		return err
	}
	// Funds are committed the moment the order exists; keep the reference
	// so a failed status query never strands the fill.
	pos.Pending = &models.PendingOrder{
		OrderID:  orderID,
		Side:     models.OrderSideBuy,
		Kind:     models.PendingAddBuy,
		PlacedAt: lc.now(),
	}

	order, err := lc.gateway.OrderStatus(ctx, orderID)
	if err != nil || order.ExecutedVolume <= 0 {
		lc.logger.WithError(err).Warn("Add-buy fill not yet visible, supervising")
		return nil
	}
	pos.Pending = nil
	lc.applyAddBuyFill(order, cfg)
	return nil
}

// superviseAddBuy resolves a market buy whose fill details were missing
// when it was placed.
func (lc *Lifecycle) superviseAddBuy(ctx context.Context, cfg *config.StrategyConfig) error {
	pos := lc.Position
	order, err := lc.gateway.OrderStatus(ctx, pos.Pending.OrderID)
	if err != nil {
		if models.IsTransient(err) {
			return nil // keep the reference, retry next tick
		}
		// The exchange no longer knows the order; drop the reference and
		// let balance reconciliation settle any stranded volume.
		lc.logger.WithError(err).Error("Add-buy order lost at exchange")
		pos.Pending = nil
		return err
	}

	switch order.Status {
	case models.OrderStatusFilled:
		pos.Pending = nil
		lc.applyAddBuyFill(order, cfg)
	case models.OrderStatusCancelled:
		pos.Pending = nil
		if order.ExecutedVolume > 0 {
			lc.applyAddBuyFill(order, cfg)
		}
	}
	return nil
}

// applyAddBuyFill folds an executed add-buy into the weighted-average
// entry and resets the high-water mark and stop off the new average.
func (lc *Lifecycle) applyAddBuyFill(order *models.Order, cfg *config.StrategyConfig) {
	pos := lc.Position
	fillPrice := order.AvgFillPrice()
	newVolume := pos.Volume + order.ExecutedVolume
	pos.AvgEntryPrice = (pos.Volume*pos.AvgEntryPrice + order.ExecutedVolume*fillPrice) / newVolume
	pos.Volume = newVolume
	pos.AddBuyCount++
	pos.HighestPrice = pos.AvgEntryPrice
	pos.StopPrice = pos.AvgEntryPrice * (1 - cfg.Exit.StopLoss)

	lc.logger.WithFields(logrus.Fields{
		"fill_price":    fillPrice,
		"avg_entry":     pos.AvgEntryPrice,
		"add_buy_count": pos.AddBuyCount,
	}).Info("Add-buy executed")
}

// minOrderFunds is Upbit's minimum order notional in KRW.
const minOrderFunds = 5000

// --- exits ---

// exitAtMarket cancels any resting take-profit and issues a market sell.
// If the take-profit turns out to have filled while we were cancelling,
// the position closes through it instead; the stop never loses to a race.
func (lc *Lifecycle) exitAtMarket(ctx context.Context, price float64, reason string) (*Outcome, error) {
	pos := lc.Position

	// An unresolved add-buy must fold in first so the exit sells the full
	// volume; its order id would otherwise be overwritten below.
	if pos.Pending != nil && pos.Pending.Kind == models.PendingAddBuy {
		order, err := lc.gateway.OrderStatus(ctx, pos.Pending.OrderID)
		if err != nil && models.IsTransient(err) {
			return nil, nil
		}
		if err == nil && order.ExecutedVolume > 0 {
			newVolume := pos.Volume + order.ExecutedVolume
			pos.AvgEntryPrice = (pos.Volume*pos.AvgEntryPrice + order.ExecutedVolume*order.AvgFillPrice()) / newVolume
			pos.Volume = newVolume
		}
		pos.Pending = nil
	}

	if pos.Pending != nil && pos.Pending.Kind == models.PendingTakeProfit {
		orderID := pos.Pending.OrderID
		if err := lc.gateway.CancelOrder(ctx, orderID); err != nil && models.IsTransient(err) {
			return nil, nil
		}
		if order, err := lc.gateway.OrderStatus(ctx, orderID); err == nil {
			if order.Status == models.OrderStatusFilled {
				return lc.close(order.AvgFillPrice(), order.ExecutedVolume, ReasonTakeProfit), nil
			}
		}
		pos.Pending = nil
	}

	orderID, err := lc.gateway.PlaceMarketSell(ctx, pos.Symbol, pos.Volume)
	if err != nil {
		if models.IsTransient(err) {
			return nil, nil // retry next tick, still HELD
		}
		// Rejected market sells retry on the next cycle as well; the
		// position must never be dropped while it still holds volume.
		lc.logger.WithError(err).Error("Market sell rejected, will retry")
		return nil, nil
	}

	pos.State = models.StateExitPending
	pos.Pending = &models.PendingOrder{
		OrderID:  orderID,
		Side:     models.OrderSideSell,
		Kind:     models.PendingExit,
		Volume:   pos.Volume,
		PlacedAt: lc.now(),
	}
	lc.exitReason = reason
	lc.logger.WithFields(logrus.Fields{"reason": reason, "price": price}).Info("Market exit issued")
	return nil, nil
}

func (lc *Lifecycle) superviseExit(ctx context.Context, price float64) (*Outcome, error) {
	pos := lc.Position
	if pos.Pending == nil {
		// Unresolved exit with no order reference: issue a fresh market sell.
		return lc.exitAtMarket(ctx, price, lc.exitReasonOrDefault())
	}

	order, err := lc.gateway.OrderStatus(ctx, pos.Pending.OrderID)
	if err != nil {
		if models.IsTransient(err) {
			return nil, nil
		}
		return nil, err
	}

	switch order.Status {
	case models.OrderStatusFilled:
		return lc.close(order.AvgFillPrice(), order.ExecutedVolume, lc.exitReasonOrDefault()), nil
	case models.OrderStatusCancelled:
		// Partial or external cancel: sell whatever is left.
		if order.ExecutedVolume > 0 && order.ExecutedVolume < pos.Volume {
			pos.Volume -= order.ExecutedVolume
		}
		pos.Pending = nil
	}
	return nil, nil
}

func (lc *Lifecycle) exitReasonOrDefault() string {
	if lc.exitReason != "" {
		return lc.exitReason
	}
	return ReasonStopLoss
}

// ForceExit is the dashboard's panic-sell path. It funnels through the
// same market-exit transition the automatic triggers use, under the same
// lock, so a command can never race the position loop into a double sell.
func (lc *Lifecycle) ForceExit(ctx context.Context, price float64) (*Outcome, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	pos := lc.Position
	switch pos.State {
	case models.StateEntryPending:
		if pos.Pending != nil {
			if err := lc.gateway.CancelOrder(ctx, pos.Pending.OrderID); err != nil && models.IsTransient(err) {
				return nil, nil
			}
		}
		pos.State = models.StateEntryCancelled
		pos.Pending = nil
		return &Outcome{Done: true}, nil
	case models.StateHeld:
		return lc.exitAtMarket(ctx, price, ReasonPanicSell)
	default:
		return nil, nil
	}
}

func (lc *Lifecycle) close(exitPrice, volume float64, reason string) *Outcome {
	pos := lc.Position
	pos.State = models.StateClosed
	pos.Pending = nil
	if volume <= 0 {
		volume = pos.Volume
	}

	profitRate := (exitPrice - pos.AvgEntryPrice) / pos.AvgEntryPrice
	record := &models.TradeRecord{
		Symbol:      pos.Symbol,
		EntryPrice:  pos.AvgEntryPrice,
		ExitPrice:   exitPrice,
		Volume:      volume,
		PnL:         (exitPrice - pos.AvgEntryPrice) * volume,
		ProfitRate:  profitRate,
		AddBuyCount: pos.AddBuyCount,
		Reason:      reason,
		EntryTime:   pos.EntryTime,
		ExitTime:    lc.now(),
	}
	lc.logger.WithFields(logrus.Fields{
		"reason":      reason,
		"exit_price":  exitPrice,
		"profit_rate": profitRate,
	}).Info("Position closed")
	return &Outcome{Done: true, Cooldown: true, Record: record}
}
