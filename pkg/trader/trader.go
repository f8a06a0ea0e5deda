package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"trendtrader/internal/config"
	"trendtrader/internal/store"
	"trendtrader/pkg/models"
)

// Trader is the top-level scheduler: it refreshes market data, evaluates
// entry candidates, arbitrates slots, and advances every open position
// lifecycle. Positions are advanced sequentially within a tick, so no two
// exit actions for the same position ever overlap.
type Trader struct {
	gateway  Gateway
	configs  *config.Store
	cache    *CandleCache
	slots    *SlotManager
	eval     Evaluator
	recorder store.Recorder
	logger   *logrus.Logger

	stateFile string

	mu             sync.RWMutex
	lifecycles     map[string]*Lifecycle
	quotes         map[string]quote
	universe       []string
	paused         bool
	pendingRecords []*models.TradeRecord
	lastScan       time.Time

	subscribe func(symbols []string)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(gateway Gateway, configs *config.Store, recorder store.Recorder, stateFile string, logger *logrus.Logger) *Trader {
	return &Trader{
		gateway:    gateway,
		configs:    configs,
		cache:      NewCandleCache(200),
		slots:      NewSlotManager(),
		recorder:   recorder,
		logger:     logger,
		stateFile:  stateFile,
		lifecycles: make(map[string]*Lifecycle),
		quotes:     make(map[string]quote),
		stopCh:     make(chan struct{}),
	}
}

// SetQuoteSubscriber wires the live quote stream's subscription update;
// called whenever the held symbol set changes.
func (t *Trader) SetQuoteSubscriber(fn func(symbols []string)) {
	t.mu.Lock()
	t.subscribe = fn
	t.mu.Unlock()
}

// quote is one cached websocket price. The timestamp bounds how long a
// price may serve exit decisions after the stream goes quiet.
type quote struct {
	price float64
	at    time.Time
}

// quoteMaxAge is how old a cached quote may be before the position loop
// falls back to a REST fetch.
const quoteMaxAge = 5 * time.Second

// OnQuote feeds a live price into the quote cache. Safe from any
// goroutine; the websocket stream calls it.
func (t *Trader) OnQuote(symbol string, price float64) {
	t.mu.Lock()
	t.quotes[symbol] = quote{price: price, at: time.Now()}
	t.mu.Unlock()
}

// Start reconciles persisted state against the exchange, then launches
// the position loop, the scan loop, and the cooldown sweeper.
func (t *Trader) Start(ctx context.Context) error {
	t.logger.WithField("gateway", t.gateway.Name()).Info("Starting trend trader")

	if err := t.reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	t.wg.Add(3)
	go t.positionLoop(ctx)
	go t.scanLoop(ctx)
	go t.sweepLoop(ctx)
	return nil
}

// Stop persists state and waits for the loops to drain. Pending orders
// stay on the exchange; the next start reconciles against them.
func (t *Trader) Stop() {
	t.logger.Info("Stopping trend trader")
	close(t.stopCh)
	t.wg.Wait()
	if err := t.saveState(); err != nil {
		t.logger.WithError(err).Error("Failed to persist state on shutdown")
	}
}

// --- loops ---

// positionLoop advances every open lifecycle once per second. Exit logic
// always runs, regardless of whether entries are paused.
func (t *Trader) positionLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.advancePositions(ctx)
		}
	}
}

func (t *Trader) scanLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			cfg := t.configs.Snapshot()
			t.mu.RLock()
			due := time.Since(t.lastScan) >= time.Duration(cfg.ScanIntervalSec)*time.Second
			t.mu.RUnlock()
			if due {
				t.mu.Lock()
				t.lastScan = time.Now()
				t.mu.Unlock()
				t.scan(ctx, cfg)
			}
		}
	}
}

func (t *Trader) sweepLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			for _, symbol := range t.slots.Sweep() {
				t.logger.WithField("symbol", symbol).Info("Cooldown expired")
			}
			// Periodic snapshot catches high-water-mark and counter
			// movement between transitions.
			t.persist()
		}
	}
}

// --- position advancement ---

func (t *Trader) advancePositions(ctx context.Context) {
	// One config snapshot per tick: every position in this pass decides
	// against the same parameter set.
	cfg := t.configs.Snapshot()

	t.mu.RLock()
	lifecycles := make([]*Lifecycle, 0, len(t.lifecycles))
	for _, lc := range t.lifecycles {
		lifecycles = append(lifecycles, lc)
	}
	t.mu.RUnlock()
	if len(lifecycles) == 0 {
		return
	}

	prices := t.collectPrices(ctx, lifecycles)

	changed := false
	for _, lc := range lifecycles {
		outcome, err := lc.Advance(ctx, cfg, prices[lc.Position.Symbol])
		if err != nil {
			t.countGatewayError(err)
			t.logger.WithError(err).WithField("symbol", lc.Position.Symbol).Error("Position advance failed")
			continue
		}
		if outcome != nil && outcome.Done {
			t.finishLifecycle(lc, outcome, cfg)
			changed = true
		}
	}

	if changed {
		t.persist()
		t.updateSubscription()
	}
	mtxOpenSlots.Set(float64(t.slots.Occupied()))
}

// collectPrices serves held symbols from the live quote cache and fills
// gaps with one batched REST call. A cached quote older than quoteMaxAge
// counts as missing, so a stalled stream can never keep feeding stale
// prices into the stop-loss evaluation.
func (t *Trader) collectPrices(ctx context.Context, lifecycles []*Lifecycle) map[string]float64 {
	prices := make(map[string]float64, len(lifecycles))
	var missing []string

	now := time.Now()
	t.mu.RLock()
	for _, lc := range lifecycles {
		symbol := lc.Position.Symbol
		if q, ok := t.quotes[symbol]; ok && q.price > 0 && now.Sub(q.at) <= quoteMaxAge {
			prices[symbol] = q.price
		} else {
			missing = append(missing, symbol)
		}
	}
	t.mu.RUnlock()

	if len(missing) > 0 {
		fetched, err := t.gateway.Quotes(ctx, missing)
		if err != nil {
			t.countGatewayError(err)
			t.logger.WithError(err).Warn("Quote fetch failed")
			return prices
		}
		t.mu.Lock()
		for symbol, price := range fetched {
			prices[symbol] = price
			t.quotes[symbol] = quote{price: price, at: now}
		}
		t.mu.Unlock()
	}
	return prices
}

func (t *Trader) finishLifecycle(lc *Lifecycle, outcome *Outcome, cfg *config.StrategyConfig) {
	symbol := lc.Position.Symbol

	cooldown := time.Duration(0)
	if outcome.Cooldown {
		cooldown = time.Duration(cfg.CooldownMinutes) * time.Minute
	}
	t.slots.Release(symbol, cooldown)

	t.mu.Lock()
	delete(t.lifecycles, symbol)
	t.mu.Unlock()

	if outcome.Record != nil {
		t.archiveTrade(outcome.Record)
	}
}

func (t *Trader) archiveTrade(rec *models.TradeRecord) {
	mtxExits.WithLabelValues(rec.Reason).Inc()
	mtxRealizedPnL.Add(rec.PnL)
	if err := t.recorder.RecordTrade(rec); err != nil {
		// The record must not be lost; retried before the next
		// admission cycle.
		t.logger.WithError(err).Error("Trade archive failed, queued for retry")
		t.mu.Lock()
		t.pendingRecords = append(t.pendingRecords, rec)
		t.mu.Unlock()
	}
}

// --- scanning & admission ---

func (t *Trader) scan(ctx context.Context, cfg *config.StrategyConfig) {
	if !t.flushPendingRecords() {
		// Release bookkeeping must settle before new admissions.
		return
	}

	candidates, err := t.refreshUniverse(ctx, cfg)
	if err != nil {
		t.countGatewayError(err)
		t.logger.WithError(err).Warn("Universe refresh failed")
		return
	}

	scored := t.evaluateCandidates(ctx, cfg, candidates)
	t.eval.Rank(scored)

	if err := t.recorder.RecordScan(&store.ScanSnapshot{
		Timestamp:  time.Now(),
		Candidates: scored,
	}); err != nil {
		t.logger.WithError(err).Warn("Scan snapshot not recorded")
	}

	t.mu.RLock()
	paused := t.paused
	t.mu.RUnlock()
	if paused {
		return
	}

	if !t.marketSafe(ctx, cfg) {
		t.logger.Info("Market filter active, entries suppressed")
		mtxAdmissionsDenied.WithLabelValues("market_filter").Inc()
		return
	}

	t.admit(ctx, cfg, scored)
}

func (t *Trader) refreshUniverse(ctx context.Context, cfg *config.StrategyConfig) ([]string, error) {
	tickers, err := t.gateway.Universe(ctx, cfg.Universe.QuoteCurrency, cfg.Universe.MinValue24h, cfg.Universe.TopN)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(tickers))
	for _, tk := range tickers {
		symbols = append(symbols, tk.Symbol)
	}
	t.mu.Lock()
	t.universe = symbols
	t.mu.Unlock()
	return symbols, nil
}

func (t *Trader) evaluateCandidates(ctx context.Context, cfg *config.StrategyConfig, candidates []string) []models.ScoredCandidate {
	fetchCount := cfg.AnalysisCandles + cfg.RSIPeriod + 2

	var scored []models.ScoredCandidate
	for _, symbol := range candidates {
		candles, err := t.gateway.Candles(ctx, symbol, cfg.CandleInterval, fetchCount)
		if err != nil {
			t.countGatewayError(err)
			t.logger.WithError(err).WithField("symbol", symbol).Debug("Candle fetch failed")
			continue
		}
		t.cache.Update(symbol, candles)

		window, err := t.cache.Window(symbol, fetchCount)
		if err != nil {
			continue // not enough history this tick
		}
		cand, err := t.eval.Analyze(symbol, window, cfg)
		if err != nil || cand == nil {
			continue // insufficient history or downtrend
		}
		scored = append(scored, *cand)
	}
	return scored
}

// marketSafe checks the reference asset's short-term drop and window
// slope. Gateway trouble fails open so a flaky endpoint cannot freeze
// trading.
func (t *Trader) marketSafe(ctx context.Context, cfg *config.StrategyConfig) bool {
	mf := &cfg.MarketFilter
	if !mf.Enabled {
		return true
	}

	hourly, err := t.gateway.Candles(ctx, mf.ReferenceSymbol, "1h", 2)
	if err != nil || len(hourly) < 2 {
		t.logger.WithError(err).Warn("Market filter reference fetch failed, allowing entries")
		return true
	}
	current, err := t.gateway.LatestQuote(ctx, mf.ReferenceSymbol)
	if err != nil {
		return true
	}

	refSlope := 0.0
	fetchCount := cfg.AnalysisCandles + cfg.RSIPeriod + 2
	if candles, err := t.gateway.Candles(ctx, mf.ReferenceSymbol, cfg.CandleInterval, fetchCount); err == nil {
		t.cache.Update(mf.ReferenceSymbol, candles)
		if len(candles) >= cfg.AnalysisCandles {
			closes := make([]float64, cfg.AnalysisCandles)
			for i, c := range candles[len(candles)-cfg.AnalysisCandles:] {
				closes[i] = c.Close
			}
			refSlope = Slope(closes)
		}
	}

	// hourly[len-2] is the last completed hour's close.
	return MarketSafe(mf, current, hourly[len(hourly)-2].Close, refSlope)
}

func (t *Trader) admit(ctx context.Context, cfg *config.StrategyConfig, scored []models.ScoredCandidate) {
	for i := range scored {
		cand := &scored[i]
		if t.slots.Occupied() >= cfg.MaxSlots {
			return
		}
		if !t.eval.Eligible(cand, cfg) {
			continue
		}

		if err := t.slots.TryAdmit(cand.Symbol, cfg.MaxSlots); err != nil {
			switch {
			case errors.Is(err, ErrCooldownActive):
				mtxAdmissionsDenied.WithLabelValues("cooldown").Inc()
			case errors.Is(err, ErrAlreadyHeld):
				mtxAdmissionsDenied.WithLabelValues("held").Inc()
			default:
				mtxAdmissionsDenied.WithLabelValues("no_slot").Inc()
				return
			}
			continue
		}

		balance, err := t.gateway.Balance(ctx, cfg.Universe.QuoteCurrency)
		if err != nil || balance < cfg.TradeAmount {
			if err != nil {
				t.countGatewayError(err)
			} else {
				t.logger.WithFields(logrus.Fields{
					"balance": balance,
					"needed":  cfg.TradeAmount,
				}).Warn("Insufficient balance for entry")
			}
			t.slots.Release(cand.Symbol, 0)
			return
		}

		lc, err := OpenEntry(ctx, t.gateway, t.logger, cand, cfg)
		if err != nil {
			t.countGatewayError(err)
			t.logger.WithError(err).WithField("symbol", cand.Symbol).Error("Entry placement failed")
			t.slots.Release(cand.Symbol, 0)
			continue
		}

		mtxEntries.Inc()
		t.mu.Lock()
		t.lifecycles[cand.Symbol] = lc
		t.mu.Unlock()
		t.persist()
		t.updateSubscription()
	}
}

// flushPendingRecords retries trade archives that failed earlier. Returns
// false while any record remains unarchived.
func (t *Trader) flushPendingRecords() bool {
	t.mu.Lock()
	pending := t.pendingRecords
	t.pendingRecords = nil
	t.mu.Unlock()

	var failed []*models.TradeRecord
	for _, rec := range pending {
		if err := t.recorder.RecordTrade(rec); err != nil {
			failed = append(failed, rec)
		}
	}
	if len(failed) > 0 {
		t.mu.Lock()
		t.pendingRecords = append(failed, t.pendingRecords...)
		t.mu.Unlock()
		return false
	}
	return true
}

// --- persistence & subscriptions ---

func (t *Trader) persist() {
	if err := t.saveState(); err != nil {
		t.logger.WithError(err).Error("State persistence failed")
	}
}

func (t *Trader) saveState() error {
	t.mu.RLock()
	lifecycles := make([]*Lifecycle, 0, len(t.lifecycles))
	for _, lc := range t.lifecycles {
		lifecycles = append(lifecycles, lc)
	}
	paused := t.paused
	t.mu.RUnlock()

	positions := make([]*models.Position, 0, len(lifecycles))
	for _, lc := range lifecycles {
		positions = append(positions, lc.Snapshot())
	}

	return store.SaveState(t.stateFile, &store.EngineState{
		Positions: positions,
		Cooldowns: t.slots.Cooldowns(),
		Paused:    paused,
	})
}

func (t *Trader) updateSubscription() {
	t.mu.RLock()
	fn := t.subscribe
	symbols := make([]string, 0, len(t.lifecycles))
	for symbol := range t.lifecycles {
		symbols = append(symbols, symbol)
	}
	t.mu.RUnlock()
	if fn != nil {
		fn(symbols)
	}
}

func (t *Trader) countGatewayError(err error) {
	var ge *models.GatewayError
	if errors.As(err, &ge) {
		mtxGatewayErrors.WithLabelValues(string(ge.Kind)).Inc()
		if ge.Kind == models.GatewayAuthFailure {
			t.logger.WithError(err).Error("Gateway authentication failure")
		}
	}
}

// --- read & command surface (consumed by the API server) ---

// Positions returns clones of all live positions.
func (t *Trader) Positions() []*models.Position {
	t.mu.RLock()
	lifecycles := make([]*Lifecycle, 0, len(t.lifecycles))
	for _, lc := range t.lifecycles {
		lifecycles = append(lifecycles, lc)
	}
	t.mu.RUnlock()

	out := make([]*models.Position, 0, len(lifecycles))
	for _, lc := range lifecycles {
		out = append(out, lc.Snapshot())
	}
	return out
}

// Universe returns the symbols from the most recent universe refresh.
func (t *Trader) Universe() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.universe))
	copy(out, t.universe)
	return out
}

// LatestScan returns the most recent scored candidate list.
func (t *Trader) LatestScan() (*store.ScanSnapshot, error) {
	return t.recorder.LatestScan()
}

// TradeHistory returns up to limit archived round trips, newest first.
func (t *Trader) TradeHistory(limit int) ([]models.TradeRecord, error) {
	return t.recorder.Trades(limit)
}

// Pause suppresses new entries; open positions keep being managed.
func (t *Trader) Pause() {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
	t.logger.Info("New entries paused")
	t.persist()
}

func (t *Trader) Resume() {
	t.mu.Lock()
	t.paused = false
	t.mu.Unlock()
	t.logger.Info("New entries resumed")
	t.persist()
}

func (t *Trader) Paused() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paused
}

// PanicSell force-closes a named position through the regular market-exit
// transition.
func (t *Trader) PanicSell(ctx context.Context, symbol string) error {
	t.mu.RLock()
	lc, ok := t.lifecycles[symbol]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no open position for %s", symbol)
	}

	price, err := t.gateway.LatestQuote(ctx, symbol)
	if err != nil {
		t.countGatewayError(err)
		return err
	}

	cfg := t.configs.Snapshot()
	outcome, err := lc.ForceExit(ctx, price)
	if err != nil {
		return err
	}
	if outcome != nil && outcome.Done {
		t.finishLifecycle(lc, outcome, cfg)
	}
	t.persist()
	return nil
}

// CancelEntry aborts a pending entry order; the symbol stays eligible.
func (t *Trader) CancelEntry(ctx context.Context, symbol string) error {
	t.mu.RLock()
	lc, ok := t.lifecycles[symbol]
	t.mu.RUnlock()
	if !ok || lc.State() != models.StateEntryPending {
		return fmt.Errorf("no pending entry for %s", symbol)
	}

	outcome, err := lc.ForceExit(ctx, 0)
	if err != nil {
		return err
	}
	if outcome != nil && outcome.Done {
		t.finishLifecycle(lc, outcome, t.configs.Snapshot())
	}
	t.persist()
	return nil
}
