package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// QuoteHandler receives live trade prices from the ticker stream.
type QuoteHandler func(symbol string, price float64)

// QuoteStream keeps a websocket subscription to Upbit's ticker feed so the
// engine can check price-sensitive exits (stop-loss, trailing stop) on a
// tighter interval than the REST poll.
type QuoteStream struct {
	url     string
	handler QuoteHandler
	logger  *logrus.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	symbols   []string
	connected bool
}

type tickerEvent struct {
	Type       string  `json:"type"`
	Code       string  `json:"code"`
	TradePrice float64 `json:"trade_price"`
}

func NewQuoteStream(url string, handler QuoteHandler, logger *logrus.Logger) *QuoteStream {
	return &QuoteStream{
		url:     url,
		handler: handler,
		logger:  logger,
	}
}

// Subscribe replaces the watched symbol set. Safe to call while connected;
// the subscription is re-sent on the live connection.
func (qs *QuoteStream) Subscribe(symbols []string) error {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	qs.symbols = append([]string(nil), symbols...)
	if !qs.connected || len(qs.symbols) == 0 {
		return nil
	}
	return qs.sendSubscription()
}

// Run keeps the stream connected until ctx is cancelled, reconnecting with
// a capped backoff after failures.
func (qs *QuoteStream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := qs.connect(ctx); err != nil {
			qs.logger.WithError(err).Warn("Quote stream connect failed")
		} else {
			backoff = time.Second
			qs.readLoop(ctx)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (qs *QuoteStream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, qs.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}

	qs.mu.Lock()
	qs.conn = conn
	qs.connected = true
	err = nil
	if len(qs.symbols) > 0 {
		err = qs.sendSubscription()
	}
	qs.mu.Unlock()

	if err != nil {
		qs.disconnect()
		return err
	}
	return nil
}

// sendSubscription rewrites the full subscription; caller holds qs.mu.
func (qs *QuoteStream) sendSubscription() error {
	payload := []interface{}{
		map[string]string{"ticket": uuid.NewString()},
		map[string]interface{}{"type": "ticker", "codes": qs.symbols},
	}
	return qs.conn.WriteJSON(payload)
}

func (qs *QuoteStream) readLoop(ctx context.Context) {
	defer qs.disconnect()
	for {
		if ctx.Err() != nil {
			return
		}
		_, msg, err := qs.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				qs.logger.WithError(err).Warn("Quote stream read failed, reconnecting")
			}
			return
		}

		var evt tickerEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		if evt.Type == "ticker" && evt.Code != "" && evt.TradePrice > 0 {
			qs.handler(evt.Code, evt.TradePrice)
		}
	}
}

func (qs *QuoteStream) disconnect() {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	qs.connected = false
	if qs.conn != nil {
		qs.conn.Close()
		qs.conn = nil
	}
}
