package store

import (
	"time"

	"trendtrader/pkg/models"
)

// ScanSnapshot is the full scored candidate list from one scan tick,
// published for the dashboard.
type ScanSnapshot struct {
	Timestamp  time.Time                `json:"timestamp"`
	Candidates []models.ScoredCandidate `json:"candidates"`
}

// Recorder archives closed trades and scan results for reporting.
type Recorder interface {
	RecordTrade(rec *models.TradeRecord) error
	Trades(limit int) ([]models.TradeRecord, error)
	RecordScan(snap *ScanSnapshot) error
	LatestScan() (*ScanSnapshot, error)
	Close() error
}

// NoopRecorder drops everything; used when the database cannot be opened
// so a broken disk never stops trading.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (NoopRecorder) RecordTrade(*models.TradeRecord) error      { return nil }
func (NoopRecorder) Trades(int) ([]models.TradeRecord, error)   { return nil, nil }
func (NoopRecorder) RecordScan(*ScanSnapshot) error             { return nil }
func (NoopRecorder) LatestScan() (*ScanSnapshot, error)         { return &ScanSnapshot{}, nil }
func (NoopRecorder) Close() error                               { return nil }
