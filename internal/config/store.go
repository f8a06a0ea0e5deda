package config

import (
	"fmt"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Store hands out immutable strategy-config snapshots. Replacement is a
// single pointer swap, so a decision cycle that captured a snapshot never
// observes a half-applied reload.
type Store struct {
	current atomic.Pointer[StrategyConfig]
	version atomic.Int64
	logger  *logrus.Logger
}

func NewStore(initial StrategyConfig, logger *logrus.Logger) *Store {
	s := &Store{logger: logger}
	initial.Version = int(s.version.Add(1))
	s.current.Store(&initial)
	return s
}

// Snapshot returns the active config. Callers hold the returned pointer for
// one evaluation cycle and must not mutate it.
func (s *Store) Snapshot() *StrategyConfig {
	return s.current.Load()
}

// Apply validates and swaps in a new strategy config. Invalid configs are
// rejected wholesale and the previous snapshot stays active.
func (s *Store) Apply(next StrategyConfig) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("config rejected: %w", err)
	}
	next.Version = int(s.version.Add(1))
	s.current.Store(&next)
	s.logger.WithField("version", next.Version).Info("Strategy config applied")
	return nil
}

// Watch re-reads the strategy section whenever the config file changes on
// disk and hot-applies it. The dashboard writes the file; the engine picks
// it up here without a restart.
func (s *Store) Watch(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		var next Config
		if err := v.Unmarshal(&next); err != nil {
			s.logger.WithError(err).Error("Config reload failed to parse, keeping previous")
			return
		}
		if err := s.Apply(next.Strategy); err != nil {
			s.logger.WithError(err).Error("Config reload rejected, keeping previous")
		}
	})
	v.WatchConfig()
}
