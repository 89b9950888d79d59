package tracking

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fleetroute/internal/store"
)

// Purger periodically removes vehicle positions past the retention horizon.
// The store-side delete skips positions still referenced by an open geofence
// chain (a stop with an enter but no exit yet).
type Purger struct {
	Store    store.Store
	Engine   *Engine
	Interval time.Duration
	Log      zerolog.Logger
	Stop     chan struct{}
}

func NewPurger(st store.Store, eng *Engine, log zerolog.Logger) *Purger {
	return &Purger{Store: st, Engine: eng, Interval: time.Hour, Log: log, Stop: make(chan struct{})}
}

func (p *Purger) Start() {
	go func() {
		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.Stop:
				return
			case <-ticker.C:
				p.processOnce()
			}
		}
	}()
}

func (p *Purger) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cutoff := p.Engine.RetentionCutoff(time.Now().UTC())
	n, err := p.Store.PurgePositions(ctx, cutoff)
	if err != nil {
		p.Log.Error().Err(err).Msg("position purge failed")
		return
	}
	if n > 0 {
		p.Log.Info().Int("purged", n).Time("cutoff", cutoff).Msg("purged vehicle positions")
	}
}
