package syncer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Refresher re-triggers LoadItems on a fixed interval. Overlapping
// invocations are suppressed by the coordinator's in-progress guard, so
// a slow load simply causes the next tick to be dropped.
type Refresher struct {
	coord    *Coordinator
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewRefresher starts the background refresh loop. A non-positive
// interval falls back to one minute; time.NewTicker panics on it.
func NewRefresher(c *Coordinator, interval time.Duration, log zerolog.Logger) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}
	r := &Refresher{
		coord:    c,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Refresher) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Failures are already captured in the coordinator's state;
			// the loop itself only notes them.
			if err := r.coord.LoadItems(context.Background()); err != nil {
				r.log.Debug().Err(err).Msg("periodic refresh failed")
			}
		case <-r.stop:
			return
		}
	}
}

// Stop halts the loop and waits for the current iteration to finish.
func (r *Refresher) Stop() {
	close(r.stop)
	<-r.done
}
