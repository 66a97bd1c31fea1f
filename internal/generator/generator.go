// Package generator is the thin, timer-driven producer of Car records; a
// surrounding collaborator, not part of the durability/failover core.
package generator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vilhelmsaro/car-seeder/internal/model"
)

// Sink is called once per tick; errors are logged and do not stop
// production.
type Sink func(context.Context, model.Car) error

// Generator produces Car records on a fixed-interval timer.
type Generator struct {
	interval time.Duration
	sink     Sink
	log      zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// New returns a Generator that has not yet started.
func New(interval time.Duration, sink Sink, log zerolog.Logger) *Generator {
	return &Generator{interval: interval, sink: sink, log: log}
}

// Start begins production in its own goroutine.
func (g *Generator) Start(ctx context.Context) {
	g.stop = make(chan struct{})
	g.done = make(chan struct{})
	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	defer close(g.done)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stop:
			return
		case <-ticker.C:
			car := randomCar()
			if err := g.sink(ctx, car); err != nil {
				g.log.Error().Err(err).Msg("generator: write failed; continuing")
			}
		}
	}
}

// Stop signals the run loop and waits for it to exit.
func (g *Generator) Stop() {
	if g.stop == nil {
		return
	}
	close(g.stop)
	<-g.done
}
