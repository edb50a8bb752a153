package history

import (
	"context"
	"time"

	"convertio/internal/eventbus"
	"convertio/internal/job"
	"convertio/pkg/logx"
)

// Recorder writes every job that ends on the bus into a Store.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	topic string
	log   logx.Logger
}

func NewRecorder(store Store, bus eventbus.Bus, topic string, log logx.Logger) *Recorder {
	return &Recorder{store: store, bus: bus, topic: topic, log: log.With(logx.String("comp", "history.recorder"))}
}

// Run consumes events until ctx ends, then writes whatever is already buffered so
// jobs that ended during shutdown are not lost.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(256, r.topic)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			r.drain(ch)
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.write(ctx, ev)
		}
	}
}

func (r *Recorder) drain(ch <-chan eventbus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.write(ctx, ev)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, ev eventbus.Event) {
	v, ok := ev.Data.(job.View)
	if !ok {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := r.store.Record(wctx, FromView(v))
	cancel()
	if err != nil {
		r.log.Warn("record history failed", logx.String("job", v.ID), logx.Err(err))
	}
}
