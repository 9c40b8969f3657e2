package fanout

import (
	"context"

	"go.uber.org/zap"
)

// Sink consumes events drained from one subscription.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, ev Event) error
}

func (f SinkFunc) Name() string { return f.SinkName }

func (f SinkFunc) Handle(ctx context.Context, ev Event) error { return f.Fn(ctx, ev) }

// Pump feeds sub into sink until ctx is done or sub is closed, then closes
// sub. A failing sink only loses its own events: errors are logged and the
// pump moves on.
func Pump(ctx context.Context, sub *Subscription, sink Sink, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("sink", sink.Name()))
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				logger.Info("subscription closed", zap.Uint64("dropped", sub.Dropped()))
				return
			}
			if err := sink.Handle(ctx, ev); err != nil {
				logger.Warn("sink failed to handle event",
					zap.String("type", string(ev.Type)),
					zap.Uint64("seq", ev.Sequence),
					zap.Error(err))
			}
		}
	}
}
