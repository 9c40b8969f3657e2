package marketdata

import (
	"context"

	"github.com/joripage/matching-engine/pkg/fanout"
)

// JSONPublisher is satisfied by kafkawrapper.Producer.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, topic string, key string, v any, headers map[string]string) error
}

type KafkaSinkConfig struct {
	Instrument string
	TradeTopic string
	// TopTopic is optional; book_top events are skipped when it is empty.
	TopTopic string
}

// KafkaSink publishes trades, keyed by instrument so they stay on one
// partition in engine order.
type KafkaSink struct {
	pub JSONPublisher
	cfg KafkaSinkConfig
}

func NewKafkaSink(pub JSONPublisher, cfg KafkaSinkConfig) *KafkaSink {
	return &KafkaSink{pub: pub, cfg: cfg}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Handle(ctx context.Context, ev fanout.Event) error {
	switch ev.Type {
	case fanout.EventTrade:
		msg := NewTradeMessage(s.cfg.Instrument, *ev.Trade)
		return s.pub.PublishJSON(ctx, s.cfg.TradeTopic, s.cfg.Instrument, msg, map[string]string{"type": string(ev.Type)})
	case fanout.EventBookTop:
		if s.cfg.TopTopic == "" {
			return nil
		}
		msg := NewTopMessage(s.cfg.Instrument, ev.Sequence, *ev.Top)
		return s.pub.PublishJSON(ctx, s.cfg.TopTopic, s.cfg.Instrument, msg, map[string]string{"type": string(ev.Type)})
	}
	return nil
}

// Types lists the events the sink wants, for Subscribe.
func (s *KafkaSink) Types() []fanout.EventType {
	if s.cfg.TopTopic == "" {
		return []fanout.EventType{fanout.EventTrade}
	}
	return []fanout.EventType{fanout.EventTrade, fanout.EventBookTop}
}
