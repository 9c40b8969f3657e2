package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/joripage/matching-engine/pkg/fanout"
	"github.com/redis/go-redis/v9"
)

const defaultTapeLength = 1000

type RedisSinkConfig struct {
	KeyPrefix  string
	Instrument string
	// TapeLength caps the recent-trades list.
	TapeLength int64
}

// RedisSink keeps a recent-trades tape and the current top of book in Redis
// and republishes both on pub/sub channels.
//
//	<prefix>:<instrument>:trades     list, newest first
//	<prefix>:<instrument>:top        hash
//	<prefix>:<instrument>:trades:ch  channel
//	<prefix>:<instrument>:top:ch     channel
type RedisSink struct {
	client redis.UniversalClient
	cfg    RedisSinkConfig
}

func NewRedisSink(client redis.UniversalClient, cfg RedisSinkConfig) *RedisSink {
	if cfg.TapeLength <= 0 {
		cfg.TapeLength = defaultTapeLength
	}
	return &RedisSink{client: client, cfg: cfg}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) key(parts ...string) string {
	k := s.cfg.Instrument
	if s.cfg.KeyPrefix != "" {
		k = s.cfg.KeyPrefix + ":" + k
	}
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *RedisSink) Handle(ctx context.Context, ev fanout.Event) error {
	switch ev.Type {
	case fanout.EventTrade:
		return s.trade(ctx, NewTradeMessage(s.cfg.Instrument, *ev.Trade))
	case fanout.EventBookTop:
		return s.top(ctx, NewTopMessage(s.cfg.Instrument, ev.Sequence, *ev.Top))
	}
	return nil
}

func (s *RedisSink) Types() []fanout.EventType {
	return []fanout.EventType{fanout.EventTrade, fanout.EventBookTop}
}

func (s *RedisSink) trade(ctx context.Context, msg TradeMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal trade %s: %w", msg.TradeID, err)
	}

	tape := s.key("trades")
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, tape, payload)
		p.LTrim(ctx, tape, 0, s.cfg.TapeLength-1)
		p.Publish(ctx, s.key("trades", "ch"), payload)
		return nil
	})
	return err
}

func (s *RedisSink) top(ctx context.Context, msg TopMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal top at %d: %w", msg.Sequence, err)
	}

	hash := s.key("top")
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, hash)
		p.HSet(ctx, hash, topFields(msg))
		p.Publish(ctx, s.key("top", "ch"), payload)
		return nil
	})
	return err
}

// topFields flattens msg for HSET; an empty side has no price field.
func topFields(msg TopMessage) map[string]any {
	f := map[string]any{
		"sequence": strconv.FormatUint(msg.Sequence, 10),
		"bid_qty":  strconv.FormatInt(msg.BidQty, 10),
		"ask_qty":  strconv.FormatInt(msg.AskQty, 10),
	}
	if msg.BidPrice != nil {
		f["bid_price"] = msg.BidPrice.String()
	}
	if msg.AskPrice != nil {
		f["ask_price"] = msg.AskPrice.String()
	}
	return f
}
