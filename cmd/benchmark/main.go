package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/joripage/matching-engine/pkg/engine"
	"github.com/joripage/matching-engine/pkg/fanout"
	"github.com/joripage/matching-engine/pkg/generator"
)

func main() {
	numOrders := flag.Int("orders", 1_000_000, "orders to submit")
	submitters := flag.Int("submitters", 4, "concurrent submitting goroutines")
	queueSize := flag.Int("queue", 65536, "admission queue size")
	flag.Parse()

	eng := engine.New(engine.Config{
		QueueSize:        *queueSize,
		AdmitTimeout:     time.Second,
		SubscriberBuffer: 1 << 16,
	})

	// a live subscriber keeps fan-out in the measured path
	sub := eng.Subscribe(fanout.EventTrade)
	var printed int
	var consumed sync.WaitGroup
	consumed.Add(1)
	go func() {
		defer consumed.Done()
		for ev := range sub.C() {
			if printed < 5 {
				t := ev.Trade
				log.Printf("Match: BUY[%d] <=> SELL[%d] @ %s Qty %d", t.BuyOrderID, t.SellOrderID, t.Price, t.Qty)
				printed++
			}
		}
	}()

	ctx := context.Background()
	eng.Start(ctx)

	per := *numOrders / *submitters
	total := per * *submitters
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *submitters; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			gen := generator.New(nil, time.Second, seed, nil)
			for j := 0; j < per; j++ {
				if _, err := eng.Submit(ctx, gen.Next()); err != nil {
					log.Printf("submit: %v", err)
				}
			}
		}(int64(i + 1))
	}
	wg.Wait()
	admitted := time.Since(start)

	eng.Stop()
	elapsed := time.Since(start)
	consumed.Wait()

	st := eng.Stats()
	fmt.Println("--------")
	fmt.Printf("Total Orders     : %d\n", total)
	fmt.Printf("Processed        : %d\n", st.Processed)
	fmt.Printf("Total Matches    : %d\n", st.Trades)
	fmt.Printf("Total Matched Qty: %d\n", st.Volume)
	fmt.Printf("Resting          : %d\n", st.Resting)
	fmt.Printf("Dropped Events   : %d\n", sub.Dropped())
	fmt.Printf("Admission Time   : %s\n", admitted)
	fmt.Printf("Time Taken       : %s\n", elapsed)
	fmt.Printf("Throughput       : %.0f orders/s\n", float64(st.Processed)/elapsed.Seconds())
}
