package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bookstate/internal/api"
	"bookstate/internal/feed"
	"bookstate/internal/ledger"
	"bookstate/internal/orderbook"
	"bookstate/internal/publish"
	"bookstate/internal/signals"
	"bookstate/internal/store"

	"github.com/joho/godotenv"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

func main() {
	// A missing .env is fine; flags and the real environment still apply.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: could not load .env: %v", err)
	}

	defaults := signals.DefaultConfig()

	addr := flag.String("addr", envString("BOOKSTATE_ADDR", ":8089"), "HTTP listen address")
	wsURL := flag.String("ws-url", envString("BYBIT_WS_URL", feed.PublicLinearURL), "Bybit public stream URL")
	privateURL := flag.String("private-ws-url", envString("BYBIT_PRIVATE_WS_URL", feed.PrivateURL), "Bybit private stream URL")
	symbol := flag.String("symbol", envString("BOOKSTATE_SYMBOL", "BTCUSDT"), "instrument symbol")
	depth := flag.Int("depth", envInt("BOOKSTATE_DEPTH", 50), "order book subscription depth (1, 50, 200 or 500)")
	dbPath := flag.String("db", envString("BOOKSTATE_DB", ""), "SQLite signal history path (empty = disabled)")
	brokers := flag.String("kafka-brokers", envString("KAFKA_BROKERS", ""), "comma-separated Kafka brokers (empty = disabled)")
	topic := flag.String("kafka-topic", envString("KAFKA_TOPIC", "bookstate.signals"), "Kafka topic for signal snapshots")
	interval := flag.Duration("interval", envDuration("BOOKSTATE_INTERVAL", 500*time.Millisecond), "signal evaluation interval")
	halfWidth := flag.Float64("half-width", envFloat("BOOKSTATE_HALF_WIDTH", defaults.HalfWidth), "ranged skew half width around mid")
	maxSpread := flag.Float64("max-spread", envFloat("BOOKSTATE_MAX_SPREAD", defaults.MaxSpread), "widest spread the gate accepts")
	targetDelta := flag.Float64("target-delta", envFloat("BOOKSTATE_TARGET_DELTA", defaults.TargetDelta), "target net inventory")
	corsOrigins := flag.String("cors", envString("BOOKSTATE_CORS", ""), "comma-separated allowed CORS origins (empty = allow all for dev)")
	apiKey := flag.String("api-key", os.Getenv("BYBIT_API_KEY"), "Bybit API key (enables the private order stream)")
	apiSecret := flag.String("api-secret", os.Getenv("BYBIT_API_SECRET"), "Bybit API secret")
	flag.Parse()

	book := orderbook.NewAt(*symbol, time.Now().UnixMilli())
	orders := ledger.New()
	engine := signals.NewEngine(book, orders, signals.Config{
		HalfWidth:   *halfWidth,
		MaxSpread:   *maxSpread,
		TargetDelta: *targetDelta,
	})

	var history *store.Store
	if *dbPath != "" {
		var err error
		history, err = store.New(*dbPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
	}

	var producer *publish.Producer
	if *brokers != "" {
		producer = publish.NewProducer(splitList(*brokers), *topic)
		log.Printf("Publishing signals to Kafka topic %s", *topic)
	}

	server := api.NewServer(engine, history)
	if *corsOrigins != "" {
		origins := splitList(*corsOrigins)
		server.SetCORSOrigins(origins)
		log.Printf("CORS restricted to: %v", origins)
	}

	ctx, cancel := context.WithCancel(context.Background())
	feedsDone := make(chan struct{}, 2)
	feeds := 1

	// Public book stream
	publicFeed := feed.NewClient(*wsURL)
	go func() {
		defer func() { feedsDone <- struct{}{} }()
		runFeed(ctx, "book", publicFeed, []string{feed.BookTopic(*depth, *symbol)}, book, orders, nil)
	}()

	// Private order stream
	if *apiKey != "" {
		feeds++
		privateFeed := feed.NewClient(*privateURL).WithCredentials(*apiKey, *apiSecret)
		go func() {
			defer func() { feedsDone <- struct{}{} }()
			runFeed(ctx, "order", privateFeed, []string{"order"}, book, orders, func() {
				warnUnreconciled(orders)
			})
		}()
	} else {
		log.Printf("No Bybit API key - order ledger will stay empty")
	}

	// Evaluate signals periodically
	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				evaluate(ctx, engine, server, history, producer)
			}
		}
	}()

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("Starting bookstate server on http://localhost%s", *addr)
		log.Printf("Symbol: %s (depth %d) via %s", *symbol, *depth, *wsURL)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	cancel()
	for i := 0; i < feeds; i++ {
		select {
		case <-feedsDone:
		case <-time.After(time.Second):
		}
	}
	log.Println("Feeds stopped")

	server.Shutdown()

	// Graceful HTTP shutdown with 5 second timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Println("HTTP server stopped")

	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Printf("Kafka producer close error: %v", err)
		}
	}
	if history != nil {
		if err := history.Close(); err != nil {
			log.Printf("Database close error: %v", err)
		}
		log.Println("Database closed")
	}

	log.Println("Server shutdown complete")
}

// runFeed keeps a stream subscribed until ctx is cancelled, reconnecting with
// exponential backoff. A reconnect to the book topic starts with a snapshot,
// which replaces the book. onReconnect, if set, runs before each resubscribe.
func runFeed(ctx context.Context, name string, client *feed.Client, topics []string, book *orderbook.Book, orders *ledger.Ledger, onReconnect func()) {
	backoff := minBackoff
	for ctx.Err() == nil {
		started := time.Now()
		consume(ctx, name, client.Subscribe(ctx, topics...), book, orders)

		if time.Since(started) > maxBackoff {
			backoff = minBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		log.Printf("[feed] %s reconnecting after %v", name, backoff)
		if onReconnect != nil {
			onReconnect()
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// consume applies every message from results until the stream ends.
func consume(ctx context.Context, name string, results <-chan feed.Result, book *orderbook.Book, orders *ledger.Ledger) {
	for r := range results {
		if r.Err != nil {
			if !errors.Is(r.Err, context.Canceled) {
				log.Printf("[feed] %s stream failed: %v", name, r.Err)
			}
			continue
		}
		if err := feed.Apply(book, orders, r.Message); err != nil {
			log.Printf("[feed] %s apply failed: %v", name, err)
		}
	}
	if ctx.Err() == nil {
		log.Printf("[feed] %s stream closed", name)
	}
}

// warnUnreconciled logs the orders still tracked when the private stream
// reconnects. The stream has no replay, so an order filled or cancelled while
// it was down stays in the ledger until its next event. It returns the count.
func warnUnreconciled(orders *ledger.Ledger) int {
	n := 0
	for _, side := range []ledger.Side{ledger.Buy, ledger.Sell} {
		for _, status := range []ledger.Status{ledger.Pending, ledger.Active} {
			n += orders.Len(side, status)
		}
	}
	if n > 0 {
		log.Printf("[feed] order stream reconnected: %d tracked orders not reconciled, may be stale", n)
	}
	return n
}

func evaluate(ctx context.Context, engine *signals.Engine, server *api.Server, history *store.Store, producer *publish.Producer) {
	snap, err := engine.Evaluate()
	if err != nil {
		// Book not populated yet
		if !errors.Is(err, orderbook.ErrEmptySide) {
			log.Printf("[signals] evaluate failed: %v", err)
		}
		return
	}

	server.BroadcastSignals(snap)

	if history != nil {
		if err := history.Record(snap); err != nil {
			log.Printf("[store] record failed: %v", err)
		}
	}
	if producer != nil {
		if err := producer.Publish(ctx, snap); err != nil && ctx.Err() == nil {
			log.Printf("[publish] %v", err)
		}
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Invalid %s=%q, using %d", key, v, def)
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("Invalid %s=%q, using %v", key, v, def)
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Invalid %s=%q, using %v", key, v, def)
	}
	return def
}
