// Command watch follows a caller's booking requests over the real-time
// channel and prints each snapshot as it changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/erimias46/babrber-frontend-sub000/internal/requests"
	"github.com/erimias46/babrber-frontend-sub000/internal/syncclient"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	api := flag.String("api", "http://localhost:8080", "API base URL")
	token := flag.String("token", os.Getenv("BOOKING_TOKEN"), "bearer token (or BOOKING_TOKEN env)")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "--token or BOOKING_TOKEN is required")
		os.Exit(2)
	}
	logger := logging.New(*level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache := syncclient.NewCache(syncclient.NewHTTPFetcher(*api, *token, nil))
	cache.OnChange(func(r requests.BookingRequest) {
		fmt.Println(describe(r))
	})

	consumer := syncclient.NewConsumer(wsURL(*api), *token, cache, logger,
		syncclient.OnConnected(func() {
			fmt.Printf("-- connected, %d active request(s)\n", len(cache.Snapshot().Active()))
		}),
	)
	if err := consumer.Run(ctx); err != nil {
		logger.Error("watch stopped", "error", err)
		os.Exit(1)
	}
}

func wsURL(api string) string {
	api = strings.TrimRight(api, "/")
	switch {
	case strings.HasPrefix(api, "https://"):
		return "wss://" + strings.TrimPrefix(api, "https://") + "/ws"
	case strings.HasPrefix(api, "http://"):
		return "ws://" + strings.TrimPrefix(api, "http://") + "/ws"
	}
	return api + "/ws"
}

func describe(r requests.BookingRequest) string {
	when := "unscheduled"
	if r.Scheduled != nil {
		when = r.Scheduled.Local().Format(time.RFC1123)
	}
	return fmt.Sprintf("%s  v%d  %-11s %s  %s  $%d.%02d",
		r.ID, r.Version, r.Status, r.ServiceName, when, r.TotalPriceCents/100, r.TotalPriceCents%100)
}
