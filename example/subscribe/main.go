package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/pratik1724/trendflow"
)

func main() {
	cfg, err := trendflow.LoadConfig("../../config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	rt, err := trendflow.NewRuntime(cfg)
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		log.Fatalf("start runtime: %v", err)
	}

	unsub := rt.Subscribe(func(s trendflow.SyncState) {
		for id, sample := range s.LastLive {
			fmt.Printf("%s metric=%s value=%v valid=%t quality=%s\n",
				sample.Timestamp.Format(time.RFC3339Nano),
				id,
				sample.Value,
				sample.Valid,
				sample.Quality,
			)
		}
	})
	defer unsub()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
