package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"izajadmin/internal/client"
	"izajadmin/internal/config"
	"izajadmin/internal/poll"
	"izajadmin/internal/reconcile"
	"izajadmin/internal/rest"
	"izajadmin/internal/storage"
	"izajadmin/internal/store"
	"izajadmin/internal/transport"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	cache, err := storage.Open(cfg.CacheFile)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	st := store.New()
	api := rest.NewClient(cfg.APIBaseURL, cfg.AuthToken)
	rec := reconcile.New(st, api)

	channel := transport.GetOrCreate(transport.Config{
		URL:          cfg.SocketURL,
		Token:        cfg.AuthToken,
		AdminID:      cfg.AdminID,
		SelectedRoom: st.Selected,
		ReconnectMin: cfg.ReconnectMin,
		ReconnectMax: cfg.ReconnectMax,
	})
	defer transport.Shutdown()

	poller := poll.New(cfg.PollInterval, api, rec, st.Selected)

	c := client.New(client.Options{
		Store:      st,
		Reconciler: rec,
		API:        api,
		Channel:    channel,
		Poller:     poller,
		Cache:      cache,
		AdminID:    cfg.AdminID,
	})

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.Run(gCtx)
	})

	g.Go(func() error {
		return runConsole(gCtx, c, os.Stdin, os.Stdout)
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
