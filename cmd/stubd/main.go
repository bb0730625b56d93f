// stubd runs the development messaging backend so the admin console can
// be exercised without the production server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"izajadmin/internal/stubserver"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	addr := flag.String("addr", ":4000", "Listen address")
	token := flag.String("token", "dev-token", "Bearer token the client must present")
	simulate := flag.Duration("simulate", 0, "Emit a simulated customer message on this interval (0 disables)")
	flag.Parse()

	srv := stubserver.New(*token)

	server := &http.Server{
		Addr:    *addr,
		Handler: srv.Handler(),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("stub backend listening on %s", *addr)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if *simulate > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(*simulate)
			defer ticker.Stop()
			n := 0
			for {
				select {
				case <-gCtx.Done():
					return nil
				case <-ticker.C:
					n++
					room := fmt.Sprintf("room-%d", n%3+1)
					srv.SimulateCustomer(room, "Simulated Customer", fmt.Sprintf("simulated message %d", n))
				}
			}
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down stub backend...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("stub backend shutdown error: %v", err)
		}
		return nil
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
