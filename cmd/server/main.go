package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"skoll/internal/auth"
	"skoll/internal/floor"
	"skoll/internal/net"
	"skoll/internal/oracle"
)

func main() {
	address := flag.String("address", "0.0.0.0", "Address to listen on")
	port := flag.Int("port", 9001, "Port to listen on")
	basePrice := flag.Float64("price", 100.0, "Reference price returned by the oracle stub")
	swing := flag.Float64("swing", 0, "Pseudo-random price swing around the base; 0 keeps prices fixed")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	var prices oracle.Oracle = oracle.Fixed{Value: *basePrice}
	if *swing > 0 {
		prices = oracle.Jittered{Base: *basePrice, Swing: *swing}
	}

	// Setup the floor and the TCP server.
	fl := floor.New(prices)
	srv := net.New(*address, *port, fl, auth.NewService())
	fl.SetNotifier(srv)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Run(ctx); err != nil {
			log.Error().Err(err).Msg("server exited with error")
		}
	}()

	// Block until a shutdown signal arrives, then join the server and
	// every matching worker before exiting.
	<-ctx.Done()
	<-done
	fl.StopAll()
}
