package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"critbook/internal/clock"
	"critbook/internal/engine"
	"critbook/internal/host"
)

func main() {
	address := flag.String("address", "0.0.0.0", "Listen address")
	port := flag.Int("port", 9001, "Listen port")
	poolID := flag.String("pool", "BASE/QUOTE", "Pool identifier stamped on reports")
	tickSize := flag.Uint64("tick-size", 1, "Minimum price increment")
	lotSize := flag.Uint64("lot-size", 1, "Minimum base quantity increment")
	takerFee := flag.Uint64("taker-fee", 5_000_000, "Taker fee rate, scale 1e9 (5e6 = 0.5%)")
	makerRebate := flag.Uint64("maker-rebate", 2_500_000, "Maker rebate rate, scale 1e9, at most the taker fee")
	flag.Parse()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	// Setup the TCP host and the pool. The host doubles as the pool's
	// event sink, so wire the two together through the late-bound pointer.
	var srv *host.Server
	registry := engine.NewRegistry()
	pool, err := registry.Create(*poolID, engine.Config{
		TickSize:       *tickSize,
		LotSize:        *lotSize,
		TakerFeeBps:    *takerFee,
		MakerRebateBps: *makerRebate,
	}, clock.System{}, func(e engine.Event) { srv.Broadcast(e) })
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create pool")
	}
	srv = host.New(*address, *port, pool)

	go srv.Run(ctx)
	// Block on running the server.
	<-ctx.Done()
}
