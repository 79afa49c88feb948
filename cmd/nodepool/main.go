package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	app "github.com/kachat-network/nodepool/app/pool"
	"github.com/kachat-network/nodepool/pkg/config"
	"github.com/kachat-network/nodepool/pkg/netmon"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	path := os.Getenv("POOL_CONFIG")
	cfg, err := config.Load(path)
	if err != nil {
		panic(err)
	}

	a, err := app.Initialize(ctx, cfg)
	if err != nil {
		panic(err)
	}

	// Daemons have no platform path-change feed; establish epoch 0 as a
	// generic online path.
	a.Monitor.SetPath(netmon.Path{Interface: "wired", Online: true})

	// Kick one discovery round before the cron takes over.
	a.Discovery.Discover(ctx)

	a.Start(ctx)
}
