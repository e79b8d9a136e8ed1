package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/devshiv17/relay-server/internal/obs"
	"github.com/devshiv17/relay-server/internal/pairing"
	"github.com/devshiv17/relay-server/internal/ratelimit"
)

func main() {
	flag.Parse()
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	obs.Info("relay.start", obs.Fields{
		"listen":          cfg.ListenAddr,
		"ops":             cfg.OpsAddr,
		"pairing_timeout": cfg.PairingTimeout.String(),
		"buffer":          cfg.BufferSize,
	})

	ledger, err := newSessionLedger(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		obs.Error("ledger.init", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	table := pairing.NewTable(cfg.DistinctRoles)

	var limiter *ratelimit.ConnLimiter
	if cfg.GlobalConnRate > 0 || cfg.SourceConnRate > 0 {
		limiter = ratelimit.NewConnLimiter(cfg.GlobalConnRate, cfg.SourceConnRate, cfg.RateBurst)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		obs.Error("listen", obs.Fields{"err": err.Error(), "addr": cfg.ListenAddr})
		os.Exit(1)
	}
	defer ln.Close()

	go startOpsServer(cfg.OpsAddr, ledger)
	if r, ok := ledger.(*redisLedger); ok {
		go r.startMaintenance(ctx)
	}
	if limiter != nil {
		go runSweepLoop(ctx, limiter, cfg.SweepInterval)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); acceptLoop(ctx, ln, table, ledger, limiter) }()

	ledger.setReady(true)
	obs.Info("relay.ready", obs.Fields{"addr": ln.Addr().String()})

	<-ctx.Done()
	obs.Info("relay.shutdown.signal", obs.Fields{})
	ledger.setClosing(true)
	_ = ln.Close()
	wg.Wait()
	obs.Info("relay.shutdown.complete", obs.Fields{})
}

// runSweepLoop periodically drops idle per-source rate-limit buckets so the
// limiter map does not grow with every IP ever seen.
func runSweepLoop(ctx context.Context, limiter *ratelimit.ConnLimiter, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if removed := limiter.Sweep(10 * interval); removed > 0 {
				obs.Debug("ratelimit.sweep", obs.Fields{"removed": removed})
			}
		}
	}
}
