package main

import "github.com/devshiv17/relay-server/internal/obs"

// newSessionLedger creates either the in-memory or Redis-backed ledger based on configuration.
func newSessionLedger(redisAddr, redisPassword string, redisDB int) (sessionLedger, error) {
	if redisAddr == "" {
		obs.Info("ledger.backend", obs.Fields{"type": "in-memory"})
		return newMemoryLedger(), nil
	}
	obs.Info("ledger.backend", obs.Fields{"type": "redis", "addr": redisAddr})
	return newRedisLedger(redisAddr, redisPassword, redisDB)
}
