package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/devshiv17/relay-server/internal/obs"
	"github.com/devshiv17/relay-server/internal/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// startOpsServer serves Prometheus metrics plus lightweight dashboard & state endpoints.
func startOpsServer(addr string, ledger sessionLedger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/relay/api/state", func(w http.ResponseWriter, r *http.Request) {
		st := collectStats(ledger)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	})
	mux.HandleFunc("/relay/dashboard", func(w http.ResponseWriter, r *http.Request) {
		st := collectStats(ledger)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := web.Render(w, "dashboard", st.ToTemplateMap()); err != nil {
			w.WriteHeader(http.StatusNotImplemented)
			_, _ = w.Write([]byte("dashboard template missing"))
			return
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ledger.isClosing() || !ledger.isReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		obs.Error("ops.server", obs.Fields{"err": err.Error(), "addr": addr})
	}
}
