package net

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bchoi12/birdtown-sub001/internal/net/ws"
	"github.com/bchoi12/birdtown-sub001/internal/observability"
	"github.com/bchoi12/birdtown-sub001/internal/telemetry"
)

// LoopStatus is the slice of the tick loop surfaced on /diagnostics.
type LoopStatus interface {
	Seq() uint64
	Pending() int
}

type HTTPHandlerConfig struct {
	Logger        *log.Logger
	Observability observability.Config
	Loop          LoopStatus
	TickRate      int
	Counters      *telemetry.Counters
	Gatherer      prometheus.Gatherer
}

func NewHTTPHandler(peers *ws.Handler, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string            `json:"status"`
			ServerTime int64             `json:"serverTime"`
			Seq        uint64            `json:"seq"`
			Pending    int               `json:"pending"`
			TickRate   int               `json:"tickRate"`
			Peers      []ws.SessionInfo  `json:"peers"`
			Telemetry  map[string]uint64 `json:"telemetry"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			TickRate:   cfg.TickRate,
			Peers:      []ws.SessionInfo{},
			Telemetry:  map[string]uint64{},
		}
		if cfg.Loop != nil {
			payload.Seq = cfg.Loop.Seq()
			payload.Pending = cfg.Loop.Pending()
		}
		if peers != nil {
			payload.Peers = peers.Peers().Snapshot()
		}
		if cfg.Counters != nil {
			payload.Telemetry = cfg.Counters.Snapshot()
		}

		data, err := json.Marshal(payload)
		if err != nil {
			logger.Printf("failed to encode diagnostics: %v", err)
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	if cfg.Observability.EnableMetrics && cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	if cfg.Observability.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	if peers != nil {
		mux.HandleFunc("/ws", peers.Handle)
	}

	return mux
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
