package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blecollector/internal/collector"
	"github.com/srg/blecollector/internal/config"
	"github.com/srg/blecollector/internal/provider/goble"
)

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	adapterIDs, _ := cmd.Flags().GetStringSlice("adapter")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	prov := goble.NewProvider(adapterIDs, logger)

	root, err := collector.New(ctx, cfg, prov, logger)
	if err != nil {
		return fmt.Errorf("starting collector: %w", err)
	}

	mux := http.NewServeMux()
	registerHTTPHandlers(mux, root, logger)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("blecollectord: serving HTTP query API")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("blecollectord: http server stopped")
		}
	}()
	go func() {
		logger.WithField("addr", cfg.MetricsAddr).Info("blecollectord: serving prometheus scrape endpoint")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("blecollectord: metrics server stopped")
		}
	}()

	root.Run(ctx)

	_ = httpServer.Close()
	_ = metricsServer.Close()
	return nil
}

// registerHTTPHandlers wires the thin JSON passthrough surface named in
// §6: the HTTP layer is an external collaborator translating requests
// into Root method calls, never holding collection logic itself.
func registerHTTPHandlers(mux *http.ServeMux, root *collector.Root, logger *logrus.Logger) {
	mux.HandleFunc("/ble/adapters", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, root.ListAdapters())
	})

	mux.HandleFunc("/ble/adapters/describe", func(w http.ResponseWriter, r *http.Request) {
		adapterID := r.URL.Query().Get("adapter")
		out, err := root.Describe(adapterID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, logger, out)
	})

	mux.HandleFunc("/ble/data", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, root.SnapshotSamples())
	})

	mux.HandleFunc("/ble/adapters/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/rw") {
			http.NotFound(w, r)
			return
		}
		handleRW(w, r, root)
	})
}

type rwItem struct {
	Peripheral string `json:"peripheral"`
	Service    string `json:"service"`
	Char       string `json:"char"`
	Write      bool   `json:"write"`
	DataHex    string `json:"data_hex,omitempty"`
}

type rwResult struct {
	Peripheral string `json:"peripheral"`
	Service    string `json:"service"`
	Char       string `json:"char"`
	OK         bool   `json:"ok"`
	DataHex    string `json:"data_hex,omitempty"`
	Error      string `json:"error,omitempty"`
}

// handleRW services POST /ble/adapters/{adapter}/rw: a batch of reads
// and writes against one adapter's peripherals, each reported with its
// own per-item status rather than failing the whole batch (§6).
func handleRW(w http.ResponseWriter, r *http.Request, root *collector.Root) {
	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(segments) < 3 {
		http.Error(w, "malformed rw path", http.StatusBadRequest)
		return
	}
	adapterID := segments[2]

	var items []rwItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		http.Error(w, "malformed rw request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	results := make([]rwResult, 0, len(items))
	for _, item := range items {
		res := rwResult{Peripheral: item.Peripheral, Service: item.Service, Char: item.Char}
		if item.Write {
			data, err := hex.DecodeString(item.DataHex)
			if err != nil {
				res.Error = "invalid data_hex: " + err.Error()
				results = append(results, res)
				continue
			}
			if err := root.Write(r.Context(), adapterID, item.Peripheral, item.Service, item.Char, data); err != nil {
				res.Error = err.Error()
			} else {
				res.OK = true
			}
		} else {
			data, err := root.Read(r.Context(), adapterID, item.Peripheral, item.Service, item.Char)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.OK = true
				res.DataHex = hex.EncodeToString(data)
			}
		}
		results = append(results, res)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(results)
}

func writeJSON(w http.ResponseWriter, logger *logrus.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Warn("blecollectord: encoding http response")
	}
}
