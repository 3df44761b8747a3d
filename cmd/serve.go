package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve alert lookups over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		mux := http.NewServeMux()

		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})

		mux.Handle("GET /metrics", promhttp.Handler())

		mux.HandleFunc("GET /alerts", func(w http.ResponseWriter, r *http.Request) {
			lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
			lon, err2 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
			if err1 != nil || err2 != nil {
				http.Error(w, `{"error":"lat and lon query parameters are required"}`, http.StatusBadRequest)
				return
			}
			if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
				http.Error(w, `{"error":"lat/lon out of range"}`, http.StatusBadRequest)
				return
			}

			result, err := env.Runner.Run(r.Context(), geom.Coord{lon, lat})
			if err != nil {
				zap.L().Error("alert lookup failed",
					zap.Float64("lat", lat),
					zap.Float64("lon", lon),
					zap.Error(err),
				)
				http.Error(w, `{"error":"lookup failed"}`, http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(result)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
