package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

var (
	watchLat      float64
	watchLon      float64
	watchInterval int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-check a coordinate on an interval and log newly issued alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		interval := time.Duration(watchInterval) * time.Second
		if watchInterval == 0 {
			interval = time.Duration(cfg.Watch.IntervalSecs) * time.Second
		}
		p := geom.Coord{watchLon, watchLat}

		zap.L().Info("watch started",
			zap.Float64("lat", watchLat),
			zap.Float64("lon", watchLon),
			zap.Duration("interval", interval),
		)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			result, err := env.Runner.Run(ctx, p)
			switch {
			case ctx.Err() != nil:
				zap.L().Info("watch stopped")
				return nil
			case err != nil:
				zap.L().Error("watch run failed", zap.Error(err))
			default:
				for _, id := range result.NewIDs {
					for _, alert := range result.Alerts {
						if alert.ID != id {
							continue
						}
						zap.L().Info("new alert",
							zap.String("id", alert.ID),
							zap.String("title", alert.Title),
							zap.String("severity", alert.Severity),
							zap.Strings("areas", alert.AreaNames),
						)
					}
				}
			}

			select {
			case <-ctx.Done():
				zap.L().Info("watch stopped")
				return nil
			case <-ticker.C:
			}
		}
	},
}

func init() {
	watchCmd.Flags().Float64Var(&watchLat, "lat", 0, "latitude of the location to watch")
	watchCmd.Flags().Float64Var(&watchLon, "lon", 0, "longitude of the location to watch")
	watchCmd.Flags().IntVar(&watchInterval, "interval", 0, "seconds between checks (default from config)")
	watchCmd.MarkFlagRequired("lat") //nolint:errcheck
	watchCmd.MarkFlagRequired("lon") //nolint:errcheck
	rootCmd.AddCommand(watchCmd)
}
