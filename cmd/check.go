package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"

	"github.com/capwatch/capwatch/internal/pipeline"
)

var (
	checkLat float64
	checkLon float64
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one pass and print the alerts affecting a coordinate",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Runner.Run(cmd.Context(), geom.Coord{checkLon, checkLat})
		if err != nil {
			return err
		}

		return printResult(result)
	},
}

func printResult(result *pipeline.Result) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func init() {
	checkCmd.Flags().Float64Var(&checkLat, "lat", 0, "latitude of the location to check")
	checkCmd.Flags().Float64Var(&checkLon, "lon", 0, "longitude of the location to check")
	checkCmd.MarkFlagRequired("lat") //nolint:errcheck
	checkCmd.MarkFlagRequired("lon") //nolint:errcheck
	rootCmd.AddCommand(checkCmd)
}
