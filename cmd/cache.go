package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capwatch/capwatch/internal/state"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or reset the known-good path cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached document paths, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := state.Open(cfg.State.Path, cfg.State.PathCap)
		if err != nil {
			return err
		}
		defer store.Close()

		paths, err := store.Paths(cmd.Context())
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			fmt.Println("cache is empty")
			return nil
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop all cached document paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := state.Open(cfg.State.Path, cfg.State.PathCap)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.ClearPaths(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("cache cleared")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
