package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the classification cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached classification",
	Run: func(cmd *cobra.Command, _ []string) {
		clearCache(cmd)
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired cached classifications",
	Run: func(cmd *cobra.Command, _ []string) {
		pruneCache(cmd)
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd, cachePruneCmd)

	cacheClearCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
}

func clearCache(cmd *cobra.Command) {
	ctx := context.Background()
	logger, cfg := setup()

	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		prompt := promptui.Select{
			Label: fmt.Sprintf("Clear the %s cache?", cfg.Cache.Backend),
			Items: []string{PromptYes, PromptNo},
		}
		_, answer, err := prompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}
		if answer != PromptYes {
			logger.Info("exiting", zap.String("reason", "got no from prompt"))
			return
		}
	}

	c, closeStore, err := newCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("creating classification cache", zap.Error(err))
	}
	defer closeStore()

	if err := c.Clear(ctx); err != nil {
		logger.Fatal("clearing cache", zap.Error(err))
	}

	logger.Info("cache cleared", zap.String("cache_backend", cfg.Cache.Backend), zap.String("key", cfg.Cache.Key))
}

func pruneCache(_ *cobra.Command) {
	ctx := context.Background()
	logger, cfg := setup()

	c, closeStore, err := newCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("creating classification cache", zap.Error(err))
	}
	defer closeStore()

	removed, err := c.Prune(ctx, time.Now())
	if err != nil {
		logger.Fatal("pruning cache", zap.Error(err))
	}

	logger.Info("cache pruned", zap.Int("removed", removed), zap.Int("left", c.Len()))
}
