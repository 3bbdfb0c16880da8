package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/hh-autofill/internal/fields"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a batch of form fields read from a file or stdin",
	Run: func(cmd *cobra.Command, _ []string) {
		classify(cmd)
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	classifyCmd.Flags().StringP("input", "i", "-", "file with a classifyFields request, - for stdin")
	classifyCmd.Flags().BoolP("pretty", "p", false, "indent the json output")
}

func classify(cmd *cobra.Command) {
	ctx := context.Background()
	logger, cfg := setup()

	input, _ := cmd.Flags().GetString("input")
	data, err := readInput(cmd, input)
	if err != nil {
		logger.Fatal("reading classification request", zap.String("input", input), zap.Error(err))
	}

	batch, err := fields.ParseBatch(data)
	if err != nil {
		logger.Fatal("parsing classification request", zap.Error(err))
	}

	c, closeStore, err := newCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("creating classification cache", zap.Error(err))
	}
	defer closeStore()

	engine, err := newEngine(ctx, cfg, c, logger)
	if err != nil {
		logger.Fatal("creating mapping engine", zap.Error(err))
	}

	logger.Info("starting the classification", zap.String("version", version), zap.Int("fields", len(batch.Fields)))

	results, err := engine.Map(ctx, batch)
	if err != nil {
		logger.Fatal("classifying fields", zap.Error(err))
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	if pretty, _ := cmd.Flags().GetBool("pretty"); pretty {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(map[string]any{"results": results}); err != nil {
		logger.Fatal("writing results", zap.Error(err))
	}
}

func readInput(cmd *cobra.Command, input string) ([]byte, error) {
	if input == "" || input == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(input)
}
