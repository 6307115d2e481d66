package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mvonrenteln/FlowScribe-sub000/internal/extract"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/interpret"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/logging"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/schema"
)

var (
	parseSchemaPath string
	parseLenient    bool
	parseRecover    bool
	parseDefaults   bool
	parseStrict     bool
)

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Parse one raw model response into validated JSON",
	Long: `Parse reads a raw model response from a file (or stdin when no file is
given), extracts and validates the embedded JSON, and prints the full
outcome as JSON: data, metadata, and any warnings or recovery details.

The exit code is non-zero when no usable data could be produced.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(args)
		if err != nil {
			return err
		}

		opts := interpret.Options{
			JSON:           extract.Options{Lenient: parseLenient, MaxDepth: cfg.Parsing.MaxDepth},
			ApplyDefaults:  parseDefaults,
			StrictTypes:    parseStrict,
			RecoverPartial: parseRecover,
			Logger:         logging.Get(logging.CategoryCLI),
		}
		if parseSchemaPath != "" {
			node, err := loadSchemaFile(parseSchemaPath)
			if err != nil {
				return err
			}
			opts.Schema = node
		}

		outcome := interpret.ParseResponse(string(raw), opts)
		out, err := json.MarshalIndent(outcome, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		if !outcome.Success {
			return fmt.Errorf("no usable data: %s", outcome.Err.Message)
		}
		return nil
	},
}

func init() {
	parseCmd.Flags().StringVar(&parseSchemaPath, "schema", "", "YAML schema file to validate against")
	parseCmd.Flags().BoolVar(&parseLenient, "lenient", true, "attempt repairs on malformed JSON")
	parseCmd.Flags().BoolVar(&parseRecover, "recover", false, "recover complete elements from truncated output")
	parseCmd.Flags().BoolVar(&parseDefaults, "defaults", true, "inject schema defaults for missing optional fields")
	parseCmd.Flags().BoolVar(&parseStrict, "strict-types", false, "reject type mismatches instead of coercing")
	rootCmd.AddCommand(parseCmd)
}

func readInput(args []string) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		return os.ReadFile(args[0])
	}
	return io.ReadAll(os.Stdin)
}

func loadSchemaFile(path string) (*schema.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	var node schema.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}
	return &node, nil
}
