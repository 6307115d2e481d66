package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mvonrenteln/FlowScribe-sub000/internal/extract"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/interpret"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/logging"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/sched"
)

var (
	batchSchemaPath  string
	batchConcurrency int
	batchRecover     bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Parse many raw responses concurrently, preserving input order",
	Long: `Batch reads one raw model response per line from the given file and
parses them with bounded concurrency. Results are printed strictly in input
order; blank lines are skipped. When every leading item fails and nothing
has succeeded yet, the circuit breaker stops the run and the remaining
items are reported as not attempted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, err := readLines(args[0])
		if err != nil {
			return err
		}
		opts := interpret.Options{
			JSON:           extract.Options{Lenient: cfg.Parsing.Lenient, MaxDepth: cfg.Parsing.MaxDepth},
			ApplyDefaults:  cfg.Parsing.ApplyDefaults,
			StrictTypes:    cfg.Parsing.StrictTypes,
			RecoverPartial: batchRecover,
			Logger:         logging.Get(logging.CategoryBatch),
		}
		if batchSchemaPath != "" {
			node, err := loadSchemaFile(batchSchemaPath)
			if err != nil {
				return err
			}
			opts.Schema = node
		}
		conc := batchConcurrency
		if conc == 0 {
			conc = cfg.Batch.Concurrency
		}

		prepare := func(index int, line string) (sched.Task[*interpret.ParseOutcome], bool, error) {
			if strings.TrimSpace(line) == "" {
				return nil, true, nil
			}
			return func(ctx context.Context) (*interpret.ParseOutcome, error) {
				outcome := interpret.ParseResponse(line, opts)
				if !outcome.Success {
					return outcome, outcome.Err
				}
				return outcome, nil
			}, false, nil
		}

		out := cmd.OutOrStdout()
		onItem := func(r sched.ItemResult[*interpret.ParseOutcome]) {
			switch r.Status {
			case sched.StatusSucceeded:
				data, _ := json.Marshal(r.Value.Data)
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", r.Index, r.Status, r.Value.Metadata.ParseStatus, data)
			case sched.StatusFailed:
				fmt.Fprintf(out, "%d\t%s\t%v\n", r.Index, r.Status, r.Err)
			default:
				fmt.Fprintf(out, "%d\t%s\n", r.Index, r.Status)
			}
		}

		_, report, err := sched.RunBatch(cmd.Context(), lines, prepare, sched.BatchOptions[*interpret.ParseOutcome]{
			Concurrency:      conc,
			YieldEvery:       cfg.Batch.YieldEvery,
			BreakerThreshold: cfg.Batch.BreakerThreshold,
			OnItem:           onItem,
			Logger:           logging.Get(logging.CategoryBatch),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "run %s: %d total, %d succeeded, %d failed, %d skipped, %d not attempted (%.2fs)\n",
			report.RunID, report.Total, report.Succeeded, report.Failed, report.Skipped,
			report.NotAttempted, report.Duration.Seconds())
		if report.Aborted {
			return fmt.Errorf("run aborted by circuit breaker")
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d item(s) failed", report.Failed)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchSchemaPath, "schema", "", "YAML schema file to validate against")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "max items in flight (0 = config default)")
	batchCmd.Flags().BoolVar(&batchRecover, "recover", false, "recover complete elements from truncated output")
	rootCmd.AddCommand(batchCmd)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
