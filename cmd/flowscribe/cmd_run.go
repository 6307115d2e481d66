package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mvonrenteln/FlowScribe-sub000/internal/llm"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/logging"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/usage"
)

var (
	runFeaturesPath string
	runReplayPath   string
	runVars         []string
	runUsagePath    string
)

var runCmd = &cobra.Command{
	Use:   "run <feature-id>",
	Short: "Execute a registered feature against a replayed backend",
	Long: `Run executes one feature from a YAML feature file against a scripted
backend: each line of the replay file is one backend response, consumed in
order across retries. This exercises the full retry and lenient-fallback
path without network access.

Template variables are bound with repeated --var key=value flags.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadFeatures(runFeaturesPath)
		if err != nil {
			return err
		}
		client, err := loadReplay(runReplayPath)
		if err != nil {
			return err
		}
		vars, err := parseVars(runVars)
		if err != nil {
			return err
		}

		ex := llm.NewExecutor(client, reg, logging.Get(logging.CategoryLLM))
		tracker := usage.NewTracker()
		if runUsagePath != "" {
			if tracker, err = usage.NewPersistentTracker(runUsagePath); err != nil {
				return err
			}
		}
		ex.SetUsageTracker(tracker)

		res, execErr := ex.ExecuteFeature(cmd.Context(), args[0], vars, llm.CallOptions{
			MaxRetries:     llm.Int(cfg.Retry.MaxRetries),
			AttemptTimeout: cfg.Retry.AttemptTimeout,
		})
		if err := tracker.Flush(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if execErr != nil {
			fmt.Fprintf(out, "feature %s failed after %d retries: %v\n", res.FeatureID, res.RetryAttempts, execErr)
			return execErr
		}
		data, err := json.MarshalIndent(res.Outcome, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		fmt.Fprintf(out, "call %s: %d retries, %.2fs", res.CallID, res.RetryAttempts, res.Duration.Seconds())
		if res.Usage != nil {
			fmt.Fprintf(out, ", %d tokens", res.Usage.TotalTokens)
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runFeaturesPath, "features", "features.yaml", "YAML file defining features")
	runCmd.Flags().StringVar(&runReplayPath, "replay", "", "file with one scripted backend response per line (required)")
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "template variable binding, key=value (repeatable)")
	runCmd.Flags().StringVar(&runUsagePath, "usage-file", "", "persist token usage to this JSON file")
	_ = runCmd.MarkFlagRequired("replay")
	rootCmd.AddCommand(runCmd)
}

type featureFile struct {
	Features []*llm.Feature `yaml:"features"`
}

func loadFeatures(path string) (*llm.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read features: %w", err)
	}
	var file featureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse features %s: %w", path, err)
	}
	reg := llm.NewRegistry()
	for _, f := range file.Features {
		if err := reg.Register(f); err != nil {
			return nil, fmt.Errorf("features %s: %w", path, err)
		}
	}
	return reg, nil
}

func loadReplay(path string) (*llm.ReplayClient, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, fmt.Errorf("read replay script: %w", err)
	}
	steps := make([]llm.ReplayStep, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		steps = append(steps, llm.ReplayStep{Content: line})
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("replay script %s has no responses", path)
	}
	return llm.NewReplayClient(steps...), nil
}

func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q, want key=value", pair)
		}
		vars[key] = value
	}
	return vars, nil
}
