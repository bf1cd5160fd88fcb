package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/streampipe/s3fileout/output"
)

func newRootCmd() *cobra.Command {
	var configPath string
	var taskCount int
	var verbose bool

	cmd := &cobra.Command{
		Use:   "s3fileout",
		Short: "Buffer newline-delimited records from stdin into chunk files and upload them to S3",
		Long: `s3fileout reads newline-delimited records from stdin, stages them in
local chunk files and uploads each completed chunk to the configured S3
bucket. Chunk rotation follows the configured byte budget, split evenly
across the requested task count.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, taskCount, verbose)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML sink configuration")
	cmd.Flags().IntVarP(&taskCount, "tasks", "t", 1, "number of output tasks the chunk budget is split across")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func run(ctx context.Context, configPath string, taskCount int, verbose bool) error {
	logger := log.NewLogger()
	logger.EnableDebugLog(verbose)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	plugin := output.NewPlugin(env.NewRepository(), logger, pathutil.NewPathProvider())

	_, err = plugin.Transaction(ctx, cfg, taskCount, func(taskConfig output.TaskConfig, taskIndex int) (output.Report, error) {
		if taskIndex != 0 {
			// stdin is a single stream, so only task 0 carries records;
			// the other tasks exist to reserve their budget share.
			return output.Report{}, nil
		}
		return feedStdin(ctx, plugin, taskConfig, taskIndex)
	})
	return err
}

func feedStdin(ctx context.Context, plugin *output.Plugin, taskConfig output.TaskConfig, taskIndex int) (output.Report, error) {
	writer, err := plugin.Open(ctx, taskConfig, taskIndex)
	if err != nil {
		return output.Report{}, err
	}
	defer writer.Close() //nolint:errcheck

	if err := writer.NextFile(); err != nil {
		return output.Report{}, err
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		record := append(scanner.Bytes(), '\n')
		if err := writer.Add(record); err != nil {
			_ = writer.Abort()
			return output.Report{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		_ = writer.Abort()
		return output.Report{}, fmt.Errorf("read records from stdin: %w", err)
	}

	if err := writer.Finish(); err != nil {
		_ = writer.Abort()
		return output.Report{}, err
	}
	return writer.Commit(), nil
}

func loadConfig(path string) (output.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return output.Config{}, fmt.Errorf("read config file: %w", err)
	}

	var cfg output.Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return output.Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}
