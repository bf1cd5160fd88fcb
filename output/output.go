package output

import (
	"context"
	"fmt"
	"os"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"

	"github.com/streampipe/s3fileout/internal"
	"github.com/streampipe/s3fileout/output/network"
)

// RunTask executes the output work of one task using the saved task
// configuration and reports the task's completion. The hosting pipeline
// may dispatch the call to a worker of its own; the sink only requires
// that a single writer is never used from two goroutines.
type RunTask func(taskConfig TaskConfig, taskIndex int) (Report, error)

// Diff is the opaque completion marker the transaction handshake
// returns to the hosting pipeline.
type Diff struct{}

// uploaderFactory builds the per-task uploader. Swapped in tests to
// avoid constructing a real S3 client.
type uploaderFactory func(ctx context.Context, params network.ClientParams, envRepo env.Repository, logger log.Logger) (network.Uploader, error)

// Plugin drives the transaction/resume protocol of the S3 file output
// sink.
type Plugin struct {
	envRepo      env.Repository
	logger       log.Logger
	pathProvider pathutil.PathProvider
	osp          internal.OsProxy
	tempRoot     string
	newUploader  uploaderFactory
}

// NewPlugin ...
func NewPlugin(envRepo env.Repository, logger log.Logger, pathProvider pathutil.PathProvider) *Plugin {
	return &Plugin{
		envRepo:      envRepo,
		logger:       logger,
		pathProvider: pathProvider,
		osp:          internal.RealOS{},
		tempRoot:     os.TempDir(),
		newUploader: func(ctx context.Context, params network.ClientParams, envRepo env.Repository, logger log.Logger) (network.Uploader, error) {
			return network.NewS3Uploader(ctx, params, envRepo, logger)
		},
	}
}

// Transaction validates the configuration, splits the global chunk byte
// budget evenly across tasks and runs the resume protocol. Every
// configuration problem surfaces here, before any task moves data.
func (p *Plugin) Transaction(ctx context.Context, cfg Config, taskCount int, run RunTask) (Diff, error) {
	if taskCount <= 0 {
		return Diff{}, &ConfigError{Msg: fmt.Sprintf("task count must be positive, got %d", taskCount)}
	}

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return Diff{}, err
	}

	sweepStaleTempDirs(p.tempRoot, cfg.TempPathPrefix, p.logger)

	taskConfig := TaskConfig{
		Config:     cfg,
		ChunkLimit: cfg.FileBufferChunkLimit / int64(taskCount),
	}
	return p.Resume(ctx, taskConfig, taskCount, run)
}

// Resume runs the task callback for every task index in [0, taskCount).
// The pipeline invokes it directly after a partial failure, with the
// task configuration saved from the original attempt; keys re-derive
// identically, so re-uploading an unconfirmed chunk overwrites the same
// object.
func (p *Plugin) Resume(ctx context.Context, taskConfig TaskConfig, taskCount int, run RunTask) (Diff, error) {
	reports := make([]Report, 0, taskCount)
	for taskIndex := 0; taskIndex < taskCount; taskIndex++ {
		report, err := run(taskConfig, taskIndex)
		if err != nil {
			return Diff{}, fmt.Errorf("output task %d: %w", taskIndex, err)
		}
		reports = append(reports, report)
	}

	p.Cleanup(taskConfig, taskCount, reports)
	return Diff{}, nil
}

// Cleanup is the post-commit bookkeeping hook. The sink keeps no
// cross-task state, so there is nothing to release.
func (p *Plugin) Cleanup(taskConfig TaskConfig, taskCount int, reports []Report) {
}

// Open builds the writer for one task. The S3 client is constructed and
// its bucket access verified here, so credential problems fail the task
// before it stages any data.
func (p *Plugin) Open(ctx context.Context, taskConfig TaskConfig, taskIndex int) (*S3FileOutput, error) {
	uploader, err := p.newUploader(ctx, network.ClientParams{
		Bucket:          taskConfig.Bucket,
		Endpoint:        taskConfig.Endpoint,
		Region:          taskConfig.Region,
		AccessKeyID:     taskConfig.AccessKeyID,
		SecretAccessKey: taskConfig.SecretAccessKey,
	}, p.envRepo, p.logger)
	if err != nil {
		return nil, &AuthError{Err: err}
	}

	return newS3FileOutput(ctx, taskConfig, taskIndex, uploader, p.pathProvider, p.osp, p.logger)
}
