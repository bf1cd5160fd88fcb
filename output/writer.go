package output

import (
	"context"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"

	"github.com/streampipe/s3fileout/internal"
	"github.com/streampipe/s3fileout/output/keyname"
	"github.com/streampipe/s3fileout/output/network"
)

// Report is the per-task completion marker returned by Commit. The
// contract carries no payload; durability is implied by a successful
// Finish.
type Report struct{}

// S3FileOutput buffers one task's output records into local chunk files
// and uploads each completed chunk to the object store. One instance
// per task; the pipeline invokes its methods sequentially and never
// shares an instance across goroutines.
//
// Uploads happen in strictly increasing file-index order. The key of a
// chunk is derived only at upload time, from the task index and the
// count of chunks this task has successfully uploaded so far.
type S3FileOutput struct {
	taskIndex int
	fileIndex int

	formatter keyname.Formatter
	uploader  network.Uploader
	osp       internal.OsProxy
	logger    log.Logger

	// ctx scopes every upload of this task; cancellation is delegated
	// to the upload transport, cleanup still runs on the close path.
	ctx context.Context

	tempDir    string
	tempPrefix string
	chunkLimit int64
	compress   bool

	current *chunk
	closed  bool
}

func newS3FileOutput(
	ctx context.Context,
	taskConfig TaskConfig,
	taskIndex int,
	uploader network.Uploader,
	pathProvider pathutil.PathProvider,
	osp internal.OsProxy,
	logger log.Logger,
) (*S3FileOutput, error) {
	tempDir, err := pathProvider.CreateTempDir(taskConfig.TempPathPrefix)
	if err != nil {
		return nil, &IOError{Msg: "create staging directory", Err: err}
	}

	return &S3FileOutput{
		taskIndex:  taskIndex,
		formatter:  taskConfig.formatter(),
		uploader:   uploader,
		osp:        osp,
		logger:     logger,
		ctx:        ctx,
		tempDir:    tempDir,
		tempPrefix: taskConfig.TempPathPrefix,
		chunkLimit: taskConfig.ChunkLimit,
		compress:   taskConfig.Compression == CompressionZstd,
	}, nil
}

// NextFile closes and uploads the currently open chunk, then opens a
// fresh one. The first call opens the task's first chunk; calling it
// repeatedly is always safe.
func (o *S3FileOutput) NextFile() error {
	if o.closed {
		return &StateError{Msg: "writer is closed"}
	}
	if err := o.closeCurrent(); err != nil {
		return err
	}

	c, err := openChunk(o.osp, o.tempDir, o.tempPrefix, o.compress)
	if err != nil {
		return &IOError{Msg: "open chunk", Err: err}
	}
	o.logger.Debugf("Task %d staging chunk %d in %s", o.taskIndex, o.fileIndex, c.path)
	o.current = c
	return nil
}

// Add appends one record buffer to the open chunk. The buffer is
// considered consumed whether or not the write succeeds. When a chunk
// limit is configured and the chunk has grown past it, the chunk is
// rotated out so the next Add starts on a fresh one.
func (o *S3FileOutput) Add(p []byte) error {
	if o.current == nil {
		return &StateError{Msg: "NextFile must be called before Add"}
	}

	if _, err := o.current.Write(p); err != nil {
		return &IOError{Msg: "write chunk", Err: err}
	}
	if o.chunkLimit > 0 && o.current.Size() > o.chunkLimit {
		return o.NextFile()
	}
	return nil
}

// Finish uploads the final chunk, even a partial one under the size
// limit, and leaves the writer closed. This is the normal
// successful-completion path.
func (o *S3FileOutput) Finish() error {
	if err := o.closeCurrent(); err != nil {
		return err
	}
	o.closed = true
	return nil
}

// Close is invoked by the pipeline on success and failure alike, after
// Finish has already run on the success path, so it must tolerate the
// double invocation without re-uploading or erroring.
func (o *S3FileOutput) Close() error {
	if err := o.closeCurrent(); err != nil {
		return err
	}
	o.closed = true
	return nil
}

// Abort drops the pending chunk without uploading it, for tasks that
// failed and must not push partial output. Chunks already uploaded stay
// in the bucket; a resumed attempt overwrites them under the same keys.
func (o *S3FileOutput) Abort() error {
	if o.current == nil {
		return nil
	}
	c := o.current
	o.current = nil
	if err := c.discard(); err != nil {
		return &IOError{Msg: "discard chunk", Err: err}
	}
	return nil
}

// Commit reports this task's output as durably stored. Only meaningful
// after a successful Finish.
func (o *S3FileOutput) Commit() Report {
	return Report{}
}

// closeCurrent uploads the open chunk under the key derived from
// (taskIndex, fileIndex) and deletes the staging file. The file index
// moves forward only after a successful upload, so a resumed task
// re-derives the same key for an unconfirmed chunk. Cleanup always
// runs, and an upload failure takes precedence over a cleanup failure.
func (o *S3FileOutput) closeCurrent() error {
	if o.current == nil {
		return nil
	}
	c := o.current
	o.current = nil

	closeErr := c.closeKeep()

	var uploadErr error
	if closeErr == nil {
		key := o.formatter.ObjectKey(o.taskIndex, o.fileIndex)
		uploadErr = o.uploader.Upload(o.ctx, c.path, key)
		if uploadErr == nil {
			o.fileIndex++
		}
	}

	removeErr := c.remove()

	if closeErr != nil {
		return &IOError{Msg: "finalize chunk", Err: closeErr}
	}
	if uploadErr != nil {
		return &UploadError{Err: uploadErr}
	}
	if removeErr != nil {
		return &IOError{Msg: "clean up chunk", Err: removeErr}
	}
	return nil
}
