package output

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streampipe/s3fileout/internal"
	"github.com/streampipe/s3fileout/output/network"
)

func testTaskConfig(chunkLimit int64) TaskConfig {
	cfg := Config{
		PathPrefix:     "logs/out",
		FileExt:        ".csv",
		Bucket:         "test-bucket",
		Endpoint:       "s3.example.com",
		TempPathPrefix: "s3fileout-test-",
	}.withDefaults()
	return TaskConfig{Config: cfg, ChunkLimit: chunkLimit}
}

func newTestWriter(t *testing.T, taskConfig TaskConfig, uploader network.Uploader, osp internal.OsProxy) *S3FileOutput {
	t.Helper()
	writer, err := newS3FileOutput(
		context.Background(),
		taskConfig,
		0,
		uploader,
		fakePathProvider{root: t.TempDir()},
		osp,
		log.NewLogger(),
	)
	require.NoError(t, err)
	return writer
}

func stagedFileCount(t *testing.T, dir string) int {
	t.Helper()
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	require.NoError(t, err)
	return count
}

func TestAddBeforeNextFile(t *testing.T) {
	uploader := &fakeUploader{}
	writer := newTestWriter(t, testTaskConfig(0), uploader, internal.RealOS{})

	err := writer.Add([]byte("row\n"))

	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Contains(t, stateErr.Error(), "NextFile must be called before Add")
	assert.Empty(t, uploader.uploads)
}

func TestSingleUploadContainsAllRecordsInOrder(t *testing.T) {
	uploader := &fakeUploader{}
	writer := newTestWriter(t, testTaskConfig(0), uploader, internal.RealOS{})

	require.NoError(t, writer.NextFile())
	for _, record := range []string{"one\n", "two\n", "three\n"} {
		require.NoError(t, writer.Add([]byte(record)))
	}
	assert.Empty(t, uploader.uploads, "no upload should happen before Finish with an unlimited chunk budget")
	require.NoError(t, writer.Finish())

	require.Len(t, uploader.uploads, 1)
	assert.Equal(t, "logs/out.000.00.csv", uploader.uploads[0].key)
	assert.Equal(t, "one\ntwo\nthree\n", string(uploader.uploads[0].content))
	assert.Equal(t, 0, stagedFileCount(t, writer.tempDir))
}

func TestZeroLimitNeverRotates(t *testing.T) {
	uploader := &fakeUploader{}
	writer := newTestWriter(t, testTaskConfig(0), uploader, internal.RealOS{})

	require.NoError(t, writer.NextFile())
	record := bytes.Repeat([]byte("x"), 1024)
	for i := 0; i < 100; i++ {
		require.NoError(t, writer.Add(record))
	}

	assert.Empty(t, uploader.uploads)
	require.NoError(t, writer.Finish())
	require.Len(t, uploader.uploads, 1)
	assert.Len(t, uploader.uploads[0].content, 100*1024)
}

func TestImplicitRotationAboveLimit(t *testing.T) {
	uploader := &fakeUploader{}
	writer := newTestWriter(t, testTaskConfig(10), uploader, internal.RealOS{})

	require.NoError(t, writer.NextFile())
	require.NoError(t, writer.Add([]byte("aaaaaa")))
	assert.Empty(t, uploader.uploads, "6 bytes are still under the 10 byte limit")

	// This write pushes the chunk to 12 bytes, strictly above the limit,
	// so the chunk rotates out and the next Add starts at size 0.
	require.NoError(t, writer.Add([]byte("bbbbbb")))
	require.Len(t, uploader.uploads, 1)
	assert.Equal(t, "logs/out.000.00.csv", uploader.uploads[0].key)
	assert.Equal(t, "aaaaaabbbbbb", string(uploader.uploads[0].content))
	require.NotNil(t, writer.current)
	assert.Equal(t, int64(0), writer.current.Size())

	require.NoError(t, writer.Add([]byte("cccccc")))
	require.NoError(t, writer.Finish())

	require.Len(t, uploader.uploads, 2)
	assert.Equal(t, "logs/out.000.01.csv", uploader.uploads[1].key)
	assert.Equal(t, "cccccc", string(uploader.uploads[1].content))
}

func TestFinishThenCloseUploadsOnce(t *testing.T) {
	uploader := &fakeUploader{}
	writer := newTestWriter(t, testTaskConfig(0), uploader, internal.RealOS{})

	require.NoError(t, writer.NextFile())
	require.NoError(t, writer.Add([]byte("row\n")))
	require.NoError(t, writer.Finish())
	require.NoError(t, writer.Close())

	assert.Len(t, uploader.uploads, 1)
	assert.Equal(t, 0, stagedFileCount(t, writer.tempDir))
}

func TestNextFileAfterFinishFails(t *testing.T) {
	uploader := &fakeUploader{}
	writer := newTestWriter(t, testTaskConfig(0), uploader, internal.RealOS{})

	require.NoError(t, writer.NextFile())
	require.NoError(t, writer.Finish())

	var stateErr *StateError
	require.ErrorAs(t, writer.NextFile(), &stateErr)
}

func TestAbortLeavesNoTempFileAndNoUpload(t *testing.T) {
	uploader := &fakeUploader{}
	writer := newTestWriter(t, testTaskConfig(0), uploader, internal.RealOS{})

	require.NoError(t, writer.NextFile())
	require.NoError(t, writer.Abort())

	assert.Empty(t, uploader.uploads)
	assert.Equal(t, 0, stagedFileCount(t, writer.tempDir))

	// Abort with nothing pending is a no-op, as is the unconditional
	// Close the pipeline issues afterwards.
	require.NoError(t, writer.Abort())
	require.NoError(t, writer.Close())
	assert.Empty(t, uploader.uploads)
}

func TestUploadFailureStillCleansUpTempFile(t *testing.T) {
	uploader := &fakeUploader{err: errors.New("connection reset")}
	writer := newTestWriter(t, testTaskConfig(0), uploader, internal.RealOS{})

	require.NoError(t, writer.NextFile())
	require.NoError(t, writer.Add([]byte("row\n")))

	err := writer.Finish()
	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, 0, stagedFileCount(t, writer.tempDir), "temp file must be deleted even when the upload fails")
}

func TestFileIndexAdvancesOnlyOnUploadSuccess(t *testing.T) {
	uploader := &fakeUploader{err: errors.New("service unavailable")}
	writer := newTestWriter(t, testTaskConfig(0), uploader, internal.RealOS{})

	require.NoError(t, writer.NextFile())
	require.NoError(t, writer.Add([]byte("attempt one\n")))
	require.Error(t, writer.Finish())

	// The retried attempt re-derives the same key, so the overwrite on
	// the object store keeps re-uploads safe.
	uploader.err = nil
	require.NoError(t, writer.NextFile())
	require.NoError(t, writer.Add([]byte("attempt two\n")))
	require.NoError(t, writer.Finish())

	require.Len(t, uploader.uploads, 1)
	assert.Equal(t, "logs/out.000.00.csv", uploader.uploads[0].key)
	assert.Equal(t, "attempt two\n", string(uploader.uploads[0].content))
}

func TestUploadErrorTakesPrecedenceOverCleanupError(t *testing.T) {
	uploader := &fakeUploader{err: errors.New("connection reset")}
	osp := failingOS{removeErr: errors.New("permission denied")}
	writer := newTestWriter(t, testTaskConfig(0), uploader, osp)

	require.NoError(t, writer.NextFile())
	require.NoError(t, writer.Add([]byte("row\n")))

	err := writer.Finish()
	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Contains(t, uploadErr.Error(), "connection reset")
}

func TestCleanupErrorSurfacesAfterSuccessfulUpload(t *testing.T) {
	uploader := &fakeUploader{}
	osp := failingOS{removeErr: errors.New("permission denied")}
	writer := newTestWriter(t, testTaskConfig(0), uploader, osp)

	require.NoError(t, writer.NextFile())
	require.NoError(t, writer.Add([]byte("row\n")))

	err := writer.Finish()
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Len(t, uploader.uploads, 1, "the upload itself succeeded")
}

func TestOpenChunkFailure(t *testing.T) {
	uploader := &fakeUploader{}
	osp := failingOS{createTempErr: errors.New("no space left on device")}
	writer := newTestWriter(t, testTaskConfig(0), uploader, osp)

	err := writer.NextFile()
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
}

func TestTaskIndexSelectsKeySequence(t *testing.T) {
	uploader := &fakeUploader{}
	writer, err := newS3FileOutput(
		context.Background(),
		testTaskConfig(0),
		2,
		uploader,
		fakePathProvider{root: t.TempDir()},
		internal.RealOS{},
		log.NewLogger(),
	)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		require.NoError(t, writer.NextFile())
		require.NoError(t, writer.Add([]byte("row\n")))
	}
	require.NoError(t, writer.Finish())

	require.Len(t, uploader.uploads, 6)
	assert.Equal(t, "logs/out.002.05.csv", uploader.uploads[5].key)
}

func TestZstdCompressedChunks(t *testing.T) {
	taskConfig := testTaskConfig(0)
	taskConfig.Compression = CompressionZstd
	uploader := &fakeUploader{}
	writer := newTestWriter(t, taskConfig, uploader, internal.RealOS{})

	payload := strings.Repeat("the same record over and over\n", 200)
	require.NoError(t, writer.NextFile())
	require.NoError(t, writer.Add([]byte(payload)))
	require.NoError(t, writer.Finish())

	require.Len(t, uploader.uploads, 1)
	assert.Less(t, len(uploader.uploads[0].content), len(payload))

	decoder, err := zstd.NewReader(bytes.NewReader(uploader.uploads[0].content))
	require.NoError(t, err)
	defer decoder.Close()
	decoded, err := io.ReadAll(decoder)
	require.NoError(t, err)
	assert.Equal(t, payload, string(decoded))
}
