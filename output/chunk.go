package output

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/streampipe/s3fileout/internal"
)

// chunk is the local staging file of the chunk currently being written.
// A writer has at most one chunk open at any time. The backing file
// outlives the write handle on purpose: the handle is released first,
// the file is uploaded, and deletion is a separate explicit step.
type chunk struct {
	osp  internal.OsProxy
	path string
	file *os.File
	w    io.Writer
	enc  *zstd.Encoder

	// written counts record bytes accepted so far. The rotation limit
	// applies to record bytes, not the on-disk encoding.
	written int64
}

func openChunk(osp internal.OsProxy, dir, prefix string, compress bool) (*chunk, error) {
	file, err := osp.CreateTemp(dir, prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	c := &chunk{
		osp:  osp,
		path: file.Name(),
		file: file,
		w:    file,
	}
	if compress {
		enc, err := zstd.NewWriter(file)
		if err != nil {
			_ = file.Close()
			_ = osp.Remove(c.path)
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		c.enc = enc
		c.w = enc
	}
	return c, nil
}

func (c *chunk) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("write temp file: %w", err)
	}
	return n, nil
}

// Size reports the record bytes accepted so far.
func (c *chunk) Size() int64 {
	return c.written
}

// closeKeep flushes and releases the write handle but keeps the backing
// file on disk so it can be uploaded.
func (c *chunk) closeKeep() error {
	var firstErr error
	if c.enc != nil {
		firstErr = c.enc.Close()
		c.enc = nil
	}
	if err := c.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return fmt.Errorf("close temp file: %w", firstErr)
	}
	return nil
}

// remove deletes the backing file from disk.
func (c *chunk) remove() error {
	if err := c.osp.Remove(c.path); err != nil {
		return fmt.Errorf("delete temp file %s: %w", c.path, err)
	}
	return nil
}

// discard releases the handle and deletes the file without uploading.
func (c *chunk) discard() error {
	closeErr := c.closeKeep()
	if err := c.remove(); err != nil && closeErr == nil {
		return err
	}
	return closeErr
}
