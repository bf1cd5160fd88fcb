package output

import (
	"context"
	"fmt"
	"os"

	"github.com/streampipe/s3fileout/internal"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	value, ok := repo.envVars[key]
	if ok {
		return value
	}
	return ""
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	repo.envVars[key] = ""
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

type fakeUpload struct {
	key     string
	content []byte
}

// fakeUploader snapshots the staged file content at upload time, since
// the writer deletes the file right after a successful upload.
type fakeUploader struct {
	uploads []fakeUpload
	err     error
}

func (u *fakeUploader) Upload(ctx context.Context, localPath string, key string) error {
	if u.err != nil {
		return u.err
	}
	content, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read staged file: %w", err)
	}
	u.uploads = append(u.uploads, fakeUpload{key: key, content: append([]byte(nil), content...)})
	return nil
}

// fakePathProvider keeps staging directories under the test's temp
// root instead of the shared OS temp directory.
type fakePathProvider struct {
	root string
}

func (p fakePathProvider) CreateTempDir(prefix string) (string, error) {
	return os.MkdirTemp(p.root, prefix)
}

type failingOS struct {
	createTempErr error
	removeErr     error
}

func (f failingOS) CreateTemp(dir, pattern string) (*os.File, error) {
	if f.createTempErr != nil {
		return nil, f.createTempErr
	}
	return internal.RealOS{}.CreateTemp(dir, pattern)
}

func (f failingOS) Remove(name string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	return internal.RealOS{}.Remove(name)
}
