package output

import (
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bmatcuk/doublestar/v4"
)

// sweepStaleTempDirs removes staging directories left behind by earlier
// attempts that crashed before their cleanup ran. It runs once per
// transaction, before any task starts, and is best effort: the sink can
// produce correct output next to leftover garbage.
func sweepStaleTempDirs(tempRoot, prefix string, logger log.Logger) {
	if prefix == "" {
		return
	}

	matches, err := doublestar.Glob(os.DirFS(tempRoot), prefix+"*")
	if err != nil {
		logger.Warnf("Scan for stale temp paths failed: %s", err)
		return
	}
	for _, match := range matches {
		stale := filepath.Join(tempRoot, match)
		if err := os.RemoveAll(stale); err != nil {
			logger.Warnf("Failed to remove stale temp path %s: %s", stale, err)
			continue
		}
		logger.Debugf("Removed stale temp path %s", stale)
	}
}
