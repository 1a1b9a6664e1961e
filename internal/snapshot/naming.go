package snapshot

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/user/attackdiff/internal/model"
)

const fileExt = ".json"

// FileName derives the on-disk name of a snapshot taken at ts. Colons are
// replaced because several filesystems reject them.
func FileName(ts time.Time) string {
	return strings.ReplaceAll(model.FormatTime(ts), ":", "-") + fileExt
}

// TimeFromFileName recovers the capture time encoded in a snapshot file
// name. It is used when the file itself cannot be parsed.
func TimeFromFileName(name string) (time.Time, bool) {
	base := strings.TrimSuffix(filepath.Base(name), fileExt)
	date, clock, ok := strings.Cut(base, "T")
	if !ok {
		return time.Time{}, false
	}
	clock = strings.Replace(clock, "-", ":", 2)
	// legacy names carry a "+00-00" offset instead of "Z"
	if i := strings.LastIndex(clock, "+"); i > 0 {
		clock = clock[:i] + strings.Replace(clock[i:], "-", ":", 1)
	}
	ts, err := model.ParseTime(date + "T" + clock)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func isSnapshotFile(name string) bool {
	return strings.HasSuffix(name, fileExt) && !strings.HasPrefix(name, ".")
}
