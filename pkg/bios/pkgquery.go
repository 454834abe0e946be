package bios

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bootupd/bootupd-go/pkg/model"
	"github.com/bootupd/bootupd-go/pkg/procrun"
)

// queryPackageForFile synthesizes ContentMetadata for path by asking the
// RPM database which package owns it and when that package was built,
// following the original NEVRA/buildtime query this engine was distilled
// from (rpm -q --queryformat '%{nevra},%{buildtime}' -f <path>). If rpm is
// unavailable or doesn't own the file, it falls back to the file's mtime
// and path as a best-effort version string rather than failing
// outright — this system doesn't require rpm-ostree to function.
func queryPackageForFile(sysroot, path string, info os.FileInfo) (*model.ContentMetadata, error) {
	ctx := context.Background()
	out, err := procrun.Run(ctx, "rpm", "--root", sysroot, "-q", "--queryformat", "%{nevra},%{buildtime}", "-f", path)
	if err == nil {
		if nevra, ts, ok := parseNEVRABuildtime(out); ok {
			digest := nevra
			return &model.ContentMetadata{
				ContentTimestamp: ts,
				Content: model.InstalledContent{
					Digest:    digest,
					Timestamp: ts,
				},
			}, nil
		}
	}

	ts := info.ModTime()
	return &model.ContentMetadata{
		ContentTimestamp: ts,
		Content: model.InstalledContent{
			Digest:    fmt.Sprintf("mtime:%s:%d", path, ts.Unix()),
			Timestamp: ts,
		},
	}, nil
}

func parseNEVRABuildtime(out string) (nevra string, ts time.Time, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(out), ",", 2)
	if len(parts) != 2 {
		return "", time.Time{}, false
	}
	secs, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return parts[0], time.Unix(secs, 0).UTC(), true
}
