// Package procrun funnels every external tool invocation through one
// helper: it captures stdout/stderr, logs the command line at debug
// verbosity, and surfaces a nonzero exit as bootuperrors.ErrExternalToolFailure
// carrying the captured stderr.
package procrun

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/bootupd/bootupd-go/pkg/bootuperrors"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Run executes name with args and returns trimmed stdout. Nonzero exit is
// reported as bootuperrors.ErrExternalToolFailure wrapping the captured
// stderr.
func Run(ctx context.Context, name string, args ...string) (string, error) {
	logrus.WithField("cmd", fmt.Sprintf("%s %s", name, strings.Join(args, " "))).Debug("running external tool")

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s: %s", bootuperrors.ErrExternalToolFailure, name, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// RunWithRetry runs the same command with a short bounded exponential
// backoff, for tools known to race transient device state right after a
// partition table change (grub-install against a freshly-partitioned
// disk before udev has settled).
func RunWithRetry(ctx context.Context, maxElapsed time.Duration, name string, args ...string) (string, error) {
	var out string
	op := func() error {
		var err error
		out, err = Run(ctx, name, args...)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = maxElapsed
	bctx := backoff.WithContext(b, ctx)

	if err := backoff.Retry(op, bctx); err != nil {
		return "", err
	}
	return out, nil
}
