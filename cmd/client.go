package cmd

import (
	"fmt"

	"github.com/bootupd/bootupd-go/pkg/ipc"
)

// connectDaemon ensures the current process is running under systemd
// supervision (re-executing itself via systemd-run if not), then opens an
// authenticated connection to bootupd.
func connectDaemon() (*ipc.Client, error) {
	if err := ipc.EnsureSupervised(); err != nil {
		return nil, fmt.Errorf("ensuring supervised execution: %w", err)
	}
	client, err := ipc.Connect()
	if err != nil {
		return nil, fmt.Errorf("connecting to bootupd: %w", err)
	}
	return client, nil
}
