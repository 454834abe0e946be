// Command bootupd is the privileged daemon that owns /boot and applies
// staged firmware/bootloader updates on behalf of the bootupctl client,
// communicating over an authenticated Unix socket (see pkg/ipc).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bootupd/bootupd-go/pkg/bootuperrors"
	"github.com/bootupd/bootupd-go/pkg/ipc"
	"github.com/bootupd/bootupd-go/pkg/orchestrator"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

func main() {
	if unix.Getuid() != 0 {
		fmt.Fprintln(os.Stderr, bootuperrors.ErrNotRoot)
		os.Exit(1)
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("BOOTUPD_DEBUG") != "" {
		logrus.SetLevel(logrus.DebugLevel)
	}

	orch := orchestrator.New()

	server, err := ipc.Listen(makeHandler(orch))
	if err != nil {
		logrus.WithError(err).Fatal("failed to bind daemon socket")
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- server.Serve() }()

	logrus.Info("bootupd listening on ", ipc.SocketPath)

	select {
	case <-ctx.Done():
		logrus.Info("shutting down")
	case err := <-done:
		if err != nil {
			logrus.WithError(err).Error("serve loop exited")
		}
	}
}

// makeHandler adapts orchestrator operations to pkg/ipc.Handler's untyped
// request/response shape.
func makeHandler(orch *orchestrator.Orchestrator) ipc.Handler {
	return func(req ipc.ClientRequest) (interface{}, error) {
		ctx := context.Background()
		switch req.Kind {
		case ipc.RequestStatus:
			return orch.Status(ctx)
		case ipc.RequestUpdate:
			return orch.Update(ctx, req.Component)
		case ipc.RequestAdoptAndUpdate:
			return orch.AdoptAndUpdate(ctx, req.Component)
		case ipc.RequestValidate:
			return orch.Validate(ctx, req.Component)
		case ipc.RequestValidateAll:
			return orch.ValidateAll(ctx)
		default:
			return nil, fmt.Errorf("unknown request kind %q", req.Kind)
		}
	}
}
