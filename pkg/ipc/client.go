package ipc

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/bootupd/bootupd-go/pkg/bootuperrors"
	"golang.org/x/sys/unix"
)

// Client is a connection to the daemon from the privileged CLI side.
type Client struct {
	fd int
}

// Connect opens a SOCK_SEQPACKET connection to the daemon and performs the
// credential-carrying hello handshake.
func Connect() (*Client, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("creating socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: SocketPath}
	if err := unix.Connect(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("connecting to %s: %w", SocketPath, err)
	}
	if err := sendHello(fd); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("sending hello: %w", err)
	}
	return &Client{fd: fd}, nil
}

// Close shuts down and closes the connection.
func (c *Client) Close() error {
	if c == nil || c.fd == -1 {
		return nil
	}
	_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

// Send marshals req, sends it, and unmarshals the daemon's reply payload
// into result. A daemon-side Failure reply surfaces as a plain error
// carrying the daemon's message.
func (c *Client) Send(req ClientRequest, result interface{}) error {
	if err := sendMessage(c.fd, req); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	var reply Reply
	if err := recvMessage(c.fd, &reply); err != nil {
		return fmt.Errorf("receiving reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("daemon error: %s", reply.Error)
	}
	if result == nil || len(reply.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Result, result); err != nil {
		return fmt.Errorf("parsing reply result: %w", err)
	}
	return nil
}

// EnsureSupervised re-execs the current process under systemd-run when it
// is not already running under an init supervisor (no INVOCATION_ID in the
// environment), and in that case exits with systemd-run's exit code rather
// than returning, unless systemd-run cannot be started. A client invoked
// directly
// from an interactive shell must not talk to the daemon directly; it must
// be dispatched the same way the daemon itself is, so systemd can track
// and isolate it consistently.
func EnsureSupervised() error {
	if unix.Getuid() != 0 {
		return bootuperrors.ErrNotRoot
	}

	if os.Getenv("INVOCATION_ID") != "" {
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating own executable: %w", err)
	}

	unitName := fmt.Sprintf("bootupctl-%d", os.Getpid())
	_ = exec.Command("systemctl", "reset-failed", unitName+".service").Run()

	args := append([]string{
		"--pipe",
		"--quiet",
		"--collect",
		"--service-type=exec",
		"--unit=" + unitName,
		"--property=PrivateNetwork=yes",
		"--property=ProtectHome=yes",
		"--property=MountFlags=slave",
		exe,
	}, os.Args[1:]...)

	cmd := exec.Command("systemd-run", args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		return fmt.Errorf("re-executing under systemd-run: %w", err)
	}
	os.Exit(0)
	return nil
}
