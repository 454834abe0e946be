// Package ipc implements the privileged client/daemon protocol over a
// SOCK_SEQPACKET Unix socket at /run/bootupd.sock, authenticated with
// SCM_CREDENTIALS. Grounded directly on golang.org/x/sys/unix because no
// higher-level Go package in this codebase's dependency surface wraps
// ancillary-data credential passing the way nix::sys::socket does for the
// original implementation.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/bootupd/bootupd-go/pkg/bootuperrors"
	"golang.org/x/sys/unix"
)

// SocketPath is where the daemon listens.
const SocketPath = "/run/bootupd.sock"

// MaxMessageSize bounds a single request or reply.
const MaxMessageSize = 1024 * 1024

// HelloMessage is sent by the client as its first message, alongside its
// SCM_CREDENTIALS, before any request.
const HelloMessage = "bootupd-hello\n"

// ClientRequest is a tagged union of the daemon operations. Kind selects
// which of the optional fields is populated.
type ClientRequest struct {
	Kind      string `json:"kind"`
	Component string `json:"component,omitempty"`
}

const (
	RequestUpdate         = "update"
	RequestAdoptAndUpdate = "adopt-and-update"
	RequestValidate       = "validate"
	RequestValidateAll    = "validate-all"
	RequestStatus         = "status"
)

// Reply is the daemon's response envelope: exactly one of Result or Error
// is populated, matching DaemonToClientReply<T> = Success(T) | Failure(string).
type Reply struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// newListenSocket creates and binds a SOCK_SEQPACKET Unix socket at path,
// removing any stale socket file left by a prior (crashed) daemon.
func newListenSocket(path string) (int, error) {
	_ = unix.Unlink(path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("creating socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("binding %s: %w", path, err)
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listening on %s: %w", path, err)
	}
	return fd, nil
}

// authenticate enables SO_PASSCRED on fd, reads the client's first message,
// and requires it to carry SCM_CREDENTIALS for uid 0 and the fixed hello
// string. Any other first message is treated as an auth failure and the
// caller closes the connection; the daemon itself keeps serving other
// clients.
func authenticate(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		return fmt.Errorf("enabling SO_PASSCRED: %w", err)
	}

	buf := make([]byte, 1024)
	oob := make([]byte, unix.CmsgSpace(unix.SizeofUcred))
	n, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, 0)
	if err != nil {
		return fmt.Errorf("receiving hello: %w", err)
	}

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return fmt.Errorf("parsing control message: %w", err)
	}

	var cred *unix.Ucred
	for _, scm := range scms {
		if c, err := unix.ParseUnixCredentials(&scm); err == nil {
			cred = c
			break
		}
	}
	if cred == nil {
		return fmt.Errorf("%w: no SCM_CREDENTIALS provided", bootuperrors.ErrAuth)
	}
	if cred.Uid != 0 {
		return fmt.Errorf("%w: unauthorized pid:%d uid:%d", bootuperrors.ErrAuth, cred.Pid, cred.Uid)
	}
	if string(buf[:n]) != HelloMessage {
		return fmt.Errorf("%w: unexpected hello message", bootuperrors.ErrAuth)
	}
	return nil
}

func sendHello(fd int) error {
	cred := &unix.Ucred{Pid: int32(unix.Getpid()), Uid: uint32(unix.Getuid()), Gid: uint32(unix.Getgid())}
	oob := unix.UnixCredentials(cred)
	return unix.Sendmsg(fd, []byte(HelloMessage), oob, nil, 0)
}

func sendMessage(fd int, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds the %d byte limit", len(data), MaxMessageSize)
	}
	return unix.Send(fd, data, 0)
}

func recvMessage(fd int, v interface{}) error {
	buf := make([]byte, MaxMessageSize)
	n, _, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		return fmt.Errorf("receiving message: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("server sent an empty reply")
	}
	if err := json.Unmarshal(buf[:n], v); err != nil {
		return fmt.Errorf("parsing message: %w", err)
	}
	return nil
}
