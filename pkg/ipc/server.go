package ipc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bootupd/bootupd-go/pkg/bootuperrors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Handler processes one authenticated request and returns the value to
// encode as the reply's Result, or an error to encode as its Failure.
type Handler func(req ClientRequest) (interface{}, error)

// Server owns the listening socket and dispatches accepted connections to
// handle, one at a time: the daemon is intentionally single-threaded
// about mutating operations, since pkg/state.Guard already serializes
// writers and a second concurrent handler would just block on the lock.
type Server struct {
	listenFD int
	handle   Handler
}

// Listen binds the daemon socket and returns a Server ready to Serve.
func Listen(handle Handler) (*Server, error) {
	fd, err := newListenSocket(SocketPath)
	if err != nil {
		return nil, err
	}
	return &Server{listenFD: fd, handle: handle}, nil
}

// Close closes the listening socket and removes the socket file.
func (s *Server) Close() error {
	err := unix.Close(s.listenFD)
	_ = unix.Unlink(SocketPath)
	return err
}

// Serve accepts connections until accept fails (e.g. the listening socket
// is closed during shutdown).
func (s *Server) Serve() error {
	for {
		connFD, _, err := unix.Accept(s.listenFD)
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		s.serveOne(connFD)
	}
}

func (s *Server) serveOne(fd int) {
	defer unix.Close(fd)

	if err := authenticate(fd); err != nil {
		logrus.WithError(err).Warn("client authentication failed")
		return
	}

	var req ClientRequest
	if err := recvMessage(fd, &req); err != nil {
		logrus.WithError(err).Warn("failed to read client request")
		return
	}

	result, err := s.handle(req)
	reply := Reply{}
	if err != nil {
		reply.OK = false
		reply.Error = err.Error()
	} else {
		reply.OK = true
		if result != nil {
			data, merr := json.Marshal(result)
			if merr != nil {
				reply.OK = false
				reply.Error = fmt.Sprintf("encoding reply: %v", merr)
			} else {
				reply.Result = data
			}
		}
	}

	if err := sendMessage(fd, reply); err != nil {
		logrus.WithError(err).Warn("failed to send reply")
	}
}

// IsAuthError reports whether err originated from a failed handshake,
// distinguishing it from a handler-level failure for logging purposes.
func IsAuthError(err error) bool {
	return errors.Is(err, bootuperrors.ErrAuth)
}
