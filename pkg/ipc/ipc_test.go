package ipc

import (
	"testing"

	"golang.org/x/sys/unix"
)

// socketpair returns two connected SOCK_SEQPACKET fds, standing in for a
// real client/daemon connection without touching the real SocketPath (which
// lives under /run and requires root to bind).
func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestSendRecvMessageRoundTrip(t *testing.T) {
	a, b := socketpair(t)

	req := ClientRequest{Kind: RequestStatus}
	if err := sendMessage(a, req); err != nil {
		t.Fatalf("sendMessage: %v", err)
	}

	var got ClientRequest
	if err := recvMessage(b, &got); err != nil {
		t.Fatalf("recvMessage: %v", err)
	}
	if got.Kind != RequestStatus {
		t.Errorf("Kind = %q, want %q", got.Kind, RequestStatus)
	}
}

func TestSendHelloAndAuthenticate(t *testing.T) {
	a, b := socketpair(t)

	if err := unix.SetsockoptInt(b, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		t.Fatalf("enabling SO_PASSCRED: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- authenticate(b)
	}()

	if err := sendHello(a); err != nil {
		t.Fatalf("sendHello: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("authenticate: %v", err)
	}
}

func TestAuthenticateRejectsWrongHello(t *testing.T) {
	a, b := socketpair(t)

	if err := unix.SetsockoptInt(b, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		t.Fatalf("enabling SO_PASSCRED: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- authenticate(b)
	}()

	cred := &unix.Ucred{Pid: int32(unix.Getpid()), Uid: uint32(unix.Getuid()), Gid: uint32(unix.Getgid())}
	oob := unix.UnixCredentials(cred)
	if err := unix.Sendmsg(a, []byte("not the hello\n"), oob, nil, 0); err != nil {
		t.Fatalf("sendmsg: %v", err)
	}

	if err := <-done; err == nil {
		t.Fatalf("expected authenticate to reject a mismatched hello message")
	}
}

func TestIsAuthError(t *testing.T) {
	a, b := socketpair(t)
	if err := unix.SetsockoptInt(b, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		t.Fatalf("enabling SO_PASSCRED: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- authenticate(b)
	}()

	if _, err := unix.Write(a, []byte("garbage")); err != nil {
		t.Fatalf("write: %v", err)
	}

	err := <-done
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !IsAuthError(err) {
		t.Errorf("expected IsAuthError to report true for %v", err)
	}
}
