package main

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SocketType distinguishes a listener from an ordinary peer connection, the
// richer shape original_source/shared_lib/Socket.h carries (as opposed to
// tcp_lib's leaner one) — adopted per the Open Question resolution in
// DESIGN.md. Accept refuses to run on a socket that is not a listener; the
// reactor itself decides "accept" vs. "recv" from its own isListener flag.
type SocketType int

const (
	SocketUnknown SocketType = iota
	SocketListener
	SocketPeer
)

// SocketState mirrors original_source/shared_lib's SocketState enum.
type SocketState int

const (
	SocketUninitialized SocketState = iota
	SocketConnected
	SocketDisconnected
)

// recvBufferSize bounds a single Recv() chunk; callers loop calling Recv
// until it returns ErrSocketWouldBlock to drain everything currently
// available.
const recvBufferSize = 4096

// Socket wraps one non-blocking file descriptor. It is the only thing in
// this repository that makes socket syscalls through golang.org/x/sys/unix
// (the reactor calls unix.Poll on the raw fds for readiness); callers of
// Recv/Send see tri-valued results (bytes | WouldBlock | Closed), never an
// errno.
//
// A Socket is non-movable in spirit: the fd it wraps is exclusively owned,
// and Close is the only valid way to release it.
type Socket struct {
	fd         int
	epoch      uint64
	socketType SocketType
	state      SocketState
	remoteAddr string
}

// NewListenerSocket binds and listens on addr (host:port), in non-blocking
// mode, with the given backlog.
func NewListenerSocket(addr string, backlog int, epoch uint64) (*Socket, error) {
	sockaddr, err := resolveSockaddr(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "problem resolving listen address %s", addr)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, errors.Wrap(err, "problem creating socket")
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrap(err, "problem setting SO_REUSEADDR")
	}

	if err := unix.Bind(fd, sockaddr); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrapf(err, "problem binding to %s", addr)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrapf(err, "problem listening on %s", addr)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrap(err, "problem setting non-blocking")
	}

	return &Socket{
		fd:         fd,
		epoch:      epoch,
		socketType: SocketListener,
		state:      SocketConnected,
		remoteAddr: addr,
	}, nil
}

// Connect dials addr (host:port). If blocking is true the call blocks until
// the TCP handshake completes (used only for the startup peer-link dials
// spec.md §6 describes); otherwise the socket is set non-blocking before
// connecting, and a connection still in progress (EINPROGRESS) is returned
// as a connected Socket without waiting for the handshake to finish.
func Connect(addr string, blocking bool, epoch uint64) (*Socket, error) {
	sockaddr, err := resolveSockaddr(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "problem resolving peer address %s", addr)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, errors.Wrap(err, "problem creating socket")
	}

	if !blocking {
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fd)
			return nil, errors.Wrap(err, "problem setting non-blocking")
		}
	}

	err = unix.Connect(fd, sockaddr)
	if err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return nil, errors.Wrapf(err, "problem connecting to %s", addr)
	}

	if blocking {
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fd)
			return nil, errors.Wrap(err, "problem setting non-blocking")
		}
	}

	return &Socket{
		fd:         fd,
		epoch:      epoch,
		socketType: SocketPeer,
		state:      SocketConnected,
		remoteAddr: addr,
	}, nil
}

// Accept accepts one pending connection off a listener socket. It returns
// ErrSocketWouldBlock if none is pending.
func (s *Socket) Accept(epoch uint64) (*Socket, error) {
	if s.socketType != SocketListener {
		return nil, errors.New("Accept called on a non-listener socket")
	}

	fd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, ErrSocketWouldBlock
		}
		return nil, errors.Wrap(err, "problem accepting connection")
	}

	return &Socket{
		fd:         fd,
		epoch:      epoch,
		socketType: SocketPeer,
		state:      SocketConnected,
		remoteAddr: sockaddrString(sa),
	}, nil
}

// Recv reads one available chunk. It returns ErrSocketWouldBlock if no data
// is currently available, or ErrSocketClosed once the peer has closed the
// connection (a zero-length read).
func (s *Socket) Recv() (string, error) {
	buf := make([]byte, recvBufferSize)
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return "", ErrSocketWouldBlock
		}
		s.state = SocketDisconnected
		return "", errors.Wrap(ErrSocketClosed, err.Error())
	}
	if n == 0 {
		s.state = SocketDisconnected
		return "", ErrSocketClosed
	}
	return string(buf[:n]), nil
}

// Send writes data, returning the number of bytes actually written.
// ErrSocketWouldBlock means the kernel send buffer is full; the caller is
// expected to retry the unsent remainder on a later tick.
func (s *Socket) Send(data []byte) (int, error) {
	n, err := unix.Write(s.fd, data)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrSocketWouldBlock
		}
		if err == unix.EPIPE || err == unix.ECONNRESET {
			s.state = SocketDisconnected
			return 0, errors.Wrap(ErrSocketClosed, err.Error())
		}
		return 0, errors.Wrap(err, "problem writing to socket")
	}
	return n, nil
}

// Close releases the fd. It is idempotent.
func (s *Socket) Close() error {
	if s.state == SocketDisconnected && s.fd < 0 {
		return nil
	}
	fd := s.fd
	s.fd = -1
	s.state = SocketDisconnected
	if fd < 0 {
		return nil
	}
	if err := unix.Close(fd); err != nil {
		return errors.Wrap(err, "problem closing socket")
	}
	return nil
}

// Fd returns the underlying file descriptor, for the reactor's poll set.
func (s *Socket) Fd() int { return s.fd }

// Epoch returns the generation counter assigned when this Socket was
// created. Nothing compares it; the reactor's fd-reuse defense keys queued
// lines by UUID instead (see Reactor.NextEpoch).
func (s *Socket) Epoch() uint64 { return s.epoch }

// Type reports whether this is a listener or an ordinary peer socket.
func (s *Socket) Type() SocketType { return s.socketType }

// RemoteAddr returns the address recorded at accept/connect time.
func (s *Socket) RemoteAddr() string { return s.remoteAddr }

func resolveSockaddr(addr string) (unix.Sockaddr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, err
	}
	var ip [4]byte
	copy(ip[:], tcpAddr.IP.To4())
	return &unix.SockaddrInet4{Port: tcpAddr.Port, Addr: ip}, nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(a.Addr[:])
		return ip.String()
	default:
		return ""
	}
}
