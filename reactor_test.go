package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// newTestSocketPair returns two ends of a connected, non-blocking AF_UNIX
// stream socket pair, wrapped as ordinary peer Sockets. Good enough to
// drive the reactor's poll/send/recv paths without a real TCP listener.
func newTestSocketPair(t *testing.T) (*Socket, *Socket) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	for _, fd := range fds {
		require.NoError(t, unix.SetNonblock(fd, true))
	}

	a := &Socket{fd: fds[0], epoch: 1, socketType: SocketPeer, state: SocketConnected}
	b := &Socket{fd: fds[1], epoch: 2, socketType: SocketPeer, state: SocketConnected}
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestReactorHighestFdTracksDeletion(t *testing.T) {
	r := NewReactor(3)
	low, high := newTestSocketPair(t)

	r.RegisterConnection(low, UUID(1))
	r.RegisterConnection(high, UUID(2))

	initial := r.HighestFd()
	assert.True(t, initial == low.Fd() || initial == high.Fd())

	// Delete whichever of the two sockets has the higher fd and confirm the
	// bound drops to the other one.
	var higherFd, lowerFd int
	if low.Fd() > high.Fd() {
		higherFd, lowerFd = low.Fd(), high.Fd()
	} else {
		higherFd, lowerFd = high.Fd(), low.Fd()
	}
	assert.Equal(t, higherFd, r.HighestFd())

	require.NoError(t, r.deleteSocket(higherFd))
	assert.Equal(t, lowerFd, r.HighestFd())
}

func TestReactorClosingListenerIsFatal(t *testing.T) {
	r := NewReactor(3)
	sock, _ := newTestSocketPair(t)
	r.RegisterListener(sock, UUID(1))

	err := r.deleteSocket(sock.Fd())
	assert.Error(t, err)
}

func TestReactorOutboundNotWritableRequeuesUntouched(t *testing.T) {
	r := NewReactor(2)
	_, other := newTestSocketPair(t)
	r.RegisterConnection(other, UUID(7))

	r.outbound = []outboundEntry{{uuid: UUID(7), line: "PING :x\r\n"}}
	fd := other.Fd()
	pollFds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT, Revents: 0}}
	fdIndex := map[int]int{fd: 0}

	require.NoError(t, r.drainOutbound(pollFds, fdIndex))
	require.Len(t, r.outbound, 1)
	assert.Equal(t, 0, r.outbound[0].retries)
}

// TestReactorOutboundRetriesThenDrops fills the kernel send buffer on one
// end of a socket pair (never reading the other end) so every Send attempt
// returns WouldBlock, then drives drainOutbound across maxRetries ticks
// to confirm the entry is requeued with an incrementing retry count and
// finally dropped rather than requeued forever.
func TestReactorOutboundRetriesThenDrops(t *testing.T) {
	const maxRetries = 2
	r := NewReactor(maxRetries)
	_, other := newTestSocketPair(t)
	r.RegisterConnection(other, UUID(7))

	filler := make([]byte, 1<<20)
	for {
		_, err := other.Send(filler)
		if err != nil {
			break
		}
	}

	fd := other.Fd()
	pollFds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT, Revents: unix.POLLOUT}}
	fdIndex := map[int]int{fd: 0}

	r.outbound = []outboundEntry{{uuid: UUID(7), line: "PING :x\r\n"}}
	for i := 0; i < maxRetries-1; i++ {
		require.NoError(t, r.drainOutbound(pollFds, fdIndex))
		require.Len(t, r.outbound, 1, "attempt %d", i)
		assert.Equal(t, i+1, r.outbound[0].retries)
	}

	// The next failed attempt reaches maxRetries: the entry is dropped
	// rather than requeued.
	require.NoError(t, r.drainOutbound(pollFds, fdIndex))
	assert.Empty(t, r.outbound)
}

func TestReactorForgetClientIsNoOpForUnknownUUID(t *testing.T) {
	r := NewReactor(3)
	r.ForgetClient(UUID(12345))
}

func TestReactorHasSocketReflectsRegistration(t *testing.T) {
	r := NewReactor(3)
	sock, _ := newTestSocketPair(t)
	r.RegisterConnection(sock, UUID(3))
	assert.True(t, r.HasSocket(UUID(3)))

	r.ForgetClient(UUID(3))
	assert.False(t, r.HasSocket(UUID(3)))
}

func TestReactorFramesLinesOnLF(t *testing.T) {
	r := NewReactor(3)
	entry := &socketEntry{uuid: UUID(1)}
	entry.inBuf.WriteString("NICK alice\r\nUSER a 0 * :A\n")
	r.extractLines(entry)

	require.Len(t, r.inbound, 2)
	assert.Equal(t, "NICK alice", r.inbound[0].Line)
	assert.Equal(t, "USER a 0 * :A", r.inbound[1].Line)
	assert.Equal(t, "", entry.inBuf.String())
}

func TestReactorFramesPartialLineRemainsBuffered(t *testing.T) {
	r := NewReactor(3)
	entry := &socketEntry{uuid: UUID(1)}
	entry.inBuf.WriteString("NICK al")
	r.extractLines(entry)

	assert.Empty(t, r.inbound)
	assert.Equal(t, "NICK al", entry.inBuf.String())
}
