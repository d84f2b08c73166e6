package main

import (
	"log"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// InboundMessage is one entry in the reactor's inbound queue: a parsed-out
// line from a connection, or an empty Line signaling a new connection or a
// disconnect (the server loop tells the two apart by looking the UUID up).
type InboundMessage struct {
	UUID UUID
	Line string
}

// outboundEntry is one pending write, with the retry count the drain step
// increments on WouldBlock.
type outboundEntry struct {
	uuid    UUID
	line    string
	retries int
}

// socketEntry is what the reactor's fd map stores per registered
// connection: the Socket itself, the UUID it's registered under (for
// building InboundMessages), and an inbound byte accumulator for framing a
// stream of bytes into discrete lines.
type socketEntry struct {
	sock   *Socket
	uuid   UUID
	inBuf  strings.Builder
	isListener bool
}

// Reactor multiplexes every registered Socket on a single thread: one
// readiness-poll tick at a time, a shared inbound queue filled by reading
// ready sockets, and a shared outbound queue drained by writing to writable
// ones. Nothing here spawns a goroutine; RunOnce does all its work on the
// calling goroutine and returns.
type Reactor struct {
	maxRetries int
	nextEpoch  uint64
	listenerFd int
	highestFd  int

	sockets map[int]*socketEntry // fd -> entry
	byUUID  map[UUID]int         // uuid -> fd, for outbound delivery and deletion

	inbound  []InboundMessage
	outbound []outboundEntry

	// pendingAccepts holds sockets accepted this tick. A freshly accepted
	// peer has no UUID yet — only the ClientDatabase mints one — so the
	// server loop must claim these, register each with the reactor under
	// its new UUID, and synthesize the inbound "new connection" signal
	// itself.
	pendingAccepts []*Socket
}

// NewReactor creates an empty Reactor. maxRetries bounds how many WouldBlock
// retries an outbound line survives before being dropped (testable
// property 10).
func NewReactor(maxRetries int) *Reactor {
	return &Reactor{
		maxRetries: maxRetries,
		listenerFd: -1,
		sockets:    make(map[int]*socketEntry),
		byUUID:     make(map[UUID]int),
	}
}

// NextEpoch returns a fresh generation counter for a Socket about to be
// created. The reactor records it on the Socket but never compares it:
// outbound entries are keyed by UUID, and deleteSocket drops the UUID's
// byUUID entry, so a line queued for a deleted socket is dropped even if
// its fd number is reused.
func (r *Reactor) NextEpoch() uint64 {
	r.nextEpoch++
	return r.nextEpoch
}

// RegisterListener registers sock as the reactor's single listening socket.
// Accept readiness on this fd triggers Accept() rather than Recv().
func (r *Reactor) RegisterListener(sock *Socket, uuid UUID) {
	r.register(sock, uuid, true)
	r.listenerFd = sock.Fd()
}

// RegisterConnection registers an ordinary (non-listener) connection.
func (r *Reactor) RegisterConnection(sock *Socket, uuid UUID) {
	r.register(sock, uuid, false)
}

func (r *Reactor) register(sock *Socket, uuid UUID, isListener bool) {
	fd := sock.Fd()
	r.sockets[fd] = &socketEntry{sock: sock, uuid: uuid, isListener: isListener}
	r.byUUID[uuid] = fd
	if fd > r.highestFd {
		r.highestFd = fd
	}
}

// HighestFd returns the current upper bound of registered descriptors, kept
// up to date by deleteSocket (testable property 11). unix.Poll doesn't
// need an upper bound the way a select()-based fd_set implementation does,
// but the bookkeeping is retained since it is an explicit testable
// property of this design.
func (r *Reactor) HighestFd() int { return r.highestFd }

// Enqueue appends a line to uuid's outbound queue entry. The reactor adds
// the wire terminator; callers pass bare lines.
func (r *Reactor) Enqueue(uuid UUID, line string) {
	r.outbound = append(r.outbound, outboundEntry{uuid: uuid, line: line + "\r\n"})
}

// deleteSocket removes fd from every index and closes its Socket. Deleting
// the listener is a fatal condition per spec.md §4.2; the caller (RunOnce)
// propagates the returned error up to the server loop, which must stop.
func (r *Reactor) deleteSocket(fd int) error {
	entry, ok := r.sockets[fd]
	if !ok {
		return nil
	}

	wasListener := fd == r.listenerFd
	delete(r.sockets, fd)
	delete(r.byUUID, entry.uuid)
	_ = entry.sock.Close()

	if fd == r.highestFd {
		r.recomputeHighestFd()
	}

	if wasListener {
		return errors.New("listener socket was deleted: fatal")
	}
	return nil
}

// HasSocket reports whether uuid currently has a socket registered with
// the reactor. The server loop uses this to tell an empty-Line "new
// connection" signal (socket still registered) from a "disconnect" signal
// (socket already torn down by the reactor itself).
func (r *Reactor) HasSocket(uuid UUID) bool {
	_, ok := r.byUUID[uuid]
	return ok
}

// ForgetClient removes uuid's socket from the reactor, if it has one
// registered. A client that never had a socket (a synthetic remote server
// introduced by a peer, say) is a no-op.
func (r *Reactor) ForgetClient(uuid UUID) {
	fd, ok := r.byUUID[uuid]
	if !ok {
		return
	}
	_ = r.deleteSocket(fd)
}

func (r *Reactor) recomputeHighestFd() {
	max := -1
	for fd := range r.sockets {
		if fd > max {
			max = fd
		}
	}
	r.highestFd = max
}

// Inbound drains and returns every message queued since the last call.
func (r *Reactor) Inbound() []InboundMessage {
	if len(r.inbound) == 0 {
		return nil
	}
	msgs := r.inbound
	r.inbound = nil
	return msgs
}

// RunOnce runs exactly one non-blocking poll tick: drain outbound, then
// fan-in inbound, per spec.md §4.2's contract. A returned error is fatal to
// the process (poll failure, or the listener having been deleted); every
// other failure is handled internally (socket removed, disconnect signaled
// through the inbound queue).
func (r *Reactor) RunOnce() error {
	if len(r.sockets) == 0 {
		return nil
	}

	pollFds := make([]unix.PollFd, 0, len(r.sockets))
	fdIndex := make(map[int]int, len(r.sockets))
	for fd, entry := range r.sockets {
		events := int16(unix.POLLIN)
		if !entry.isListener && r.hasPendingOutbound(entry.uuid) {
			events |= unix.POLLOUT
		}
		fdIndex[fd] = len(pollFds)
		pollFds = append(pollFds, unix.PollFd{Fd: int32(fd), Events: events})
	}

	_, err := unix.Poll(pollFds, 0)
	if err != nil && err != unix.EINTR {
		return errors.Wrap(err, "poll failed")
	}

	if err := r.drainOutbound(pollFds, fdIndex); err != nil {
		return err
	}
	if err := r.fanInInbound(pollFds, fdIndex); err != nil {
		return err
	}
	return nil
}

func (r *Reactor) hasPendingOutbound(uuid UUID) bool {
	for _, e := range r.outbound {
		if e.uuid == uuid {
			return true
		}
	}
	return false
}

func isWritable(pollFds []unix.PollFd, fdIndex map[int]int, fd int) bool {
	idx, ok := fdIndex[fd]
	if !ok {
		return false
	}
	return pollFds[idx].Revents&unix.POLLOUT != 0
}

func isReadable(pollFds []unix.PollFd, fdIndex map[int]int, fd int) bool {
	idx, ok := fdIndex[fd]
	if !ok {
		return false
	}
	return pollFds[idx].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
}

// drainOutbound pops every entry queued before this tick started (so a
// requeue doesn't get retried in the same tick) and attempts to send each
// one whose socket is writable.
func (r *Reactor) drainOutbound(pollFds []unix.PollFd, fdIndex map[int]int) error {
	pending := r.outbound
	r.outbound = nil

	for _, entry := range pending {
		fd, ok := r.byUUID[entry.uuid]
		if !ok {
			// Socket already gone; drop silently.
			continue
		}
		if !isWritable(pollFds, fdIndex, fd) {
			r.outbound = append(r.outbound, entry)
			continue
		}

		se := r.sockets[fd]
		n, err := se.sock.Send([]byte(entry.line))
		if err != nil {
			if errors.Cause(err) == ErrSocketWouldBlock {
				if entry.retries+1 >= r.maxRetries {
					log.Printf("reactor: dropping message to %s after %d retries", entry.uuid, entry.retries+1)
					continue
				}
				entry.retries++
				r.outbound = append(r.outbound, entry)
				continue
			}
			// Closed or unrecoverable Error: delete the socket and signal
			// the disconnect upward via an empty-payload inbound message.
			if delErr := r.deleteSocket(fd); delErr != nil {
				return delErr
			}
			r.inbound = append(r.inbound, InboundMessage{UUID: entry.uuid})
			continue
		}

		if n < len(entry.line) {
			entry.line = entry.line[n:]
			r.outbound = append(r.outbound, entry)
		}
	}
	return nil
}

// fanInInbound accepts new connections on the listener and reads from every
// other readable socket, framing bytes into lines.
func (r *Reactor) fanInInbound(pollFds []unix.PollFd, fdIndex map[int]int) error {
	for fd, entry := range r.sockets {
		if !isReadable(pollFds, fdIndex, fd) {
			continue
		}

		if entry.isListener {
			r.acceptAll(entry)
			continue
		}

		if err := r.readAvailable(fd, entry); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reactor) acceptAll(listener *socketEntry) {
	for {
		peer, err := listener.sock.Accept(r.NextEpoch())
		if err != nil {
			if errors.Cause(err) == ErrSocketWouldBlock {
				return
			}
			log.Printf("reactor: problem accepting connection: %s", err)
			return
		}
		r.pendingAccepts = append(r.pendingAccepts, peer)
	}
}

// PendingAccepts drains and returns every socket accepted since the last
// call. The server loop registers each one (minting a UUID via the
// ClientDatabase) and enqueues its own "new connection" inbound signal.
func (r *Reactor) PendingAccepts() []*Socket {
	if len(r.pendingAccepts) == 0 {
		return nil
	}
	accepts := r.pendingAccepts
	r.pendingAccepts = nil
	return accepts
}

// SignalNewConnection enqueues the empty-payload inbound message spec.md
// §4.7's loop uses to notice a new connection, once the server loop has
// registered the accepted socket under its minted UUID.
func (r *Reactor) SignalNewConnection(uuid UUID) {
	r.inbound = append(r.inbound, InboundMessage{UUID: uuid})
}

func (r *Reactor) readAvailable(fd int, entry *socketEntry) error {
	for {
		chunk, err := entry.sock.Recv()
		if err != nil {
			if errors.Cause(err) == ErrSocketWouldBlock {
				return nil
			}
			// Closed or Error: delete and signal disconnect. A partial line
			// still buffered in inBuf is discarded with the socket.
			if delErr := r.deleteSocket(fd); delErr != nil {
				return delErr
			}
			r.inbound = append(r.inbound, InboundMessage{UUID: entry.uuid})
			return nil
		}
		entry.inBuf.WriteString(chunk)
		r.extractLines(entry)
	}
}

// extractLines splits entry's accumulated bytes on '\n', tolerating a bare
// LF (stripping a preceding '\r' if present) per spec.md §6, and leaves any
// trailing partial line buffered for the next read.
func (r *Reactor) extractLines(entry *socketEntry) {
	buf := entry.inBuf.String()
	for {
		idx := strings.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := buf[:idx]
		line = strings.TrimSuffix(line, "\r")
		r.inbound = append(r.inbound, InboundMessage{UUID: entry.uuid, Line: line})
		buf = buf[idx+1:]
	}
	entry.inBuf.Reset()
	entry.inBuf.WriteString(buf)
}
