package main

import (
	"fmt"

	"github.com/pkg/errors"
)

// ClientState is where a Client sits in the registration state machine
// (spec.md §4.6's diagram): Accepted clients start Unregistered and move to
// Registered once NICK+USER (for a user) or SERVER (for a peer) succeeds.
type ClientState int

const (
	StateUnregistered ClientState = iota
	StateRegistered
)

func (s ClientState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

// ClientKind tags which payload a Client carries. This is the tagged-sum
// realization of the source's Client/User/Server class hierarchy: handlers
// switch on Kind instead of doing a type assertion, and exactly one of the
// kind-specific pointer fields below is non-nil for a given Kind.
type ClientKind int

const (
	KindUnknown ClientKind = iota
	KindLocalUser
	KindRemoteUser
	KindLocalServer
	KindRemoteServer
)

func (k ClientKind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindLocalUser:
		return "local-user"
	case KindRemoteUser:
		return "remote-user"
	case KindLocalServer:
		return "local-server"
	case KindRemoteServer:
		return "remote-server"
	default:
		return "invalid"
	}
}

// Client is the base entity for any connected peer: a registration-pending
// connection, a local or remote user, or a local or remote server. The
// ClientDatabase exclusively owns every Client instance; everything else
// (Channel membership, handler state) holds only a UUID and looks the
// Client up again when it needs it.
type Client struct {
	UUID  UUID
	State ClientState
	Kind  ClientKind

	// Socket is the owned I/O handle for a directly-connected peer. It is
	// nil for RemoteUser/RemoteServer clients, which have no local
	// connection — messages to them route via their Introducer.
	Socket *Socket

	// RemoteAddr is the dotted address recorded at accept time, used as the
	// hostname in generated prefixes (no DNS lookups are performed).
	RemoteAddr string

	// outbound is the per-client FIFO of serialized (but not yet framed)
	// lines. DrainOutbound empties it into the reactor's retry-bounded
	// queue each server-loop tick, per spec's "merge into reactor queue"
	// note on the flush step.
	outbound []string

	// Pending registration fields, populated as NICK/USER arrive before
	// both are present.
	pendingNick     string
	pendingUser     string
	pendingRealName string
	hasPendingNick  bool
	hasPendingUser  bool

	LocalUser    *LocalUserInfo
	RemoteUser   *RemoteUserInfo
	LocalServer  *LocalServerInfo
	RemoteServer *RemoteServerInfo
}

// NewClient creates an Unregistered client wrapping a freshly accepted
// Socket.
func NewClient(uuid UUID, sock *Socket, remoteAddr string) *Client {
	return &Client{
		UUID:       uuid,
		State:      StateUnregistered,
		Kind:       KindUnknown,
		Socket:     sock,
		RemoteAddr: remoteAddr,
	}
}

// String renders a Client for logging.
func (c *Client) String() string {
	switch c.Kind {
	case KindLocalUser:
		return fmt.Sprintf("%s[%s]", c.LocalUser.Nickname, c.UUID)
	case KindRemoteUser:
		return fmt.Sprintf("%s[%s]", c.RemoteUser.Nickname, c.UUID)
	case KindLocalServer:
		return fmt.Sprintf("%s[%s]", c.LocalServer.ServerName, c.UUID)
	case KindRemoteServer:
		return fmt.Sprintf("%s[%s]", c.RemoteServer.ServerName, c.UUID)
	default:
		return fmt.Sprintf("unregistered[%s]", c.UUID)
	}
}

// Push appends a line (without CRLF) to the client's outbound buffer. It
// fails once the soft per-client bound is reached; command.go treats that
// as a slow-consumer disconnect rather than growing the buffer without
// limit.
func (c *Client) Push(line string) error {
	if len(c.outbound) >= maxOutboundQueueLength {
		return errors.Errorf("outbound queue full for %s", c)
	}
	c.outbound = append(c.outbound, line)
	return nil
}

// DrainOutbound empties and returns the client's pending outbound lines.
func (c *Client) DrainOutbound() []string {
	if len(c.outbound) == 0 {
		return nil
	}
	lines := c.outbound
	c.outbound = nil
	return lines
}

// IsUser reports whether this Client is a User (local or remote).
func (c *Client) IsUser() bool {
	return c.Kind == KindLocalUser || c.Kind == KindRemoteUser
}

// IsServer reports whether this Client is a Server (local or remote).
func (c *Client) IsServer() bool {
	return c.Kind == KindLocalServer || c.Kind == KindRemoteServer
}

// IsLocal reports whether this Client has a directly-owned Socket.
func (c *Client) IsLocal() bool {
	return c.Kind == KindUnknown || c.Kind == KindLocalUser || c.Kind == KindLocalServer
}

// setPendingNick records a NICK received before registration completes.
func (c *Client) setPendingNick(nick string) {
	c.pendingNick = nick
	c.hasPendingNick = true
}

// setPendingUser records a USER received before registration completes.
func (c *Client) setPendingUser(user, realName string) {
	c.pendingUser = user
	c.pendingRealName = realName
	c.hasPendingUser = true
}

// readyToRegisterUser reports whether both NICK and USER have arrived.
func (c *Client) readyToRegisterUser() bool {
	return c.hasPendingNick && c.hasPendingUser
}
