package main

import "fmt"

// LocalUserInfo is the payload of a Client with Kind == KindLocalUser: a
// user whose TCP connection terminates on this server.
type LocalUserInfo struct {
	Nickname   string
	Username   string
	RealName   string
	Hostname   string
	IsOperator bool

	// Channels is keyed by canonical channel name, mirroring the
	// membership set spec.md §3 assigns to every User.
	Channels map[string]struct{}
}

// RemoteUserInfo is the payload of a Client with Kind == KindRemoteUser: a
// user reached through a peer server, with no local socket of its own.
type RemoteUserInfo struct {
	Nickname string
	Username string
	RealName string
	Hostname string

	// Introducer is the UUID of the LocalServer Client this user was heard
	// about through; broadcasts destined for it route via that server.
	Introducer UUID
}

func newLocalUserInfo(nick, user, realName, hostname string) *LocalUserInfo {
	return &LocalUserInfo{
		Nickname: nick,
		Username: user,
		RealName: realName,
		Hostname: hostname,
		Channels: make(map[string]struct{}),
	}
}

// nickUhost renders the nick!user@host form used in message prefixes.
func (c *Client) nickUhost() string {
	switch c.Kind {
	case KindLocalUser:
		return fmt.Sprintf("%s!%s@%s", c.LocalUser.Nickname, c.LocalUser.Username, c.LocalUser.Hostname)
	case KindRemoteUser:
		return fmt.Sprintf("%s!%s@%s", c.RemoteUser.Nickname, c.RemoteUser.Username, c.RemoteUser.Hostname)
	default:
		return ""
	}
}

// Nickname returns the user's nickname, or "" if this Client isn't a user.
func (c *Client) Nickname() string {
	switch c.Kind {
	case KindLocalUser:
		return c.LocalUser.Nickname
	case KindRemoteUser:
		return c.RemoteUser.Nickname
	default:
		return ""
	}
}

// realName returns the user's realname, or "" if this Client isn't a user.
func (c *Client) realName() string {
	switch c.Kind {
	case KindLocalUser:
		return c.LocalUser.RealName
	case KindRemoteUser:
		return c.RemoteUser.RealName
	default:
		return ""
	}
}

// setNickname updates the user's nickname field in place. It does not touch
// any database index; ClientDatabase.RenameUser is the only caller,
// keeping the nickname-index rename a single transactional operation per
// spec.md §4.4.
func (c *Client) setNickname(nick string) {
	switch c.Kind {
	case KindLocalUser:
		c.LocalUser.Nickname = nick
	case KindRemoteUser:
		c.RemoteUser.Nickname = nick
	}
}

// addChannel records channel membership on a LocalUser. RemoteUser clients
// don't track a channel set locally — their membership is only meaningful
// to the Channel's Members map, which this server maintains on their
// behalf via weak UUID references.
func (c *Client) addChannel(name string) {
	if c.Kind == KindLocalUser {
		c.LocalUser.Channels[name] = struct{}{}
	}
}

// removeChannel undoes addChannel.
func (c *Client) removeChannel(name string) {
	if c.Kind == KindLocalUser {
		delete(c.LocalUser.Channels, name)
	}
}

// onChannel reports whether a LocalUser is a member of the named channel.
func (c *Client) onChannel(name string) bool {
	if c.Kind != KindLocalUser {
		return false
	}
	_, ok := c.LocalUser.Channels[name]
	return ok
}

// isOperator reports operator privilege for a user Client.
func (c *Client) isOperator() bool {
	switch c.Kind {
	case KindLocalUser:
		return c.LocalUser.IsOperator
	case KindRemoteUser:
		return false
	default:
		return false
	}
}
