package main

import "github.com/pkg/errors"

// ClientDatabase is the exclusive owner of every connected Client. It
// maintains the UUID index (authoritative) plus the nickname and
// servername secondary indexes spec.md §4.5/§9 describe: UUID lookups
// never fail to find a registered entity, and renames are a single
// transactional operation so lookups never observe a half-rename.
type ClientDatabase struct {
	uuids UUIDSource

	clients map[UUID]*Client
	nicks   map[string]UUID // canonical nickname -> uuid, registered users only
	servers map[string]UUID // canonical servername -> uuid, registered servers only
}

// NewClientDatabase creates an empty database using src to mint UUIDs for
// clients it allocates itself (accepted connections, introduced remote
// servers). Clients constructed directly by a caller and handed to
// AddClient may carry UUIDs from a different source (tests do this with a
// deterministic counter).
func NewClientDatabase(src UUIDSource) *ClientDatabase {
	return &ClientDatabase{
		uuids:   src,
		clients: make(map[UUID]*Client),
		nicks:   make(map[string]UUID),
		servers: make(map[string]UUID),
	}
}

// NewAcceptedClient allocates a UUID and registers an Unregistered Client
// wrapping sock. This is the normal path for a freshly accepted TCP
// connection.
func (db *ClientDatabase) NewAcceptedClient(sock *Socket, remoteAddr string) *Client {
	uuid := db.uuids.Next()
	c := NewClient(uuid, sock, remoteAddr)
	db.clients[uuid] = c
	return c
}

// AddClient inserts an already-constructed Client by its UUID. It fails
// with ErrDuplicateClient if that UUID is already present (testable
// property 7).
func (db *ClientDatabase) AddClient(c *Client) error {
	if _, exists := db.clients[c.UUID]; exists {
		return errors.Wrapf(ErrDuplicateClient, "uuid %s", c.UUID)
	}
	db.clients[c.UUID] = c
	return nil
}

// GetClient looks up a client by UUID.
func (db *ClientDatabase) GetClient(uuid UUID) (*Client, bool) {
	c, ok := db.clients[uuid]
	return c, ok
}

// GetClientByNick looks up a registered user by nickname, case-folded per
// RFC 1459 (testable property 8).
func (db *ClientDatabase) GetClientByNick(nick string) (*Client, bool) {
	uuid, ok := db.nicks[canonicalizeNick(nick)]
	if !ok {
		return nil, false
	}
	return db.GetClient(uuid)
}

// GetUser is an alias for GetClientByNick kept to mirror spec.md's naming;
// it returns a user only (never a server), which the nicks index already
// guarantees since only registered users are indexed there.
func (db *ClientDatabase) GetUser(nick string) (*Client, bool) {
	return db.GetClientByNick(nick)
}

// GetServer looks up a registered server by name.
func (db *ClientDatabase) GetServer(name string) (*Client, bool) {
	uuid, ok := db.servers[canonicalizeNick(name)]
	if !ok {
		return nil, false
	}
	return db.GetClient(uuid)
}

// NicknameAvailable reports whether nick is free to claim, used both before
// registration completes and before a nickname change.
func (db *ClientDatabase) NicknameAvailable(nick string) bool {
	_, taken := db.nicks[canonicalizeNick(nick)]
	return !taken
}

// ServerNameAvailable reports whether name is free for SERVER registration.
func (db *ClientDatabase) ServerNameAvailable(name string) bool {
	_, taken := db.servers[canonicalizeNick(name)]
	return !taken
}

// RegisterLocalUser promotes an Unregistered client (with both NICK and
// USER already received) to KindLocalUser. It fails with
// ErrUnableToRegister if registration isn't ready, or ErrNicknameInUse if
// the pending nickname was claimed by someone else in the meantime.
func (db *ClientDatabase) RegisterLocalUser(uuid UUID) error {
	c, ok := db.clients[uuid]
	if !ok {
		return errors.Wrapf(ErrUnknownClient, "uuid %s", uuid)
	}
	if c.State != StateUnregistered || c.Kind != KindUnknown {
		return errors.Wrap(ErrUnableToRegister, "client already registered")
	}
	if !c.readyToRegisterUser() {
		return errors.Wrap(ErrUnableToRegister, "nick/user not both supplied")
	}

	canon := canonicalizeNick(c.pendingNick)
	if _, exists := db.nicks[canon]; exists {
		return errors.Wrapf(ErrNicknameInUse, "%s", c.pendingNick)
	}

	c.LocalUser = newLocalUserInfo(c.pendingNick, c.pendingUser, c.pendingRealName, c.RemoteAddr)
	c.Kind = KindLocalUser
	c.State = StateRegistered
	db.nicks[canon] = uuid
	return nil
}

// RegisterLocalServer promotes an Unregistered client to KindLocalServer.
// It fails with ErrUnableToRegister if name is already taken.
func (db *ClientDatabase) RegisterLocalServer(name string, uuid UUID, hopCount int, info string) error {
	c, ok := db.clients[uuid]
	if !ok {
		return errors.Wrapf(ErrUnknownClient, "uuid %s", uuid)
	}

	canon := canonicalizeNick(name)
	if _, exists := db.servers[canon]; exists {
		return errors.Wrapf(ErrUnableToRegister, "server name %s in use", name)
	}

	c.LocalServer = &LocalServerInfo{ServerName: name, HopCount: hopCount, Info: info}
	c.Kind = KindLocalServer
	c.State = StateRegistered
	db.servers[canon] = uuid
	return nil
}

// AddRemoteServer allocates a new UUID and adds a RemoteServer client,
// introduced to us by introducer. It fails with ErrUnableToRegister if the
// name is already in use.
func (db *ClientDatabase) AddRemoteServer(name string, introducer UUID, hopCount int, info string) (*Client, error) {
	canon := canonicalizeNick(name)
	if _, exists := db.servers[canon]; exists {
		return nil, errors.Wrapf(ErrUnableToRegister, "server name %s in use", name)
	}

	uuid := db.uuids.Next()
	c := &Client{
		UUID:  uuid,
		State: StateRegistered,
		Kind:  KindRemoteServer,
		RemoteServer: &RemoteServerInfo{
			ServerName: name,
			HopCount:   hopCount,
			Info:       info,
			Introducer: introducer,
		},
	}
	db.clients[uuid] = c
	db.servers[canon] = uuid
	return c, nil
}

// RenameUser atomically moves a registered user's nickname-index entry.
// Lookups never observe a state where both the old and new nick resolve to
// the user, or where neither does.
func (db *ClientDatabase) RenameUser(uuid UUID, newNick string) error {
	c, ok := db.clients[uuid]
	if !ok || !c.IsUser() {
		return errors.Wrapf(ErrUnknownClient, "uuid %s", uuid)
	}

	canonNew := canonicalizeNick(newNick)
	if existing, exists := db.nicks[canonNew]; exists && existing != uuid {
		return errors.Wrapf(ErrNicknameInUse, "%s", newNick)
	}

	oldCanon := canonicalizeNick(c.Nickname())
	delete(db.nicks, oldCanon)
	c.setNickname(newNick)
	db.nicks[canonNew] = uuid
	return nil
}

// DisconnectClient removes uuid from every index and closes its socket. It
// is idempotent: disconnecting an unknown UUID is silently a no-op.
func (db *ClientDatabase) DisconnectClient(uuid UUID) {
	c, ok := db.clients[uuid]
	if !ok {
		return
	}

	switch c.Kind {
	case KindLocalUser, KindRemoteUser:
		delete(db.nicks, canonicalizeNick(c.Nickname()))
	case KindLocalServer, KindRemoteServer:
		delete(db.servers, canonicalizeNick(c.ServerName()))
	}

	if c.Socket != nil {
		_ = c.Socket.Close()
	}
	delete(db.clients, uuid)
}

// DisconnectUser is DisconnectClient restricted to user clients; a no-op if
// uuid isn't a user.
func (db *ClientDatabase) DisconnectUser(uuid UUID) {
	if c, ok := db.clients[uuid]; ok && !c.IsUser() {
		return
	}
	db.DisconnectClient(uuid)
}

// DisconnectServer is DisconnectClient restricted to server clients; a
// no-op if uuid isn't a server.
func (db *ClientDatabase) DisconnectServer(uuid UUID) {
	if c, ok := db.clients[uuid]; ok && !c.IsServer() {
		return
	}
	db.DisconnectClient(uuid)
}

// BroadcastToLocalServers enqueues line on every directly-connected peer
// server except the one given (pass 0 to exclude none).
func (db *ClientDatabase) BroadcastToLocalServers(line string, except UUID) {
	for uuid, c := range db.clients {
		if c.Kind != KindLocalServer {
			continue
		}
		if uuid == except {
			continue
		}
		_ = c.Push(line)
	}
}
