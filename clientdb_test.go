package main

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerTestUser(t *testing.T, db *ClientDatabase, nick, user string) *Client {
	t.Helper()
	c := db.NewAcceptedClient(nil, "127.0.0.1")
	c.setPendingNick(nick)
	c.setPendingUser(user, "Real Name")
	require.NoError(t, db.RegisterLocalUser(c.UUID))
	return c
}

func TestAddClientDuplicateUUID(t *testing.T) {
	db := NewClientDatabase(NewUUIDSource())
	c := &Client{UUID: UUID(1)}
	require.NoError(t, db.AddClient(c))

	err := db.AddClient(&Client{UUID: UUID(1)})
	assert.Equal(t, ErrDuplicateClient, errors.Cause(err))
}

func TestGetClientByNickIsCaseFolded(t *testing.T) {
	db := NewClientDatabase(NewUUIDSource())
	c := registerTestUser(t, db, "Alice", "alice")

	found, ok := db.GetClientByNick("ALICE")
	require.True(t, ok)
	assert.Equal(t, c.UUID, found.UUID)

	found2, ok := db.GetClientByNick("alic[e")
	assert.False(t, ok)
	assert.Nil(t, found2)
}

func TestRFC1459FoldingTreatsBracesAndBraces(t *testing.T) {
	db := NewClientDatabase(NewUUIDSource())
	registerTestUser(t, db, "A{B}", "a")

	_, ok := db.GetClientByNick("A[B]")
	assert.True(t, ok)
}

func TestRenameUserIsAtomic(t *testing.T) {
	db := NewClientDatabase(NewUUIDSource())
	c := registerTestUser(t, db, "alice", "alice")

	require.NoError(t, db.RenameUser(c.UUID, "alicia"))

	_, stillOld := db.GetClientByNick("alice")
	assert.False(t, stillOld)

	found, ok := db.GetClientByNick("alicia")
	require.True(t, ok)
	assert.Equal(t, c.UUID, found.UUID)
}

func TestRenameUserRejectsCollision(t *testing.T) {
	db := NewClientDatabase(NewUUIDSource())
	registerTestUser(t, db, "alice", "alice")
	bob := registerTestUser(t, db, "bob", "bob")

	err := db.RenameUser(bob.UUID, "alice")
	assert.Equal(t, ErrNicknameInUse, errors.Cause(err))

	found, ok := db.GetClientByNick("bob")
	require.True(t, ok)
	assert.Equal(t, bob.UUID, found.UUID)
}

func TestDisconnectClientRemovesFromEveryIndex(t *testing.T) {
	db := NewClientDatabase(NewUUIDSource())
	c := registerTestUser(t, db, "alice", "alice")

	db.DisconnectClient(c.UUID)

	_, ok := db.GetClient(c.UUID)
	assert.False(t, ok)
	_, ok = db.GetClientByNick("alice")
	assert.False(t, ok)
}

func TestDisconnectClientIsIdempotent(t *testing.T) {
	db := NewClientDatabase(NewUUIDSource())
	db.DisconnectClient(UUID(999))
}
