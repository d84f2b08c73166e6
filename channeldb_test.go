package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChannelReturnsExisting(t *testing.T) {
	db := NewChannelDatabase()
	ch1 := db.CreateChannel("#chan", "", ChannelNetwork, ModeNone)
	ch1.Topic = "already set"

	ch2 := db.CreateChannel("#CHAN", "", ChannelNetwork, ModeNone)
	assert.Same(t, ch1, ch2)
	assert.Equal(t, "already set", ch2.Topic)
}

func TestRemoveMemberEverywhereDestroysEmptyChannels(t *testing.T) {
	db := NewChannelDatabase()
	ch := db.CreateChannel("#chan", "", ChannelNetwork, ModeNone)
	ch.AddUser(UUID(1), PrivOp)

	db.RemoveMemberEverywhere(UUID(1))

	_, ok := db.GetChannel("#chan")
	assert.False(t, ok)
}

func TestRemoveMemberEverywhereKeepsNonEmptyChannels(t *testing.T) {
	db := NewChannelDatabase()
	ch := db.CreateChannel("#chan", "", ChannelNetwork, ModeNone)
	ch.AddUser(UUID(1), PrivOp)
	ch.AddUser(UUID(2), PrivNone)

	db.RemoveMemberEverywhere(UUID(1))

	found, ok := db.GetChannel("#chan")
	require.True(t, ok)
	assert.False(t, found.HasUser(UUID(1)))
	assert.True(t, found.HasUser(UUID(2)))
}

func TestNotifyAndRemoveMemberPushesToOthersNotSelf(t *testing.T) {
	clientsDB := NewClientDatabase(NewUUIDSource())
	leaving := registerTestUser(t, clientsDB, "alice", "alice")
	staying := registerTestUser(t, clientsDB, "bob", "bob")

	chans := NewChannelDatabase()
	ch := chans.CreateChannel("#chan", "", ChannelNetwork, ModeNone)
	ch.AddUser(leaving.UUID, PrivNone)
	ch.AddUser(staying.UUID, PrivNone)

	chans.NotifyAndRemoveMember(clientsDB, leaving.UUID, "QUIT line")

	assert.Equal(t, []string{"QUIT line"}, staying.DrainOutbound())
	assert.Empty(t, leaving.DrainOutbound())

	found, ok := chans.GetChannel("#chan")
	require.True(t, ok)
	assert.False(t, found.HasUser(leaving.UUID))
}

func TestGetUserListAsStringSortsAndMarksPrivilege(t *testing.T) {
	clientsDB := NewClientDatabase(NewUUIDSource())
	op := registerTestUser(t, clientsDB, "zed", "zed")
	voiced := registerTestUser(t, clientsDB, "amy", "amy")

	ch := NewChannel("#chan", "", ChannelNetwork, ModeNone)
	ch.AddUser(op.UUID, PrivOp)
	ch.AddUser(voiced.UUID, PrivVoice)

	assert.Equal(t, "+amy @zed", ch.GetUserListAsString(clientsDB))
}

func TestGetUserListAsStringSkipsStaleUUID(t *testing.T) {
	clientsDB := NewClientDatabase(NewUUIDSource())
	ch := NewChannel("#chan", "", ChannelNetwork, ModeNone)
	ch.AddUser(UUID(404), PrivNone)

	assert.Equal(t, "", ch.GetUserListAsString(clientsDB))
}
