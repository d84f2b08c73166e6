package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageBasic(t *testing.T) {
	msg, err := ParseMessage("NICK alice")
	require.NoError(t, err)
	assert.Nil(t, msg.Prefix)
	assert.Equal(t, "NICK", msg.Command.Name)
	assert.Equal(t, []string{"alice"}, msg.Command.Parameters)
	assert.False(t, msg.Command.HasTrailing())
}

func TestParseMessagePrefixOrder(t *testing.T) {
	msg, err := ParseMessage(":nick!user@host PRIVMSG #chan :hello there")
	require.NoError(t, err)
	require.NotNil(t, msg.Prefix)
	assert.Equal(t, "nick", msg.Prefix.Name)
	assert.Equal(t, "user", msg.Prefix.Username)
	assert.Equal(t, "host", msg.Prefix.Hostname)
	assert.True(t, msg.Prefix.HasUsername())
	assert.True(t, msg.Prefix.HasHostname())
	assert.Equal(t, "PRIVMSG", msg.Command.Name)
	assert.Equal(t, []string{"#chan"}, msg.Command.Parameters)
	assert.Equal(t, "hello there", msg.Command.Trailing)
	assert.True(t, msg.Command.HasTrailing())
}

func TestParseMessagePrefixNameOnly(t *testing.T) {
	msg, err := ParseMessage(":irc.example.org NOTICE * :server notice")
	require.NoError(t, err)
	require.NotNil(t, msg.Prefix)
	assert.Equal(t, "irc.example.org", msg.Prefix.Name)
	assert.False(t, msg.Prefix.HasUsername())
	assert.False(t, msg.Prefix.HasHostname())
}

func TestParseMessageNumericCommand(t *testing.T) {
	msg, err := ParseMessage(":irc.example.org 001 alice :Welcome")
	require.NoError(t, err)
	assert.Equal(t, "001", msg.Command.Name)
}

func TestParseMessageRejectsFourDigitNumeric(t *testing.T) {
	_, err := ParseMessage(":irc.example.org 0011 alice :Welcome")
	assert.Error(t, err)
}

func TestParseMessageRejectsTrailingGarbage(t *testing.T) {
	_, err := ParseMessage("NICK alice extra:stuff\x00")
	assert.Error(t, err)
}

func TestParseMessageEmptyTrailingIsDistinctFromAbsent(t *testing.T) {
	withTrailing, err := ParseMessage("TOPIC #chan :")
	require.NoError(t, err)
	assert.True(t, withTrailing.Command.HasTrailing())
	assert.Equal(t, "", withTrailing.Command.Trailing)

	withoutTrailing, err := ParseMessage("TOPIC #chan")
	require.NoError(t, err)
	assert.False(t, withoutTrailing.Command.HasTrailing())
}

func TestParseMessagePING(t *testing.T) {
	msg, err := ParseMessage("PING :hello")
	require.NoError(t, err)
	assert.Equal(t, "PING", msg.Command.Name)
	assert.Empty(t, msg.Command.Parameters)
	assert.Equal(t, "hello", msg.Command.Trailing)
}

func TestParseMessageMiddleNeverStartsWithColon(t *testing.T) {
	msg, err := ParseMessage("X : y")
	require.NoError(t, err)
	assert.Empty(t, msg.Command.Parameters)
	assert.Equal(t, " y", msg.Command.Trailing)
}

func TestSerializeRoundTrip(t *testing.T) {
	lines := []string{
		"NICK alice",
		":alice!a@b PRIVMSG #chan :hi there",
		":irc.example.org 001 alice :Welcome to the network",
	}
	for _, line := range lines {
		msg, err := ParseMessage(line)
		require.NoError(t, err, line)
		out, err := msg.Serialize()
		require.NoError(t, err, line)
		assert.Equal(t, line, out)
	}
}

func TestSerializeRejectsInvalidMiddleParameter(t *testing.T) {
	msg := RawMessage{Command: Command{Name: "PRIVMSG", Parameters: []string{"has space"}}}
	_, err := msg.Serialize()
	assert.Error(t, err)
}

func TestNewPrefixOmitsEmptyFields(t *testing.T) {
	p := NewPrefix("irc.example.org", "", "")
	assert.False(t, p.HasUsername())
	assert.False(t, p.HasHostname())

	p2 := NewPrefix("alice", "a", "host")
	assert.True(t, p2.HasUsername())
	assert.True(t, p2.HasHostname())
}
