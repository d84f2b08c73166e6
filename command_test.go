package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIRCd(t *testing.T) *IRCd {
	t.Helper()
	ird, err := newIRCd(&Config{
		ServerName:    "irc.example.org",
		ServerInfo:    "test server",
		Version:       "test",
		CreatedDate:   "2026-01-01",
		MaxNickLength: defaultMaxNickLength,
		MaxRetries:    3,
	})
	require.NoError(t, err)
	return ird
}

func dispatchLine(t *testing.T, ird *IRCd, uuid UUID, line string) {
	t.Helper()
	raw, err := ParseMessage(line)
	require.NoError(t, err, line)
	ird.Dispatch(uuid, raw)
}

func registerIRCdUser(t *testing.T, ird *IRCd, nick, user string) *Client {
	t.Helper()
	c := ird.clients.NewAcceptedClient(nil, "127.0.0.1")
	dispatchLine(t, ird, c.UUID, "NICK "+nick)
	dispatchLine(t, ird, c.UUID, "USER "+user+" 0 * :Real Name")
	require.Equal(t, StateRegistered, c.State)
	c.DrainOutbound() // discard the registration burst
	return c
}

// (a) :alice JOIN #room with Alice unregistered -> Alice receives 451.
func TestScenarioJoinBeforeRegistration(t *testing.T) {
	ird := newTestIRCd(t)
	alice := ird.clients.NewAcceptedClient(nil, "127.0.0.1")

	dispatchLine(t, ird, alice.UUID, "JOIN #room")

	lines := alice.DrainOutbound()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "451")
}

// (b) Registered Alice sends JOIN #room secret, channel absent -> channel
// created with key "secret"; Alice receives the JOIN echo, 332, 353, then
// 366.
func TestScenarioJoinCreatesChannelWithKey(t *testing.T) {
	ird := newTestIRCd(t)
	alice := registerIRCdUser(t, ird, "alice", "alice")

	dispatchLine(t, ird, alice.UUID, "JOIN #room secret")

	lines := alice.DrainOutbound()
	require.Len(t, lines, 4)
	assert.Equal(t, ":alice!alice@127.0.0.1 JOIN #room", lines[0])
	assert.Contains(t, lines[1], "332")
	assert.Contains(t, lines[2], "353")
	assert.Contains(t, lines[3], "366")

	ch, ok := ird.channels.GetChannel("#room")
	require.True(t, ok)
	assert.Equal(t, "secret", ch.Key)
	assert.True(t, ch.HasUser(alice.UUID))
}

// (c) Registered Bob sends JOIN #room wrong where the key is "secret" ->
// Bob receives 475; channel membership unchanged.
func TestScenarioJoinWrongKeyRejected(t *testing.T) {
	ird := newTestIRCd(t)
	alice := registerIRCdUser(t, ird, "alice", "alice")
	dispatchLine(t, ird, alice.UUID, "JOIN #room secret")
	alice.DrainOutbound()

	bob := registerIRCdUser(t, ird, "bob", "bob")
	dispatchLine(t, ird, bob.UUID, "JOIN #room wrong")

	lines := bob.DrainOutbound()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "475")

	ch, ok := ird.channels.GetChannel("#room")
	require.True(t, ok)
	assert.False(t, ch.HasUser(bob.UUID))
}

// (d) Alice and Bob both in #room; Bob sends PART #room :bye -> Alice
// receives the PART line; Bob is no longer a member; Alice's membership is
// unchanged.
func TestScenarioPartNotifiesRemainingMember(t *testing.T) {
	ird := newTestIRCd(t)
	alice := registerIRCdUser(t, ird, "alice", "alice")
	dispatchLine(t, ird, alice.UUID, "JOIN #room")
	alice.DrainOutbound()

	bob := registerIRCdUser(t, ird, "bob", "bob")
	dispatchLine(t, ird, bob.UUID, "JOIN #room")
	alice.DrainOutbound()
	bob.DrainOutbound()

	dispatchLine(t, ird, bob.UUID, "PART #room :bye")

	lines := alice.DrainOutbound()
	require.Len(t, lines, 1)
	assert.Equal(t, ":bob!bob@127.0.0.1 PART #room :bye", lines[0])

	ch, ok := ird.channels.GetChannel("#room")
	require.True(t, ok)
	assert.False(t, ch.HasUser(bob.UUID))
	assert.True(t, ch.HasUser(alice.UUID))
}

// (e) Unregistered peer sends SERVER other.net 1 :hi with no existing
// server by that name -> peer promoted to LocalServer other.net.
func TestScenarioServerRegistersLocalServer(t *testing.T) {
	ird := newTestIRCd(t)
	peer := ird.clients.NewAcceptedClient(nil, "10.0.0.1")

	dispatchLine(t, ird, peer.UUID, "SERVER other.net 1 :hi")

	assert.Equal(t, KindLocalServer, peer.Kind)
	assert.Equal(t, StateRegistered, peer.State)
	assert.Equal(t, "other.net", peer.ServerName())
}

// (f) With other.net already registered, a second connection sends SERVER
// other.net 2 :dup -> that sender is disconnected (duplicate-name policy).
func TestScenarioDuplicateServerNameDisconnects(t *testing.T) {
	ird := newTestIRCd(t)
	first := ird.clients.NewAcceptedClient(nil, "10.0.0.1")
	dispatchLine(t, ird, first.UUID, "SERVER other.net 1 :hi")

	second := ird.clients.NewAcceptedClient(nil, "10.0.0.2")
	dispatchLine(t, ird, second.UUID, "SERVER other.net 2 :dup")

	_, stillThere := ird.clients.GetClient(second.UUID)
	assert.False(t, stillThere)
}

// (g) Any sender sends PING :x -> reply line PONG :x is enqueued on the
// sender before the next reactor tick.
func TestScenarioPingRepliesWithLiteralPong(t *testing.T) {
	ird := newTestIRCd(t)
	alice := ird.clients.NewAcceptedClient(nil, "127.0.0.1")

	dispatchLine(t, ird, alice.UUID, "PING :x")

	lines := alice.DrainOutbound()
	require.Len(t, lines, 1)
	assert.Equal(t, "PONG :x", lines[0])
}
