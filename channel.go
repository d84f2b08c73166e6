package main

import (
	"sort"
	"strings"
)

// ChannelType distinguishes a channel scoped to this server from one shared
// across the network. Only ChannelNetwork channels are ever created in the
// current command set (no local-only channel command exists), but the
// distinction is carried per spec.md §3's `type ∈ {Local, Network}`.
type ChannelType int

const (
	ChannelNetwork ChannelType = iota
	ChannelLocal
)

// ChannelModes is a bitset of the channel modes this server tracks. Only
// ModeTopicLocked and ModeNoExternalMessages are enforced by command
// handlers; ModeSecret and ModeInviteOnly round-trip through MODE but are
// not enforced — carried forward from the source material
// as an explicit, named gap rather than a silent omission.
type ChannelModes uint8

const ModeNone ChannelModes = 0

const (
	ModeSecret             ChannelModes = 1 << iota // +s
	ModeInviteOnly                                  // +i
	ModeTopicLocked                                  // +t
	ModeNoExternalMessages                           // +n
)

func (m ChannelModes) Has(flag ChannelModes) bool { return m&flag != 0 }

// String renders the mode set in "+tn"-style form, for numeric replies and
// MODE queries.
func (m ChannelModes) String() string {
	if m == ModeNone {
		return ""
	}
	var b strings.Builder
	b.WriteByte('+')
	if m.Has(ModeSecret) {
		b.WriteByte('s')
	}
	if m.Has(ModeInviteOnly) {
		b.WriteByte('i')
	}
	if m.Has(ModeTopicLocked) {
		b.WriteByte('t')
	}
	if m.Has(ModeNoExternalMessages) {
		b.WriteByte('n')
	}
	return b.String()
}

// MemberPrivilege is a per-member bitset of channel privileges. It
// supplements spec.md's bare member set with the op/voice sigils
// getUserListAsString already implies.
type MemberPrivilege uint8

const PrivNone MemberPrivilege = 0

const (
	PrivOp MemberPrivilege = 1 << iota
	PrivVoice
)

// Channel holds everything to do with one named chat room. It never owns
// its members: Members stores only UUIDs, resolved against a
// ClientDatabase at iteration time, per spec.md §9's "Channel ↔ User"
// design note.
type Channel struct {
	Name  string
	Topic string
	Key   string
	Modes ChannelModes
	Type  ChannelType

	Members map[UUID]MemberPrivilege
}

// NewChannel creates an empty channel with no members. It grants no
// privileges itself; joinCommand makes the first joiner an operator.
func NewChannel(name, key string, kind ChannelType, modes ChannelModes) *Channel {
	return &Channel{
		Name:    name,
		Key:     key,
		Type:    kind,
		Modes:   modes,
		Members: make(map[UUID]MemberPrivilege),
	}
}

// AddUser adds uuid as a member with the given starting privilege.
func (ch *Channel) AddUser(uuid UUID, priv MemberPrivilege) {
	ch.Members[uuid] = priv
}

// RemoveUser removes uuid from the membership set. It reports whether uuid
// was a member.
func (ch *Channel) RemoveUser(uuid UUID) bool {
	if _, ok := ch.Members[uuid]; !ok {
		return false
	}
	delete(ch.Members, uuid)
	return true
}

// HasUser reports membership without removing anything.
func (ch *Channel) HasUser(uuid UUID) bool {
	_, ok := ch.Members[uuid]
	return ok
}

// Empty reports whether the channel has no members, at which point
// ChannelDatabase policy is to destroy it and release the name.
func (ch *Channel) Empty() bool {
	return len(ch.Members) == 0
}

// GetUserListAsString renders the membership as a space-separated,
// deterministically ordered list of nicknames, each prefixed by '@' (op) or
// '+' (voice) where applicable. Stale UUIDs (members disconnected since the
// last traversal but not yet pruned) are silently skipped, per spec.md §9.
func (ch *Channel) GetUserListAsString(db *ClientDatabase) string {
	type entry struct {
		nick string
		priv MemberPrivilege
	}
	var entries []entry
	for uuid, priv := range ch.Members {
		client, ok := db.GetClient(uuid)
		if !ok || !client.IsUser() {
			continue
		}
		nick := client.Nickname()
		if nick == "" {
			continue
		}
		entries = append(entries, entry{nick: nick, priv: priv})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].nick < entries[j].nick })

	names := make([]string, len(entries))
	for i, e := range entries {
		switch {
		case e.priv&PrivOp != 0:
			names[i] = "@" + e.nick
		case e.priv&PrivVoice != 0:
			names[i] = "+" + e.nick
		default:
			names[i] = e.nick
		}
	}
	return strings.Join(names, " ")
}

// PushToLocal delivers line to every local (directly-connected) user
// member, skipping except if it's non-zero. Remote members have no local
// socket to push onto; they receive the event through their own server's
// broadcast instead.
func (ch *Channel) PushToLocal(db *ClientDatabase, line string, except UUID) {
	for uuid := range ch.Members {
		if uuid == except {
			continue
		}
		client, ok := db.GetClient(uuid)
		if !ok || client.Kind != KindLocalUser {
			continue
		}
		_ = client.Push(line)
	}
}
