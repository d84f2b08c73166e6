package main

// ChannelDatabase is the exclusive owner of every Channel, keyed by
// case-folded name. A channel with zero members may be destroyed to
// release its name, per spec.md §3's policy.
type ChannelDatabase struct {
	channels map[string]*Channel
}

// NewChannelDatabase creates an empty database.
func NewChannelDatabase() *ChannelDatabase {
	return &ChannelDatabase{channels: make(map[string]*Channel)}
}

// GetChannel looks up a channel by name, case-insensitively.
func (db *ChannelDatabase) GetChannel(name string) (*Channel, bool) {
	ch, ok := db.channels[canonicalizeChannel(name)]
	return ch, ok
}

// CreateChannel returns the existing channel for name if one exists
// (per spec.md §4.5: "Creating an existing name returns the existing
// channel"), otherwise creates and stores a new one.
func (db *ChannelDatabase) CreateChannel(name, key string, kind ChannelType, modes ChannelModes) *Channel {
	canon := canonicalizeChannel(name)
	if ch, ok := db.channels[canon]; ok {
		return ch
	}
	ch := NewChannel(name, key, kind, modes)
	db.channels[canon] = ch
	return ch
}

// DestroyChannel removes a channel by name. Idempotent.
func (db *ChannelDatabase) DestroyChannel(name string) {
	delete(db.channels, canonicalizeChannel(name))
}

// NotifyAndRemoveMember removes uuid from every channel it belongs to,
// pushing line (a pre-built QUIT line) to every other local member of each
// such channel first, and destroying any channel left empty.
func (db *ChannelDatabase) NotifyAndRemoveMember(clients *ClientDatabase, uuid UUID, line string) {
	for canon, ch := range db.channels {
		if !ch.HasUser(uuid) {
			continue
		}
		ch.PushToLocal(clients, line, uuid)
		ch.RemoveUser(uuid)
		if ch.Empty() {
			delete(db.channels, canon)
		}
	}
}

// RemoveMemberEverywhere removes uuid from every channel's membership,
// destroying any channel left with zero members. Called when a client
// disconnects or is killed (testable property 9).
func (db *ChannelDatabase) RemoveMemberEverywhere(uuid UUID) {
	for canon, ch := range db.channels {
		if ch.RemoveUser(uuid) && ch.Empty() {
			delete(db.channels, canon)
		}
	}
}
