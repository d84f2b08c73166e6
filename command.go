package main

import (
	"fmt"
	"log"
	"strconv"
	"strings"
)

// ircdVersion is reported in RPL_YOURHOST/RPL_MYINFO.
const ircdVersion = "ftircd-0.1"

// preRegistrationCommands lists the only commands an Unregistered client
// may send, per spec.md §4.6's dispatcher preamble.
var preRegistrationCommands = map[string]bool{
	"PASS":   true,
	"NICK":   true,
	"USER":   true,
	"SERVER": true,
	"PING":   true,
	"QUIT":   true,
}

// handlerFunc is one command's implementation. It receives the sender
// (already looked up) and the parsed message, and is responsible for every
// reply/broadcast the command produces; it never returns an error; cases
// that used to be exceptional (duplicate UUID, unable-to-register) are
// converted to a numeric reply or a disconnect within the handler itself,
// matching spec.md §7's propagation rule.
type handlerFunc func(ird *IRCd, sender *Client, msg RawMessage)

// commandHandlers is the dispatch table keyed by uppercased command name.
var commandHandlers = map[string]handlerFunc{
	"PASS":    passCommand,
	"NICK":    nickCommand,
	"USER":    userCommand,
	"QUIT":    quitCommand,
	"PING":    pingCommand,
	"PONG":    pongCommand,
	"JOIN":    joinCommand,
	"PART":    partCommand,
	"PRIVMSG": privmsgCommand,
	"NOTICE":  noticeCommand,
	"SERVER":  serverCommand,
	"KILL":    killCommand,
	"MODE":    modeCommand,
	"TOPIC":   topicCommand,
	"WHO":     whoCommand,
	"NAMES":   namesCommand,
	"LUSERS":  lusersCommand,
	"MOTD":    motdCommand,
}

// Dispatch implements the common preamble of spec.md §4.6 and then hands
// off to the command's handler.
func (ird *IRCd) Dispatch(uuid UUID, raw RawMessage) {
	sender, ok := ird.clients.GetClient(uuid)
	if !ok {
		// Sender disconnected between the reactor reading the line and the
		// loop parsing/dispatching it.
		return
	}

	handler, known := commandHandlers[raw.Command.Name]
	if !known {
		ird.numeric(sender, "421", []string{raw.Command.Name}, "Unknown command")
		return
	}

	if sender.State == StateUnregistered && !preRegistrationCommands[raw.Command.Name] {
		ird.numeric(sender, "451", nil, "You have not registered")
		return
	}

	handler(ird, sender, raw)
}

// numeric sends a server-origin numeric reply. args become middle
// parameters after the target's display name; trailing is always sent as
// the trailing parameter (numerics in this server always carry a
// human-readable tail, even if empty, matching scenario (b)'s "332 (topic
// empty)").
func (ird *IRCd) numeric(target *Client, code string, args []string, trailing string) {
	name := target.Nickname()
	if name == "" {
		name = "*"
	}
	params := append([]string{name}, args...)
	msg := RawMessage{
		Prefix: NewPrefix(ird.config.ServerName, "", ""),
		Command: Command{
			Name:        code,
			Parameters:  params,
			Trailing:    trailing,
			hasTrailing: true,
		},
	}
	ird.deliver(target, msg)
}

// prefixFor builds the prefix a message from c should carry.
func (ird *IRCd) prefixFor(c *Client) *Prefix {
	switch c.Kind {
	case KindLocalUser:
		return NewPrefix(c.LocalUser.Nickname, c.LocalUser.Username, c.LocalUser.Hostname)
	case KindRemoteUser:
		return NewPrefix(c.RemoteUser.Nickname, c.RemoteUser.Username, c.RemoteUser.Hostname)
	case KindLocalServer:
		return NewPrefix(c.LocalServer.ServerName, "", "")
	case KindRemoteServer:
		return NewPrefix(c.RemoteServer.ServerName, "", "")
	default:
		return nil
	}
}

// lineFrom serializes a command as if sent by c, for broadcast to other
// clients (JOIN/PART/QUIT/NICK/PRIVMSG lines). hasTrailing distinguishes
// "no trailing parameter" from "trailing parameter that happens to be
// empty."
func (ird *IRCd) lineFrom(c *Client, command string, params []string, trailing string, hasTrailing bool) string {
	msg := RawMessage{
		Prefix: ird.prefixFor(c),
		Command: Command{
			Name:        command,
			Parameters:  params,
			Trailing:    trailing,
			hasTrailing: hasTrailing,
		},
	}
	line, err := msg.Serialize()
	if err != nil {
		log.Printf("ircd: problem building outgoing %s: %s", command, err)
		return ""
	}
	return line
}

// deliver serializes msg and pushes it onto target's outbound buffer,
// logging and marking the client a slow consumer if the queue is full.
func (ird *IRCd) deliver(target *Client, msg RawMessage) {
	line, err := msg.Serialize()
	if err != nil {
		log.Printf("ircd: problem serializing outgoing message: %s", err)
		return
	}
	if err := target.Push(line); err != nil {
		log.Printf("ircd: %s", err)
		ird.disconnectClient(target.UUID, "Max outbound queue length exceeded")
	}
}

// disconnectClient is the single path for tearing a client down: it sends
// a best-effort ERROR line, notifies channel co-members and peer servers
// if the departing client was a user, then removes it from every index.
func (ird *IRCd) disconnectClient(uuid UUID, reason string) {
	client, ok := ird.clients.GetClient(uuid)
	if !ok {
		return
	}

	if client.Socket != nil {
		errMsg := RawMessage{Command: Command{Name: "ERROR", Trailing: reason, hasTrailing: true}}
		if line, err := errMsg.Serialize(); err == nil {
			_, _ = client.Socket.Send([]byte(line + "\r\n"))
		}
	}

	if client.IsUser() {
		quitLine := ird.lineFrom(client, "QUIT", nil, reason, true)
		ird.channels.NotifyAndRemoveMember(ird.clients, uuid, quitLine)
		ird.clients.BroadcastToLocalServers(quitLine, 0)
	} else {
		ird.channels.RemoveMemberEverywhere(uuid)
	}

	ird.reactor.ForgetClient(uuid)
	ird.clients.DisconnectClient(uuid)
}

// completeUserRegistration promotes a client once both NICK and USER have
// arrived, then sends the registration burst (001-004, LUSERS, MOTD) per
// client.go's completeRegistration in the teacher.
func (ird *IRCd) completeUserRegistration(c *Client) {
	if err := ird.clients.RegisterLocalUser(c.UUID); err != nil {
		ird.disconnectClient(c.UUID, err.Error())
		return
	}

	ird.numeric(c, "001", nil, fmt.Sprintf("Welcome to the Internet Relay Network %s", c.nickUhost()))
	ird.numeric(c, "002", nil, fmt.Sprintf("Your host is %s, running version %s", ird.config.ServerName, ircdVersion))
	ird.numeric(c, "003", nil, fmt.Sprintf("This server was created %s", ird.config.CreatedDate))
	ird.numeric(c, "004", []string{ird.config.ServerName, ircdVersion, "o", "ntsi"}, "")

	lusersCommand(ird, c, RawMessage{})
	motdCommand(ird, c, RawMessage{})
}

// passCommand accepts and discards PASS. This server has no link-password
// policy of its own (out of scope); PASS is recognized only so it doesn't
// trip the pre-registration 451 rejection.
func passCommand(ird *IRCd, sender *Client, msg RawMessage) {}

func nickCommand(ird *IRCd, sender *Client, msg RawMessage) {
	if len(msg.Command.Parameters) < 1 {
		ird.numeric(sender, "431", nil, "No nickname given")
		return
	}
	nick := msg.Command.Parameters[0]

	maxLen := ird.config.MaxNickLength
	if !isValidNick(maxLen, nick) {
		ird.numeric(sender, "432", []string{nick}, "Erroneous nickname")
		return
	}

	if existing, ok := ird.clients.GetClientByNick(nick); ok && existing.UUID != sender.UUID {
		ird.numeric(sender, "433", []string{nick}, "Nickname is already in use")
		return
	}

	switch {
	case sender.State == StateUnregistered:
		sender.setPendingNick(nick)
		if sender.readyToRegisterUser() {
			ird.completeUserRegistration(sender)
		}

	case sender.IsUser():
		oldPrefix := ird.prefixFor(sender)
		if err := ird.clients.RenameUser(sender.UUID, nick); err != nil {
			ird.numeric(sender, "433", []string{nick}, "Nickname is already in use")
			return
		}
		nickMsg := RawMessage{Prefix: oldPrefix, Command: Command{Name: "NICK", Parameters: []string{nick}}}
		line, err := nickMsg.Serialize()
		if err != nil {
			return
		}
		_ = sender.Push(line)
		if sender.Kind == KindLocalUser {
			informed := make(map[string]bool)
			for chName := range sender.LocalUser.Channels {
				ch, ok := ird.channels.GetChannel(chName)
				if !ok || informed[chName] {
					continue
				}
				ch.PushToLocal(ird.clients, line, sender.UUID)
				informed[chName] = true
			}
		}
	}
}

func userCommand(ird *IRCd, sender *Client, msg RawMessage) {
	if sender.State == StateRegistered {
		ird.numeric(sender, "462", nil, "You may not reregister")
		return
	}
	if len(msg.Command.Parameters) < 3 {
		ird.numeric(sender, "461", []string{"USER"}, "Not enough parameters")
		return
	}

	username := msg.Command.Parameters[0]
	if !isValidUser(len(username), username) {
		ird.numeric(sender, "461", []string{"USER"}, "Invalid username")
		return
	}

	sender.setPendingUser(username, msg.Command.Trailing)
	if sender.readyToRegisterUser() {
		ird.completeUserRegistration(sender)
	}
}

func quitCommand(ird *IRCd, sender *Client, msg RawMessage) {
	reason := "Client Quit"
	if msg.Command.HasTrailing() {
		reason = msg.Command.Trailing
	}
	ird.disconnectClient(sender.UUID, reason)
}

func pingCommand(ird *IRCd, sender *Client, msg RawMessage) {
	token := ""
	if len(msg.Command.Parameters) > 0 {
		token = msg.Command.Parameters[0]
	}
	if msg.Command.HasTrailing() {
		token = msg.Command.Trailing
	}
	reply := RawMessage{Command: Command{Name: "PONG", Trailing: token, hasTrailing: true}}
	line, err := reply.Serialize()
	if err != nil {
		return
	}
	_ = sender.Push(line)
}

// pongCommand would reset the sender's idle timer; idle tracking is out of
// this server's scope.
func pongCommand(ird *IRCd, sender *Client, msg RawMessage) {}

func joinCommand(ird *IRCd, sender *Client, msg RawMessage) {
	if len(msg.Command.Parameters) < 1 {
		ird.numeric(sender, "461", []string{"JOIN"}, "Not enough parameters")
		return
	}

	joiner := sender
	if sender.IsServer() {
		if msg.Prefix == nil || msg.Prefix.Name == "" {
			ird.numeric(sender, "431", nil, "No nickname given")
			return
		}
		u, ok := ird.clients.GetUser(msg.Prefix.Name)
		if !ok {
			ird.numeric(sender, "401", []string{msg.Prefix.Name}, "No such nick")
			return
		}
		joiner = u
	}

	channels := splitList(msg.Command.Parameters[0])
	var keys []string
	if len(msg.Command.Parameters) > 1 {
		keys = splitList(msg.Command.Parameters[1])
	}

	for i, chName := range channels {
		key := ""
		if i < len(keys) {
			key = keys[i]
		}

		if !isValidChannel(chName) {
			ird.numeric(sender, "403", []string{chName}, "No such channel")
			continue
		}

		ch := ird.channels.CreateChannel(chName, key, ChannelNetwork, ModeNone)
		if ch.Key != key {
			ird.numeric(sender, "475", []string{chName}, "Cannot join channel (+k)")
			continue
		}

		priv := PrivNone
		if ch.Empty() {
			priv = PrivOp
		}

		ch.AddUser(joiner.UUID, priv)
		if joiner.Kind == KindLocalUser {
			joiner.addChannel(canonicalizeChannel(chName))
		}

		line := ird.lineFrom(joiner, "JOIN", []string{chName}, "", false)
		ch.PushToLocal(ird.clients, line, 0)

		if joiner.Kind == KindLocalUser {
			ird.numeric(joiner, "332", []string{chName}, ch.Topic)
			ird.numeric(joiner, "353", []string{"=", chName}, ch.GetUserListAsString(ird.clients))
			ird.numeric(joiner, "366", []string{chName}, "End of NAMES list")
		}
	}
}

func partCommand(ird *IRCd, sender *Client, msg RawMessage) {
	if len(msg.Command.Parameters) < 1 {
		ird.numeric(sender, "461", []string{"PART"}, "Not enough parameters")
		return
	}

	parting := sender
	if sender.IsServer() {
		if msg.Prefix == nil || msg.Prefix.Name == "" {
			return
		}
		u, ok := ird.clients.GetUser(msg.Prefix.Name)
		if !ok {
			return
		}
		parting = u
	}

	channels := splitList(msg.Command.Parameters[0])
	for _, chName := range channels {
		ch, ok := ird.channels.GetChannel(chName)
		if !ok {
			ird.numeric(sender, "403", []string{chName}, "No such channel")
			continue
		}
		if !ch.HasUser(parting.UUID) {
			ird.numeric(sender, "442", []string{chName}, "You're not on that channel")
			continue
		}

		trailing := fmt.Sprintf("%s left", parting.Nickname())
		if msg.Command.HasTrailing() {
			trailing = msg.Command.Trailing
		}

		line := ird.lineFrom(parting, "PART", []string{chName}, trailing, true)
		ch.PushToLocal(ird.clients, line, 0)
		ch.RemoveUser(parting.UUID)
		if ch.Empty() {
			ird.channels.DestroyChannel(chName)
		}
		if parting.Kind == KindLocalUser {
			parting.removeChannel(canonicalizeChannel(chName))
		}

		except := UUID(0)
		if sender.IsServer() {
			except = sender.UUID
		}
		ird.clients.BroadcastToLocalServers(line, except)
	}
}

func privmsgCommand(ird *IRCd, sender *Client, msg RawMessage) {
	routeMessage(ird, sender, msg, "PRIVMSG", false)
}

func noticeCommand(ird *IRCd, sender *Client, msg RawMessage) {
	routeMessage(ird, sender, msg, "NOTICE", true)
}

// routeMessage implements PRIVMSG/NOTICE delivery: to a channel's local
// members, or to a single nick (locally or via its introducing server).
// NOTICE never generates an error reply, per RFC 1459 §4.4.2.
func routeMessage(ird *IRCd, sender *Client, msg RawMessage, command string, isNotice bool) {
	if len(msg.Command.Parameters) < 1 {
		if !isNotice {
			ird.numeric(sender, "461", []string{command}, "Not enough parameters")
		}
		return
	}
	target := msg.Command.Parameters[0]
	text := msg.Command.Trailing

	if strings.HasPrefix(target, "#") {
		ch, ok := ird.channels.GetChannel(target)
		if !ok {
			if !isNotice {
				ird.numeric(sender, "403", []string{target}, "No such channel")
			}
			return
		}
		if ch.Modes.Has(ModeNoExternalMessages) && !ch.HasUser(sender.UUID) {
			if !isNotice {
				ird.numeric(sender, "404", []string{target}, "Cannot send to channel")
			}
			return
		}
		line := ird.lineFrom(sender, command, []string{target}, text, true)
		ch.PushToLocal(ird.clients, line, sender.UUID)
		return
	}

	recipient, ok := ird.clients.GetUser(target)
	if !ok {
		if !isNotice {
			ird.numeric(sender, "401", []string{target}, "No such nick/channel")
		}
		return
	}

	line := ird.lineFrom(sender, command, []string{target}, text, true)
	switch recipient.Kind {
	case KindLocalUser:
		_ = recipient.Push(line)
	case KindRemoteUser:
		if introducer, ok := ird.clients.GetClient(recipient.RemoteUser.Introducer); ok {
			_ = introducer.Push(line)
		}
	}
}

func serverCommand(ird *IRCd, sender *Client, msg RawMessage) {
	if len(msg.Command.Parameters) < 2 {
		ird.numeric(sender, "461", []string{"SERVER"}, "Not enough parameters")
		return
	}
	name := msg.Command.Parameters[0]
	hopCount, err := strconv.Atoi(msg.Command.Parameters[1])
	if err != nil {
		hopCount = 0
	}
	info := msg.Command.Trailing

	if sender.IsUser() {
		ird.numeric(sender, "462", nil, "You may not reregister")
		return
	}

	if _, exists := ird.clients.GetServer(name); exists {
		ird.disconnectClient(sender.UUID, "Server already exists")
		return
	}

	if sender.State == StateUnregistered {
		if err := ird.clients.RegisterLocalServer(name, sender.UUID, hopCount, info); err != nil {
			ird.disconnectClient(sender.UUID, err.Error())
			return
		}
		log.Printf("ircd: %s registered as local server %s", sender.UUID, name)
		return
	}

	// sender is already a registered server: this introduces a remote peer.
	if msg.Prefix == nil || msg.Prefix.Name == "" {
		log.Printf("ircd: SERVER introduction from %s missing a prefix", sender)
		return
	}
	introducer, ok := ird.clients.GetServer(msg.Prefix.Name)
	if !ok {
		log.Printf("ircd: SERVER introduction names unknown introducer %s", msg.Prefix.Name)
		return
	}
	if _, err := ird.clients.AddRemoteServer(name, introducer.UUID, hopCount, info); err != nil {
		log.Printf("ircd: problem adding remote server %s: %s", name, err)
	}
}

func killCommand(ird *IRCd, sender *Client, msg RawMessage) {
	if len(msg.Command.Parameters) < 1 {
		ird.numeric(sender, "461", []string{"KILL"}, "Not enough parameters")
		return
	}
	// TODO: check the sending client's operator privilege before allowing
	// KILL; the policy for granting it is deferred (see the KILL design
	// note).
	targetNick := msg.Command.Parameters[0]
	reason := msg.Command.Trailing

	target, ok := ird.clients.GetUser(targetNick)
	if !ok {
		if _, isServer := ird.clients.GetServer(targetNick); isServer {
			ird.numeric(sender, "483", []string{targetNick}, "You can't kill a server!")
			return
		}
		ird.numeric(sender, "401", []string{targetNick}, "No such nick")
		return
	}

	ird.disconnectClient(target.UUID, fmt.Sprintf("Killed by %s: %s", sender.Nickname(), reason))
	// TODO: forward this KILL to other known servers once a server-link
	// acknowledgement policy is decided.
}

func modeCommand(ird *IRCd, sender *Client, msg RawMessage) {
	if len(msg.Command.Parameters) < 1 {
		ird.numeric(sender, "461", []string{"MODE"}, "Not enough parameters")
		return
	}
	chName := msg.Command.Parameters[0]
	ch, ok := ird.channels.GetChannel(chName)
	if !ok {
		ird.numeric(sender, "403", []string{chName}, "No such channel")
		return
	}

	if len(msg.Command.Parameters) < 2 {
		ird.numeric(sender, "324", []string{chName, ch.Modes.String()}, "")
		return
	}

	if !sender.IsUser() || !ch.HasUser(sender.UUID) {
		ird.numeric(sender, "442", []string{chName}, "You're not on that channel")
		return
	}
	if ch.Members[sender.UUID]&PrivOp == 0 {
		ird.numeric(sender, "481", nil, "Permission Denied- You're not an IRC operator")
		return
	}

	modeArg := msg.Command.Parameters[1]
	memberArgs := msg.Command.Parameters[2:]
	argIdx := 0

	var adding bool
	for i := 0; i < len(modeArg); i++ {
		switch modeArg[i] {
		case '+':
			adding = true
		case '-':
			adding = false
		case 's':
			ch.Modes = setModeFlag(ch.Modes, ModeSecret, adding)
		case 'i':
			ch.Modes = setModeFlag(ch.Modes, ModeInviteOnly, adding)
		case 't':
			ch.Modes = setModeFlag(ch.Modes, ModeTopicLocked, adding)
		case 'n':
			ch.Modes = setModeFlag(ch.Modes, ModeNoExternalMessages, adding)
		case 'o', 'v':
			if argIdx >= len(memberArgs) {
				continue
			}
			nick := memberArgs[argIdx]
			argIdx++
			member, ok := ird.clients.GetUser(nick)
			if !ok || !ch.HasUser(member.UUID) {
				continue
			}
			flag := PrivVoice
			if modeArg[i] == 'o' {
				flag = PrivOp
			}
			if adding {
				ch.Members[member.UUID] |= flag
			} else {
				ch.Members[member.UUID] &^= flag
			}
		}
	}

	line := ird.lineFrom(sender, "MODE", append([]string{chName, modeArg}, memberArgs[:argIdx]...), "", false)
	ch.PushToLocal(ird.clients, line, 0)
}

func setModeFlag(modes, flag ChannelModes, adding bool) ChannelModes {
	if adding {
		return modes | flag
	}
	return modes &^ flag
}

func topicCommand(ird *IRCd, sender *Client, msg RawMessage) {
	if len(msg.Command.Parameters) < 1 {
		ird.numeric(sender, "461", []string{"TOPIC"}, "Not enough parameters")
		return
	}
	chName := msg.Command.Parameters[0]
	ch, ok := ird.channels.GetChannel(chName)
	if !ok {
		ird.numeric(sender, "403", []string{chName}, "No such channel")
		return
	}
	if !sender.IsUser() || !ch.HasUser(sender.UUID) {
		ird.numeric(sender, "442", []string{chName}, "You're not on that channel")
		return
	}

	if !msg.Command.HasTrailing() {
		if ch.Topic == "" {
			ird.numeric(sender, "331", []string{chName}, "No topic is set")
			return
		}
		ird.numeric(sender, "332", []string{chName}, ch.Topic)
		return
	}

	if ch.Modes.Has(ModeTopicLocked) && ch.Members[sender.UUID]&PrivOp == 0 {
		ird.numeric(sender, "481", nil, "Permission Denied- You're not an IRC operator")
		return
	}

	if len(msg.Command.Trailing) > maxTopicLength {
		return
	}
	ch.Topic = msg.Command.Trailing

	line := ird.lineFrom(sender, "TOPIC", []string{chName}, ch.Topic, true)
	ch.PushToLocal(ird.clients, line, 0)
}

func whoCommand(ird *IRCd, sender *Client, msg RawMessage) {
	if len(msg.Command.Parameters) < 1 {
		return
	}
	chName := msg.Command.Parameters[0]
	ch, ok := ird.channels.GetChannel(chName)
	if !ok {
		ird.numeric(sender, "315", []string{chName}, "End of WHO list")
		return
	}
	for uuid := range ch.Members {
		member, ok := ird.clients.GetClient(uuid)
		if !ok || !member.IsUser() {
			continue
		}
		ird.numeric(sender, "352", []string{
			chName, member.nickUhost(), ird.config.ServerName, member.Nickname(), "H",
		}, "0 "+member.realName())
	}
	ird.numeric(sender, "315", []string{chName}, "End of WHO list")
}

func namesCommand(ird *IRCd, sender *Client, msg RawMessage) {
	if len(msg.Command.Parameters) < 1 {
		return
	}
	chName := msg.Command.Parameters[0]
	ch, ok := ird.channels.GetChannel(chName)
	if !ok {
		ird.numeric(sender, "366", []string{chName}, "End of NAMES list")
		return
	}
	ird.numeric(sender, "353", []string{"=", chName}, ch.GetUserListAsString(ird.clients))
	ird.numeric(sender, "366", []string{chName}, "End of NAMES list")
}

func lusersCommand(ird *IRCd, sender *Client, msg RawMessage) {
	var users, servers, unknown int
	for _, c := range ird.clients.clients {
		switch c.Kind {
		case KindLocalUser, KindRemoteUser:
			users++
		case KindLocalServer, KindRemoteServer:
			servers++
		default:
			unknown++
		}
	}
	ird.numeric(sender, "251", nil, fmt.Sprintf("There are %d users and %d services on %d servers", users, 0, servers+1))
	ird.numeric(sender, "252", []string{"0"}, "operator(s) online")
	ird.numeric(sender, "253", []string{strconv.Itoa(unknown)}, "unknown connection(s)")
	ird.numeric(sender, "254", []string{strconv.Itoa(len(ird.channels.channels))}, "channels formed")
	ird.numeric(sender, "255", nil, fmt.Sprintf("I have %d clients and %d servers", users, servers))
}

func motdCommand(ird *IRCd, sender *Client, msg RawMessage) {
	ird.numeric(sender, "375", nil, fmt.Sprintf("- %s Message of the day -", ird.config.ServerName))
	for _, line := range ird.config.MOTD {
		ird.numeric(sender, "372", nil, "- "+line)
	}
	ird.numeric(sender, "376", nil, "End of MOTD command")
}
