package main

import (
	"strings"

	"github.com/pkg/errors"
)

// Prefix is the optional source portion of a message: the ':name[!user][@host]'
// token preceding the command. Only Name is guaranteed to be set.
type Prefix struct {
	Name     string
	Username string
	Hostname string

	hasUsername bool
	hasHostname bool
}

// HasUsername reports whether the prefix carried a '!user' portion.
func (p Prefix) HasUsername() bool { return p.hasUsername }

// HasHostname reports whether the prefix carried an '@host' portion.
func (p Prefix) HasHostname() bool { return p.hasHostname }

// Command is the command portion of a message: its name (a word, or a
// three-digit numeric), its middle parameters, and an optional trailing
// parameter.
type Command struct {
	Name       string
	Parameters []string
	Trailing   string

	hasTrailing bool
}

// HasTrailing reports whether the command carried a trailing parameter.
func (c Command) HasTrailing() bool { return c.hasTrailing }

// RawMessage is the parsed form of one line of the wire protocol. See
// RFC 1459/2812 section 2.3.1.
type RawMessage struct {
	Prefix  *Prefix
	Command Command
}

// errParse is a generic sentinel for malformed input. ParseMessage and its
// helpers do not return it; each failure builds its own descriptive error.
var errParse = errors.New("malformed IRC message")

// ParseMessage parses a single line of the wire protocol. line must NOT
// include the trailing CRLF/LF; the reactor strips it while framing bytes
// into lines.
//
// Parsing is deterministic: on success every byte consumed belongs to a
// production; on failure the input is rejected without a partial result.
func ParseMessage(line string) (RawMessage, error) {
	// 512 bytes including the CRLF terminator the reactor has stripped.
	if len(line) > 510 {
		return RawMessage{}, errors.New("line exceeds 512 bytes")
	}

	s := &charStream{s: line}

	var msg RawMessage

	if s.remaining() > 0 && s.peek() == ':' {
		s.consume()
		prefix, err := parsePrefix(s)
		if err != nil {
			return RawMessage{}, errors.Wrap(err, "problem parsing prefix")
		}
		if err := parseWhitespace(s); err != nil {
			return RawMessage{}, errors.Wrap(err, "missing space after prefix")
		}
		msg.Prefix = &prefix
	}

	name, err := parseCommandID(s)
	if err != nil {
		return RawMessage{}, errors.Wrap(err, "problem parsing command")
	}
	msg.Command.Name = name

	// A leading space before params/trailing is permitted to be absent only
	// if there is nothing left to parse.
	if s.remaining() > 0 {
		if s.peek() != ' ' {
			return RawMessage{}, errors.New("unexpected character after command")
		}
	}

	params, err := parseParams(s)
	if err != nil {
		return RawMessage{}, errors.Wrap(err, "problem parsing params")
	}
	msg.Command.Parameters = params

	if s.remaining() > 0 && s.peek() == ':' {
		s.consume()
		msg.Command.Trailing = parseTrailing(s)
		msg.Command.hasTrailing = true
	}

	if s.remaining() != 0 {
		return RawMessage{}, errors.New("trailing garbage after message")
	}

	return msg, nil
}

// charStream is a cursor over a byte-transparent input line. Every parse
// production either advances the cursor on success or leaves it untouched on
// failure, so callers can backtrack by discarding the attempt.
type charStream struct {
	s   string
	pos int
}

func (c *charStream) remaining() int { return len(c.s) - c.pos }

func (c *charStream) peek() byte { return c.s[c.pos] }

func (c *charStream) consume() byte {
	b := c.s[c.pos]
	c.pos++
	return b
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isSpecial(b byte) bool {
	switch b {
	case '-', '[', ']', '\\', '`', '^', '{', '}':
		return true
	default:
		return false
	}
}

// parsePrefix parses the portion between the leading ':' (already consumed)
// and the SPACE that ends it.
//
// nickname := alpha (alpha | digit | special)*
//
// The wire order clients actually send is nick[!user][@host] (the order RFC
// 1459/2812 use, and the order spec.md's own test properties assume) even
// though early drafts of this grammar listed '@' ahead of '!'; we parse the
// order clients send.
//
// A server name (irc.example.org) is accepted as the name too: it starts
// like a nickname and continues with '.'-separated hostname characters.
func parsePrefix(s *charStream) (Prefix, error) {
	start := s.pos
	name, err := parseNickname(s)
	if err != nil {
		return Prefix{}, err
	}
	if s.remaining() > 0 && s.peek() == '.' {
		rest, _ := parseHostname(s)
		name += rest
	}

	p := Prefix{Name: name}

	if s.remaining() > 0 && s.peek() == '!' {
		s.consume()
		user, err := parseNickname(s)
		if err != nil {
			s.pos = start
			return Prefix{}, errors.Wrap(err, "problem parsing prefix username")
		}
		p.Username = user
		p.hasUsername = true
	}

	if s.remaining() > 0 && s.peek() == '@' {
		s.consume()
		host, err := parseHostname(s)
		if err != nil {
			s.pos = start
			return Prefix{}, errors.Wrap(err, "problem parsing prefix hostname")
		}
		p.Hostname = host
		p.hasHostname = true
	}

	return p, nil
}

func parseNickname(s *charStream) (string, error) {
	start := s.pos
	if s.remaining() == 0 || !isAlpha(s.peek()) {
		return "", errors.New("nickname must start with a letter")
	}
	s.consume()

	for s.remaining() > 0 {
		b := s.peek()
		if isAlpha(b) || isDigit(b) || isSpecial(b) {
			s.consume()
			continue
		}
		break
	}

	return s.s[start:s.pos], nil
}

func parseHostname(s *charStream) (string, error) {
	start := s.pos
	for s.remaining() > 0 {
		b := s.peek()
		if isAlpha(b) || isDigit(b) || b == '-' || b == '.' {
			s.consume()
			continue
		}
		break
	}
	if s.pos == start {
		return "", errors.New("hostname must have at least one character")
	}
	return s.s[start:s.pos], nil
}

// parseCommandID parses the command name: either a word (one or more
// letters) or exactly three decimal digits.
func parseCommandID(s *charStream) (string, error) {
	if s.remaining() > 0 && isAlpha(s.peek()) {
		start := s.pos
		for s.remaining() > 0 && isAlpha(s.peek()) {
			s.consume()
		}
		return strings.ToUpper(s.s[start:s.pos]), nil
	}

	start := s.pos
	for i := 0; i < 3; i++ {
		if s.remaining() == 0 || !isDigit(s.peek()) {
			s.pos = start
			return "", errors.New("numeric command must be exactly three digits")
		}
		s.consume()
	}
	// A fourth digit (or more) means this was not a bare three-digit numeric.
	if s.remaining() > 0 && isDigit(s.peek()) {
		s.pos = start
		return "", errors.New("numeric command must be exactly three digits")
	}
	return s.s[start:s.pos], nil
}

func parseWhitespace(s *charStream) error {
	if s.remaining() == 0 || s.peek() != ' ' {
		return errors.New("expected a space")
	}
	for s.remaining() > 0 && s.peek() == ' ' {
		s.consume()
	}
	return nil
}

// parseParams parses the run of middle parameters preceding an optional
// trailing parameter. It stops (without consuming) at the ':' that
// introduces trailing, or at end of input.
func parseParams(s *charStream) ([]string, error) {
	var params []string
	start := s.pos

	for {
		if s.remaining() == 0 {
			return params, nil
		}
		if s.peek() != ' ' {
			s.pos = start
			return nil, errors.New("expected space before parameter")
		}
		s.consume()

		if s.remaining() == 0 {
			// Trailing space with nothing after it: no more params.
			return params, nil
		}
		if s.peek() == ':' {
			return params, nil
		}

		middle, err := parseMiddle(s)
		if err != nil {
			s.pos = start
			return nil, err
		}
		params = append(params, middle)
	}
}

// parseMiddle parses a single middle parameter. It never starts with ':'.
func parseMiddle(s *charStream) (string, error) {
	start := s.pos
	if s.remaining() == 0 {
		return "", errors.New("expected middle parameter")
	}
	if b := s.peek(); b == ':' || b == ' ' {
		return "", errors.New("middle parameter cannot start with ':' or space")
	}
	s.consume()

	for s.remaining() > 0 {
		b := s.peek()
		if b == ' ' || b == '\r' || b == '\n' || b == '\x00' {
			break
		}
		s.consume()
	}

	return s.s[start:s.pos], nil
}

// parseTrailing consumes the remainder of the line as the trailing
// parameter. The leading ':' has already been consumed by the caller.
func parseTrailing(s *charStream) string {
	start := s.pos
	for s.remaining() > 0 {
		b := s.peek()
		if b == '\r' || b == '\n' || b == '\x00' {
			break
		}
		s.consume()
	}
	return s.s[start:s.pos]
}

// Serialize renders a RawMessage back to wire form, without the CRLF
// terminator (the reactor appends it when framing bytes for send).
//
// Round-trip property: ParseMessage(Serialize(m)) == m for well-formed m.
func (m RawMessage) Serialize() (string, error) {
	var b strings.Builder

	if m.Prefix != nil {
		if len(m.Prefix.Name) == 0 {
			return "", errors.New("prefix must have a name")
		}
		b.WriteByte(':')
		b.WriteString(m.Prefix.Name)
		if m.Prefix.hasUsername {
			b.WriteByte('!')
			b.WriteString(m.Prefix.Username)
		}
		if m.Prefix.hasHostname {
			b.WriteByte('@')
			b.WriteString(m.Prefix.Hostname)
		}
		b.WriteByte(' ')
	}

	if !isValidCommandName(m.Command.Name) {
		return "", errors.Errorf("invalid command name: %q", m.Command.Name)
	}
	b.WriteString(m.Command.Name)

	for _, p := range m.Command.Parameters {
		if len(p) == 0 || strings.ContainsAny(p, " :") {
			return "", errors.Errorf("invalid middle parameter: %q", p)
		}
		b.WriteByte(' ')
		b.WriteString(p)
	}

	if m.Command.hasTrailing {
		b.WriteByte(' ')
		b.WriteByte(':')
		b.WriteString(m.Command.Trailing)
	}

	return b.String(), nil
}

func isValidCommandName(name string) bool {
	if len(name) == 0 {
		return false
	}
	if isThreeDigitNumeric(name) {
		return true
	}
	for i := 0; i < len(name); i++ {
		if !isAlpha(name[i]) {
			return false
		}
	}
	return true
}

func isThreeDigitNumeric(name string) bool {
	if len(name) != 3 {
		return false
	}
	return isDigit(name[0]) && isDigit(name[1]) && isDigit(name[2])
}

// NewPrefix builds a Prefix for an outgoing message. username and hostname
// are omitted from the wire form when empty (a server's own prefix carries
// neither).
func NewPrefix(name, username, hostname string) *Prefix {
	p := &Prefix{Name: name}
	if username != "" {
		p.Username = username
		p.hasUsername = true
	}
	if hostname != "" {
		p.Hostname = hostname
		p.hasHostname = true
	}
	return p
}

// NewTrailing builds a Command with a trailing parameter set, for callers
// constructing outgoing messages (the zero value of Command has no
// trailing, which is a distinct wire form from an empty trailing).
func NewTrailing(s string) Command {
	return Command{Trailing: s, hasTrailing: true}
}
