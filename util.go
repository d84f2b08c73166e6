package main

import "strings"

// 50 from RFC
const maxChannelLength = 50

// defaultMaxNickLength is used when the config doesn't override it.
const defaultMaxNickLength = 9

// Arbitrary. Something low enough we won't hit message limit.
const maxTopicLength = 300

// maxOutboundQueueLength is the soft per-client outbound bound from the
// slow-consumer policy: exceeding it marks the client for disconnect rather
// than growing the queue without limit.
const maxOutboundQueueLength = 256

// foldPair holds one side of an RFC 1459 case-fold substitution.
type foldPair struct {
	upper byte
	lower byte
}

// rfc1459Folds lists the four extra pairs RFC 1459 case-folding treats as
// equivalent beyond ASCII a-z/A-Z: '{' with '[', '}' with ']', '|' with '\',
// and '^' with '~'.
var rfc1459Folds = []foldPair{
	{upper: '[', lower: '{'},
	{upper: ']', lower: '}'},
	{upper: '\\', lower: '|'},
	{upper: '~', lower: '^'},
}

// foldCase lowercases a byte under RFC 1459 case-folding. Used for both
// nicknames and channel names; the source material left this split
// unspecified and we apply the same rule to both identifier kinds.
func foldCase(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	for _, p := range rfc1459Folds {
		if b == p.upper {
			return p.lower
		}
	}
	return b
}

func foldString(s string) string {
	buf := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		buf[i] = foldCase(s[i])
	}
	return string(buf)
}

// canonicalizeNick converts the given nick to its canonical representation
// (which must be unique), folding per RFC 1459 rather than plain ASCII
// lowercasing.
//
// Note: We don't check validity or strip whitespace.
func canonicalizeNick(n string) string {
	return foldString(n)
}

// canonicalizeChannel converts the given channel to its canonical
// representation (which must be unique).
//
// Note: We don't check validity or strip whitespace.
func canonicalizeChannel(c string) string {
	return foldString(c)
}

// isValidNick checks if a nickname is valid: starts with a letter, is at
// most maxLen bytes long, and otherwise uses only the grammar's alpha/digit/special
// alphabet (message.go's nickname production).
func isValidNick(maxLen int, n string) bool {
	if len(n) == 0 || len(n) > maxLen {
		return false
	}
	if !isAlpha(n[0]) {
		return false
	}
	for i := 1; i < len(n); i++ {
		b := n[i]
		if !isAlpha(b) && !isDigit(b) && !isSpecial(b) {
			return false
		}
	}
	return true
}

// isValidUser checks if a user (USER command) is valid: non-empty, bounded,
// and free of characters that would corrupt the wire format.
func isValidUser(maxLen int, u string) bool {
	if len(u) == 0 || len(u) > maxLen {
		return false
	}
	for i := 0; i < len(u); i++ {
		b := u[i]
		if b == ' ' || b == '@' || b == '\r' || b == '\n' || b == '\x00' {
			return false
		}
	}
	return true
}

// isValidChannel checks a channel name for validity.
//
// You should canonicalize it before using this function.
func isValidChannel(c string) bool {
	if len(c) == 0 || len(c) >= maxChannelLength {
		return false
	}
	if c[0] != '#' {
		return false
	}
	for i := 1; i < len(c); i++ {
		b := c[i]
		if b == ' ' || b == ',' || b == '\x07' || b == '\r' || b == '\n' || b == '\x00' {
			return false
		}
	}
	return true
}

// splitList splits a comma-separated JOIN/PART-style parameter list.
func splitList(s string) []string {
	return strings.Split(s, ",")
}
