package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Codec errors. ErrProtocol is the umbrella sentinel handlers and the
// connection dispatch loop check with errors.Is; the more specific errors
// below all wrap it.
var (
	// ErrProtocol is wrapped by every decode failure below.
	ErrProtocol = errors.New("wire: protocol error")

	// ErrTooFewFields indicates fewer than the 3 mandatory fields were present.
	ErrTooFewFields = fmt.Errorf("%w: fewer than 3 fields", ErrProtocol)

	// ErrBadClientType indicates field 0 did not parse as a ClientType.
	ErrBadClientType = fmt.Errorf("%w: unparseable client type", ErrProtocol)

	// ErrBadKind indicates field 1 did not parse as a Kind or fell outside [1,200].
	ErrBadKind = fmt.Errorf("%w: kind out of range", ErrProtocol)
)

// Message is a decoded body: the three mandatory fields plus the raw
// remainder after the third '|'. Rest is never re-split here — each
// handler re-splits it according to its own kind-specific schema, so that
// '|' characters embedded in forwarded payloads (e.g. ';'-joined record
// lists) survive a decode/encode round trip untouched.
type Message struct {
	ClientType ClientType
	Kind       Kind
	Subject    string
	Rest       string
}

// Encode joins client type, kind, subject and fields with '|' and returns
// the body bytes (the frame length prefix is added by package transport).
// Fields are written as-is: it is the caller's responsibility not to place
// a literal '|' inside a field it wants to survive a later Decode.
func Encode(clientType ClientType, kind Kind, subject string, fields ...string) []byte {
	parts := make([]string, 0, 3+len(fields))
	parts = append(parts,
		strconv.Itoa(int(clientType)),
		strconv.Itoa(int(kind)),
		subject,
	)
	parts = append(parts, fields...)
	return []byte(strings.Join(parts, "|"))
}

// Decode splits body on '|' into the three mandatory fields plus the
// unsplit remainder. It returns ErrProtocol (wrapped) if there are fewer
// than 3 fields, the client type doesn't parse, or the kind is out of
// [1,200].
func Decode(body []byte) (Message, error) {
	s := string(body)

	// Split into at most 4 pieces: clientType, kind, subject, rest.
	// strings.SplitN preserves embedded '|' inside the 4th piece.
	parts := strings.SplitN(s, "|", 4)
	if len(parts) < 3 {
		return Message{}, ErrTooFewFields
	}

	ctVal, err := strconv.Atoi(parts[0])
	if err != nil {
		return Message{}, fmt.Errorf("%w: %q", ErrBadClientType, parts[0])
	}

	kVal, err := strconv.Atoi(parts[1])
	if err != nil {
		return Message{}, fmt.Errorf("%w: %q", ErrBadKind, parts[1])
	}
	kind := Kind(kVal)
	if !kind.InRange() {
		return Message{}, fmt.Errorf("%w: %d", ErrBadKind, kVal)
	}

	msg := Message{
		ClientType: ClientType(ctVal),
		Kind:       kind,
		Subject:    parts[2],
	}
	if len(parts) == 4 {
		msg.Rest = parts[3]
	}
	return msg, nil
}

// SplitRest splits a message's Rest field on '|' into exactly n fields,
// padding missing trailing fields with "". Handlers use this for their
// own kind-specific payload schema instead of re-running Decode's split.
func SplitRest(rest string, n int) []string {
	if rest == "" {
		return make([]string, n)
	}
	parts := strings.SplitN(rest, "|", n)
	for len(parts) < n {
		parts = append(parts, "")
	}
	return parts
}
