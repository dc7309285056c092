package mqtt

import (
	"fmt"
	"strings"

	"github.com/dokzlo13/dimmerd/internal/cycle"
)

// Command operations accepted on the command topics.
const (
	OpStart   = "start"
	OpStop    = "stop"
	OpStopAll = "stop_all"
)

// Topics builds topic names under a prefix.
type Topics struct {
	Prefix string
}

// Status is the retained online/offline topic.
func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// Commands is the subscription filter for every command topic.
func (t Topics) Commands() string {
	return t.Prefix + "/cmd/+/+"
}

// Command is the topic for op on kind.
func (t Topics) Command(kind cycle.Kind, op string) string {
	return fmt.Sprintf("%s/cmd/%s/%s", t.Prefix, kind, op)
}

// State is the retained cycling state topic of one target.
// The target is escaped into a single topic level.
func (t Topics) State(kind cycle.Kind, target string) string {
	return fmt.Sprintf("%s/state/%s/%s", t.Prefix, kind, EscapeLevel(target))
}

var levelEscaper = strings.NewReplacer(
	"%", "%25",
	"/", "%2F",
	"+", "%2B",
	"#", "%23",
	"\x00", "%00",
)

// EscapeLevel percent-encodes the characters that cannot appear in a
// published topic level: level separators, wildcards and NUL.
func EscapeLevel(s string) string {
	return levelEscaper.Replace(s)
}

// ParseCommand splits a command topic into its kind and operation.
func (t Topics) ParseCommand(topic string) (cycle.Kind, string, error) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/cmd/")
	if !ok {
		return "", "", fmt.Errorf("%w: not a command topic: %s", cycle.ErrInvalidParameter, topic)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: malformed command topic: %s", cycle.ErrInvalidParameter, topic)
	}

	kind, err := cycle.ParseKind(parts[0])
	if err != nil {
		return "", "", err
	}

	switch op := parts[1]; op {
	case OpStart, OpStop, OpStopAll:
		return kind, op, nil
	default:
		return "", "", fmt.Errorf("%w: unknown operation %q", cycle.ErrInvalidParameter, op)
	}
}
