package payload

import (
	"fmt"
	"regexp"
)

// Ref points at an entity stored outside the queue.
type Ref struct {
	Type string
	ID   string
}

var refPattern = regexp.MustCompile(`^ref:([A-Za-z][A-Za-z0-9_\-\.]*):(.+)$`)

// String renders the compact token, e.g. "ref:blog.Story:1".
func (r Ref) String() string {
	return "ref:" + r.Type + ":" + r.ID
}

// ParseRef parses a token produced by Ref.String.
func ParseRef(s string) (Ref, error) {
	m := refPattern.FindStringSubmatch(s)
	if m == nil {
		return Ref{}, fmt.Errorf("delayed: malformed reference %q", s)
	}
	return Ref{Type: m[1], ID: m[2]}, nil
}
