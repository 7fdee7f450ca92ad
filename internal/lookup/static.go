package lookup

import (
	"context"
	"strings"
)

// Entry is one row of a static mapping table.
type Entry struct {
	Subject string `toml:"subject"`
	Account string `toml:"account"`
	Port    int    `toml:"port"`
}

// Static is an in-memory mapping table. With SquashSpaces set, subjects
// missing from the table map to an account named after the subject with
// its spaces removed ("Charlie Clown" -> "CharlieClown").
type Static struct {
	entries      map[string]Entry
	squashSpaces bool
}

// NewStatic builds a static table.
func NewStatic(entries []Entry, squashSpaces bool) *Static {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.Subject] = e
	}
	return &Static{entries: m, squashSpaces: squashSpaces}
}

// Lookup implements Lookup.
func (s *Static) Lookup(_ context.Context, subject string) (Mapping, error) {
	if e, ok := s.entries[subject]; ok {
		return Mapping{DirectPort: e.Port, Account: e.Account, Found: e.Port > 0 || e.Account != ""}, nil
	}
	if s.squashSpaces {
		if account := SquashSpaces(subject); account != "" {
			return Mapping{Account: account, Found: true}, nil
		}
	}
	return Mapping{}, nil
}

// SquashSpaces removes every space from name.
func SquashSpaces(name string) string {
	return strings.ReplaceAll(name, " ", "")
}
