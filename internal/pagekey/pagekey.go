// Package pagekey normalizes human-entered page names into canonical lookup keys.
package pagekey

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// Key is a canonical page lookup key.
type Key string

// Home is the reserved key of a node's wiki home page.
const Home Key = "home"

// Normalize maps a display name to its canonical key.
//
// Surrounding whitespace is dropped, the name is case-folded, and every run
// of whitespace as well as '.' and '$' becomes a single '_'. Names that
// differ only in case or spacing therefore share a key. Normalize never
// fails; an empty or blank name yields the empty key.
func Normalize(name string) Key {
	folded := cases.Fold().String(strings.TrimSpace(name))

	var b strings.Builder
	b.Grow(len(folded))
	inSpace := false
	for _, r := range folded {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('_')
			}
			inSpace = true
			continue
		}
		inSpace = false
		switch r {
		case '.', '$':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return Key(b.String())
}

// IsHome reports whether k is the reserved home key.
func (k Key) IsHome() bool { return k == Home }

// IsEmpty reports whether k is the empty key.
func (k Key) IsEmpty() bool { return k == "" }

func (k Key) String() string { return string(k) }
