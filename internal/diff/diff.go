// Package diff aligns two page contents and renders the result as markup-safe text.
//
// Alignment follows the longest-matching-block strategy: find the longest
// run common to both inputs, then recurse on the pieces to its left and
// right. Among equally long runs the one starting earliest in the old text
// wins, then the one starting earliest in the new text. The result is not a
// minimal edit script, but it is stable and reads naturally for prose.
//
// Long inputs stay near linear: large texts are aligned by lines before
// characters, and characters that fill more than a hundredth of a long text
// are skipped as match seeds.
package diff

import (
	"html"
	"sort"
	"strings"
)

// Kind classifies a diff segment.
type Kind int

const (
	Equal Kind = iota
	Insert
	Delete
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	default:
		return "equal"
	}
}

// Segment is a run of text that is common to both inputs, only in the new one, or only in the old one.
type Segment struct {
	Kind Kind
	Text string
}

// Markers wrapped around inserted and deleted text by Render.
const (
	InsertOpen  = `<span class="diff-ins">`
	InsertClose = `</span>`
	DeleteOpen  = `<span class="diff-del">`
	DeleteClose = `</span>`
	LineBreak   = `<br />`
)

type block struct{ a, b, size int }

// Inputs at least this many runes long are aligned line by line first; only
// the replaced line regions are then aligned rune by rune.
const linePassRunes = 4096

// Diff returns segments covering old and new in order with no gaps or overlaps.
// Concatenating Equal and Delete text yields old; Equal and Insert text yields new.
func Diff(oldText, newText string) []Segment {
	var out segments
	a, b := []rune(oldText), []rune(newText)
	if len(a) < linePassRunes && len(b) < linePassRunes {
		out.runes(a, b)
		return out.list
	}

	al, bl := splitLines(oldText), splitLines(newText)
	i, j := 0, 0
	for _, blk := range newMatcher(al, bl).matchingBlocks() {
		out.runes([]rune(strings.Join(al[i:blk.a], "")), []rune(strings.Join(bl[j:blk.b], "")))
		out.emit(Equal, strings.Join(al[blk.a:blk.a+blk.size], ""))
		i, j = blk.a+blk.size, blk.b+blk.size
	}
	return out.list
}

type segments struct{ list []Segment }

func (s *segments) emit(k Kind, text string) {
	if text == "" {
		return
	}
	if n := len(s.list); n > 0 && s.list[n-1].Kind == k {
		s.list[n-1].Text += text
		return
	}
	s.list = append(s.list, Segment{Kind: k, Text: text})
}

// runes aligns a against b character by character.
func (s *segments) runes(a, b []rune) {
	i, j := 0, 0
	for _, blk := range newMatcher(a, b).matchingBlocks() {
		// Deletions before insertions inside a replaced region.
		s.emit(Delete, string(a[i:blk.a]))
		s.emit(Insert, string(b[j:blk.b]))
		s.emit(Equal, string(a[blk.a:blk.a+blk.size]))
		i, j = blk.a+blk.size, blk.b+blk.size
	}
}

// splitLines cuts text after every newline, keeping the newlines.
func splitLines(text string) []string {
	lines := strings.SplitAfter(text, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// Elements of b that occur more often than this share of it are not used to
// seed matches once b has popularMin elements. Matches still grow across them.
const (
	popularMin   = 200
	popularShare = 100
)

type matcher[T comparable] struct {
	a, b []T
	b2j  map[T][]int
}

func newMatcher[T comparable](a, b []T) *matcher[T] {
	b2j := make(map[T][]int)
	for j, r := range b {
		b2j[r] = append(b2j[r], j)
	}
	if n := len(b); n >= popularMin {
		limit := n/popularShare + 1
		for r, js := range b2j {
			if len(js) > limit {
				delete(b2j, r)
			}
		}
	}
	return &matcher[T]{a: a, b: b, b2j: b2j}
}

// longest finds the longest block common to a[alo:ahi] and b[blo:bhi].
func (m *matcher[T]) longest(alo, ahi, blo, bhi int) block {
	best := block{a: alo, b: blo}
	j2len, next := map[int]int{}, map[int]int{}
	for i := alo; i < ahi; i++ {
		clear(next)
		for _, j := range m.b2j[m.a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			next[j] = k
			if k > best.size {
				best = block{a: i - k + 1, b: j - k + 1, size: k}
			}
		}
		j2len, next = next, j2len
	}

	// Popular elements never seed a match, so grow the winner over them.
	for best.a > alo && best.b > blo && m.a[best.a-1] == m.b[best.b-1] {
		best.a, best.b, best.size = best.a-1, best.b-1, best.size+1
	}
	for best.a+best.size < ahi && best.b+best.size < bhi && m.a[best.a+best.size] == m.b[best.b+best.size] {
		best.size++
	}
	return best
}

// matchingBlocks returns non-overlapping matches sorted by position, adjacent
// blocks merged, terminated by a zero-size sentinel at (len(a), len(b)).
func (m *matcher[T]) matchingBlocks() []block {
	type span struct{ alo, ahi, blo, bhi int }
	queue := []span{{0, len(m.a), 0, len(m.b)}}
	var found []block
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		blk := m.longest(s.alo, s.ahi, s.blo, s.bhi)
		if blk.size == 0 {
			continue
		}
		found = append(found, blk)
		if s.alo < blk.a && s.blo < blk.b {
			queue = append(queue, span{s.alo, blk.a, s.blo, blk.b})
		}
		if blk.a+blk.size < s.ahi && blk.b+blk.size < s.bhi {
			queue = append(queue, span{blk.a + blk.size, s.ahi, blk.b + blk.size, s.bhi})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].a != found[j].a {
			return found[i].a < found[j].a
		}
		return found[i].b < found[j].b
	})

	var merged []block
	for _, blk := range found {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if last.a+last.size == blk.a && last.b+last.size == blk.b {
				last.size += blk.size
				continue
			}
		}
		merged = append(merged, blk)
	}
	return append(merged, block{a: len(m.a), b: len(m.b)})
}

// Render turns segments into one block of escaped markup. Inserted and
// deleted text is wrapped in distinct markers and newlines become LineBreak.
func Render(segs []Segment) string {
	var sb strings.Builder
	for _, s := range segs {
		text := strings.ReplaceAll(html.EscapeString(s.Text), "\n", LineBreak)
		switch s.Kind {
		case Insert:
			sb.WriteString(InsertOpen)
			sb.WriteString(text)
			sb.WriteString(InsertClose)
		case Delete:
			sb.WriteString(DeleteOpen)
			sb.WriteString(text)
			sb.WriteString(DeleteClose)
		default:
			sb.WriteString(text)
		}
	}
	return sb.String()
}

// Compare is Render(Diff(oldText, newText)).
func Compare(oldText, newText string) string {
	return Render(Diff(oldText, newText))
}
