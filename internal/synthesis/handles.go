// Package synthesis compiles expert contributions into a single cited
// answer and attributes each claim back to its source.
package synthesis

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

// deaccent strips combining marks so "José Peña" yields the same handle
// letters as "Jose Pena".
var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// AssignHandles gives every contribution a short, unique citation handle
// derived from the contributor's name. Anonymous contributions get anonN.
// Handles contain only word characters so they survive the citation markup.
func AssignHandles(contributions []*model.Contribution, contacts map[uuid.UUID]*model.Contact) map[uuid.UUID]string {
	handles := make(map[uuid.UUID]string, len(contributions))
	taken := make(map[string]struct{}, len(contributions))
	anonCount := 0

	for _, contrib := range contributions {
		name := contrib.DisplayName
		if contrib.ContactID != nil {
			if c, ok := contacts[*contrib.ContactID]; ok && c.Name != "" {
				name = c.Name
			}
		}

		var base string
		if name == "" {
			anonCount++
			base = fmt.Sprintf("anon%d", anonCount)
		} else {
			base = baseHandle(name)
		}

		handle := base
		for suffix := 1; ; suffix++ {
			if _, dup := taken[handle]; !dup {
				break
			}
			handle = fmt.Sprintf("%s%d", base, suffix)
		}

		taken[handle] = struct{}{}
		handles[contrib.ID] = handle
	}

	return handles
}

// baseHandle derives the un-deduplicated handle from a display name. Single
// names truncate to six letters; multi-word names take the initials of the
// leading words plus the first three letters of the last.
func baseHandle(name string) string {
	parts := strings.Fields(normalizeName(name))
	if len(parts) == 0 {
		return "user"
	}

	if len(parts) == 1 {
		return truncate(parts[0], 6)
	}

	var b strings.Builder
	for _, p := range parts[:len(parts)-1] {
		b.WriteString(truncate(p, 1))
	}
	b.WriteString(truncate(parts[len(parts)-1], 3))

	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}

// normalizeName lowercases and strips everything except letters, digits,
// and the spaces that separate words.
func normalizeName(name string) string {
	if folded, _, err := transform.String(deaccent, name); err == nil {
		name = folded
	}

	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}
