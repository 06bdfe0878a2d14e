package export

import (
	"sort"
	"strconv"
	"unicode"

	"sigexport/internal/signaldb"
)

// DirIndex maps contact ids to their export directory names. Directory names
// are derived from display names but the id is the key, so two contacts whose
// names sanitize to the same string still get distinct directories.
type DirIndex struct {
	byID map[string]string
	used map[string]bool
}

// BuildDirIndex assigns a directory name to every contact. Assignment order
// is sorted by contact id so collision suffixes are deterministic across runs.
func BuildDirIndex(contacts map[string]*signaldb.Contact) *DirIndex {
	x := &DirIndex{
		byID: make(map[string]string, len(contacts)),
		used: make(map[string]bool, len(contacts)),
	}

	ids := make([]string, 0, len(contacts))
	for id := range contacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		c := contacts[id]
		base := Sanitize(c.DisplayName())
		if base == "" {
			base = "None"
		}
		name := base
		for n := 2; x.used[name]; n++ {
			name = base + "-" + strconv.Itoa(n)
		}
		x.used[name] = true
		x.byID[id] = name
	}
	return x
}

// Dir returns the directory name assigned to a contact id.
func (x *DirIndex) Dir(id string) string {
	return x.byID[id]
}

// Sanitize reduces a display name to characters safe for a directory name.
func Sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return string(out)
}
