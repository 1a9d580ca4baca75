package internal

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const (
	maxDisplayNameBytes = 180
	unnamedFile         = "unnamed"
)

// recoverFilename repairs multipart filenames mangled by Latin-1 decoding.
// A name whose runes all fit in Latin-1 and whose Latin-1 bytes form valid
// multi-byte UTF-8 is replaced by that UTF-8 text. Raw non-UTF-8 bytes are
// read as Latin-1. Anything else is returned unchanged.
func recoverFilename(name string) string {
	if !utf8.ValidString(name) {
		decoded, err := charmap.ISO8859_1.NewDecoder().String(name)
		if err != nil {
			return strings.ToValidUTF8(name, "_")
		}
		return decoded
	}
	for _, r := range name {
		if r > unicode.MaxLatin1 {
			return name
		}
	}
	encoded, err := charmap.ISO8859_1.NewEncoder().String(name)
	if err != nil || encoded == name || !utf8.ValidString(encoded) {
		return name
	}
	return encoded
}

// displayFilename turns a client-supplied upload name into a single path
// segment fit for display and for use inside a stored name.
func displayFilename(raw string) string {
	name := recoverFilename(raw)
	if idx := strings.LastIndexAny(name, "/\\"); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.Map(func(r rune) rune {
		if r == 0 || unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return unnamedFile
	}
	return truncateUTF8(name, maxDisplayNameBytes)
}

// truncateUTF8 cuts s to at most limit bytes without splitting a rune,
// keeping the extension when there is one.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	ext := ""
	if dot := strings.LastIndex(s, "."); dot > 0 && len(s)-dot <= 16 {
		ext = s[dot:]
		s = s[:dot]
	}
	limit -= len(ext)
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + ext
}
