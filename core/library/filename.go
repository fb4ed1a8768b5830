package library

import (
	"fmt"
	"path/filepath"
	"strings"
)

// externalIDLen is the length of downloader video ids. Both supported
// filename forms embed exactly this many URL-safe characters.
const externalIDLen = 11

// ParseFilename extracts (title, externalID) from a media file name.
// Exactly two shapes are recognized:
//
//	Title---dQw4w9WgXcQ.mp4   (explicit triple-dash form)
//	Title [dQw4w9WgXcQ].mp4   (default downloader form)
//
// Anything else fails closed: the base name becomes the title and the id is
// empty. Parsing never guesses at other shapes.
func ParseFilename(name string) (title, externalID string) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))

	// The id has a fixed length, so take it from the tail instead of
	// searching for the separator. Ids may themselves start with dashes,
	// which a LastIndex on "---" would eat into.
	if len(base) >= externalIDLen+3 {
		idStart := len(base) - externalIDLen
		candidate := base[idStart:]
		if base[idStart-3:idStart] == "---" && isExternalID(candidate) {
			return base[:idStart-3], candidate
		}
	}

	if strings.HasSuffix(base, "]") {
		if idx := strings.LastIndex(base, "["); idx >= 0 {
			candidate := base[idx+1 : len(base)-1]
			if isExternalID(candidate) {
				return strings.TrimSpace(base[:idx]), candidate
			}
		}
	}

	return base, ""
}

// FormatFilename renders the explicit triple-dash form. ext must include the
// leading dot.
func FormatFilename(title, externalID, ext string) string {
	return fmt.Sprintf("%s---%s%s", title, externalID, ext)
}

// SplitArtist splits a "Artist - Title" display title into its parts.
// Titles without the separator have no artist.
func SplitArtist(title string) (artist, song string) {
	if parts := strings.SplitN(title, " - ", 2); len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return "", title
}

func isExternalID(s string) bool {
	if len(s) != externalIDLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
