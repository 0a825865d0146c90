package ingest

import (
	"regexp"
	"strings"
)

var (
	// leftovers like com/5.0/en-US from PDF producer metadata
	reVersionedPath = regexp.MustCompile(`com/[\p{Nd}.]+/[\pL\pN_-]+`)
	reInvisible     = regexp.MustCompile(`[\x{FFFD}\x{FEFF}\x{200B}-\x{200D}]+`)
	reNonASCII      = regexp.MustCompile(`[^\x00-\x7F]+`)
)

// Clean strips extraction artifacts from text, replaces non-ASCII runs with a
// single space, collapses whitespace and trims. Clean(Clean(s)) == Clean(s).
func Clean(s string) string {
	s = stripArtifacts(s)
	s = reInvisible.ReplaceAllString(s, "")
	// dropping invisible runes can join the pieces of an artifact
	s = stripArtifacts(s)
	s = reNonASCII.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// stripArtifacts removes versioned paths, including ones formed by removing
// an earlier one.
func stripArtifacts(s string) string {
	for reVersionedPath.MatchString(s) {
		s = reVersionedPath.ReplaceAllString(s, "")
	}
	return s
}

// CleanAll applies Clean to every segment and drops the ones left empty.
func CleanAll(segments []string) []string {
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		if c := Clean(s); c != "" {
			out = append(out, c)
		}
	}
	return out
}
