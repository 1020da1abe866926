package facematch

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeTargetName turns an uploaded filename into a stable target identifier:
// directory components are dropped, control characters removed and the result is
// NFC composed so names sent from NFD filesystems compare equal.
func NormalizeTargetName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Cc)), norm.NFC)
	result, _, err := transform.String(t, name)
	if err != nil {
		return name
	}
	return result
}
