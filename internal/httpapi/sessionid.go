package httpapi

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const visualPrefix = "visual-"

// rawIDPattern deliberately excludes '-': a hyphen outside the "visual-"
// prefix only ever shows up in a UUID, so any other hyphenated id is a
// failed UUID attempt (spec.md §8: "abcd-not-a-uuid" is malformed) rather
// than a legitimate opaque id.
var rawIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,128}$`)

// NormalizeSessionID implements spec.md §6's session-id normalization: a
// bare UUID is normalized to "visual-<uuid>"; an id already in canonical
// "visual-" form is accepted as-is; any other id matching the allowed
// character set is accepted as-is. Anything else, including a
// UUID-shaped-but-invalid string, is malformed.
func NormalizeSessionID(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	if strings.HasPrefix(raw, visualPrefix) {
		return raw, true
	}
	if _, err := uuid.Parse(raw); err == nil {
		return visualPrefix + raw, true
	}
	if !rawIDPattern.MatchString(raw) {
		return "", false
	}
	return raw, true
}
