package util

import (
	"regexp"
	"strings"
	"unicode"
)

// Characters WebFinger allows in the user part without percent-encoding
var webFingerValidCharsRegex = regexp.MustCompile(`^[A-Za-z0-9\-._~!$&'()*+,;=]+$`)

// IsValidWebFingerUsername validates a user or magazine name for use in an
// acct: handle. Returns (true, "") if valid, or (false, "error message").
func IsValidWebFingerUsername(username string) (bool, string) {
	if len(username) == 0 {
		return false, "Name must be at least 1 character"
	}

	if !webFingerValidCharsRegex.MatchString(username) {
		return false, "Name contains invalid characters. Only A-Z, a-z, 0-9, and -._~!$&'()*+,;= are allowed"
	}

	for _, r := range username {
		if unicode.IsControl(r) || !unicode.IsPrint(r) {
			return false, "Name contains non-printable characters"
		}
	}

	return true, ""
}

// ParseHandle splits "@name@host", "name@host" and "acct:name@host" into the
// name and the lowercased host. The magazine prefix "!" used by Lemmy is
// accepted as well.
func ParseHandle(handle string) (name, host string, ok bool) {
	h := strings.TrimSpace(handle)
	h = strings.TrimPrefix(h, "acct:")
	h = strings.TrimPrefix(h, "@")
	h = strings.TrimPrefix(h, "!")

	name, host, found := strings.Cut(h, "@")
	if !found || host == "" || strings.ContainsAny(host, "/@ ") {
		return "", "", false
	}
	if valid, _ := IsValidWebFingerUsername(name); !valid {
		return "", "", false
	}
	return name, strings.ToLower(host), true
}
