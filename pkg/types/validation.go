package types

import "regexp"

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidSessionID checks a session id: 1-64 characters, alphanumeric
// plus underscore/hyphen.
func IsValidSessionID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return idRegex.MatchString(id)
}

// IsValidParticipantKey checks a canonical participant key. Same shape
// as session ids; keys produced by the identity resolver (UUIDs or
// client-supplied ids) all fit.
func IsValidParticipantKey(key string) bool {
	if len(key) < 1 || len(key) > 64 {
		return false
	}
	return idRegex.MatchString(key)
}
