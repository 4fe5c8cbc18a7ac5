package stripe

import "strings"

// Object ID prefixes of the Stripe objects the client looks up.
const (
	prefixCheckoutSession = "cs_"
	prefixSubscription    = "sub_"
	prefixAccount         = "acct_"
)

const maxObjectIDLength = 128

// ValidObjectID reports whether id is a plausible Stripe object ID carrying
// prefix. IDs end up in API paths, so only ASCII letters, digits, '_' and '-'
// are accepted.
func ValidObjectID(prefix, id string) bool {
	if !strings.HasPrefix(id, prefix) || len(id) == len(prefix) || len(id) > maxObjectIDLength {
		return false
	}
	return strings.IndexFunc(id, func(c rune) bool {
		return !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-')
	}) < 0
}
