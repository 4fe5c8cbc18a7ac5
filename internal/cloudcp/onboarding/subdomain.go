package onboarding

import (
	"fmt"
	"strings"
)

const maxSubdomainLength = 63

var reservedSubdomains = map[string]struct{}{
	"www": {}, "api": {}, "app": {}, "admin": {}, "billing": {}, "signup": {},
	"status": {}, "mail": {}, "static": {}, "cdn": {}, "help": {}, "support": {},
	"dashboard": {}, "auth": {}, "login": {},
}

// NormalizeSubdomain lowercases and trims a requested subdomain.
func NormalizeSubdomain(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ValidateSubdomain checks a normalized subdomain against the DNS label
// rules and the reserved list.
func ValidateSubdomain(sub string, minLength int) error {
	if len(sub) < minLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidSubdomain, minLength)
	}
	if len(sub) > maxSubdomainLength {
		return fmt.Errorf("%w: must be at most %d characters", ErrInvalidSubdomain, maxSubdomainLength)
	}
	for i := 0; i < len(sub); i++ {
		c := sub[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			continue
		}
		return fmt.Errorf("%w: only lowercase letters, digits and hyphens are allowed", ErrInvalidSubdomain)
	}
	if sub[0] == '-' || sub[len(sub)-1] == '-' {
		return fmt.Errorf("%w: must not start or end with a hyphen", ErrInvalidSubdomain)
	}
	if _, reserved := reservedSubdomains[sub]; reserved {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidSubdomain, sub)
	}
	return nil
}
