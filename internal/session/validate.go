package session

import (
	"fmt"
	"regexp"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// DefaultName is the session used when no -session flag is given.
const DefaultName = "default"

// ValidateName checks that name conforms to session naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// Resolve picks the session name from the flag value, falling back to the
// default session.
func Resolve(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return DefaultName
}
