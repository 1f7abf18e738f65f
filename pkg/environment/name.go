package environment

import (
	"encoding/json"
	"strings"
)

// maxNameLength keeps names usable as DNS labels and instance names.
const maxNameLength = 63

// Name is a validated environment name. It is the file-system key of the
// environment, so it is restricted to lowercase letters, digits and single
// dashes.
type Name string

// ParseName validates s and returns it as a Name.
func ParseName(s string) (Name, error) {
	if reason := nameProblem(s); reason != "" {
		return "", &NameError{Name: s, Reason: reason}
	}
	return Name(s), nil
}

// MustParseName is like ParseName but panics on invalid input. Intended for
// tests and constants.
func MustParseName(s string) Name {
	n, err := ParseName(s)
	if err != nil {
		panic(err)
	}
	return n
}

// String implements fmt.Stringer.
func (n Name) String() string {
	return string(n)
}

// Validate checks the name rules.
func (n Name) Validate() error {
	_, err := ParseName(string(n))
	return err
}

// UnmarshalJSON rejects invalid names at the decoding boundary.
func (n *Name) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseName(s)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

func nameProblem(s string) string {
	switch {
	case s == "":
		return "name is empty"
	case len(s) > maxNameLength:
		return "name is longer than 63 characters"
	case s[0] >= '0' && s[0] <= '9':
		return "name starts with a number"
	case strings.HasPrefix(s, "-"):
		return "name starts with dash"
	case strings.HasSuffix(s, "-"):
		return "name ends with dash"
	case strings.Contains(s, "--"):
		return "name contains consecutive dashes"
	}
	if strings.ToLower(s) != s {
		return "name contains uppercase letters"
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '-' {
			return "name contains invalid characters"
		}
	}
	return ""
}
