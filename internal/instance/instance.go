package instance

import (
	"strings"
	"time"
	"unicode"

	"github.com/Iron-Ham/cubic/internal/errors"
)

// Instance is a game version bound to a private working directory.
type Instance struct {
	// Name is unique and doubles as the directory name.
	Name string
	// Version is the engine version id.
	Version string
	// LastPlayed is zero until the instance is first started.
	LastPlayed time.Time
}

// Played reports whether the instance has ever been started.
func (i Instance) Played() bool {
	return !i.LastPlayed.IsZero()
}

// MaxNameLength bounds instance names.
const MaxNameLength = 64

// ErrDuplicateName is matched by the validation error returned when a name
// is already taken.
var ErrDuplicateName = errors.New("instance name already in use")

// ValidateName checks that name is usable as an instance and directory name.
func ValidateName(name string) error {
	invalid := func(msg string) error {
		return errors.NewValidationError(msg).WithField("name").WithValue(name)
	}

	switch {
	case name == "":
		return invalid("name must not be empty")
	case len(name) > MaxNameLength:
		return invalid("name is too long")
	case name == "." || name == "..":
		return invalid("name is reserved")
	case strings.HasSuffix(name, " ") || strings.HasSuffix(name, "."):
		return invalid("name must not end with a space or a dot")
	}

	for i, r := range name {
		if i == 0 && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return invalid("name must start with a letter or digit")
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		switch r {
		case ' ', '.', '_', '-', '(', ')':
			continue
		}
		return invalid("name contains invalid character " + string(r))
	}
	return nil
}

// ValidateVersion checks that version is a plausible version id.
func ValidateVersion(version string) error {
	invalid := func(msg string) error {
		return errors.NewValidationError(msg).WithField("version").WithValue(version)
	}
	if version == "" {
		return invalid("version must not be empty")
	}
	if strings.ContainsAny(version, `/\`) {
		return invalid("version must not contain path separators")
	}
	if strings.IndexFunc(version, unicode.IsSpace) >= 0 {
		return invalid("version must not contain whitespace")
	}
	return nil
}
