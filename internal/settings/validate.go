package settings

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/freegpt4/webapi/internal/apperr"
	"github.com/freegpt4/webapi/internal/storage"
)

// bcrypt ignores everything after 72 bytes.
const maxPasswordBytes = 72

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ParsePort validates a port given as text.
func ParsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, apperr.Validationf("invalid port: must be a valid number")
	}
	if err := ValidatePort(p); err != nil {
		return 0, err
	}
	return p, nil
}

// ValidatePort checks the 1-65535 range.
func ValidatePort(p int) error {
	if p < 1 || p > 65535 {
		return apperr.Validationf("invalid port: must be between 1 and 65535")
	}
	return nil
}

// ValidateUsername enforces 3-50 characters of letters, digits and
// underscores. "admin" in any case is reserved.
func ValidateUsername(name string) error {
	switch {
	case name == "":
		return apperr.Validationf("username cannot be empty")
	case len(name) < 3:
		return apperr.Validationf("username must be at least 3 characters long")
	case len(name) > MaxUsernameLength:
		return apperr.Validationf("username must be at most %d characters long", MaxUsernameLength)
	case strings.EqualFold(name, storage.AdminUsername):
		return apperr.Validationf("username %q is reserved", storage.AdminUsername)
	case !usernamePattern.MatchString(name):
		return apperr.Validationf("username can only contain letters, numbers, and underscores")
	}
	return nil
}

// ValidatePassword checks a new password and its confirmation.
func ValidatePassword(password, confirm string, minLength int) error {
	if password != confirm {
		return apperr.Validationf("passwords do not match")
	}
	if len([]rune(password)) < minLength {
		return apperr.Validationf("password must be at least %d characters long", minLength)
	}
	if len(password) > maxPasswordBytes {
		return apperr.Validationf("password must be at most %d bytes long", maxPasswordBytes)
	}
	return nil
}

// ValidateModel requires a non-empty name of at most MaxModelLength characters.
func ValidateModel(model string) error {
	if model == "" {
		return apperr.Validationf("model cannot be empty")
	}
	if len([]rune(model)) > MaxModelLength {
		return apperr.Validationf("model name too long")
	}
	return nil
}

// Providers is the registry view needed for validation.
type Providers interface {
	Has(name string) bool
	Names() []string
}

// ValidateProvider requires a registered provider name.
func ValidateProvider(name string, providers Providers) error {
	if name == "" {
		return apperr.Validationf("provider cannot be empty")
	}
	if !providers.Has(name) {
		return apperr.Validationf("provider %q not available. Available: %s", name, strings.Join(providers.Names(), ", "))
	}
	return nil
}

// ValidToken reports whether s is a well-formed version 4 UUID.
func ValidToken(s string) bool {
	u, err := uuid.Parse(s)
	return err == nil && u.Version() == 4 && u.String() == strings.ToLower(s)
}

// NewToken returns a fresh version 4 UUID string.
func NewToken() string {
	return uuid.NewString()
}
