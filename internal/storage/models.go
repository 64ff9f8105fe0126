package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique column (username) already holds the value.
var ErrDuplicate = errors.New("already exists")

// AdminUsername identifies the settings-row owner in chat history and auth.
const AdminUsername = "admin"

// Settings is the single persisted settings row. PasswordHash is a bcrypt
// hash or empty when no admin password has been configured.
type Settings struct {
	Keyword        string
	FileInput      bool
	Port           int
	Provider       string
	Model          string
	CookieFile     string
	Token          string
	RemoveSources  bool
	SystemPrompt   string
	MessageHistory bool
	Proxies        bool
	PasswordHash   string
	FastAPI        bool
	VirtualUsers   bool
	LogLevel       string
	ChatHistory    string
	UpdatedAt      time.Time
}

// SettingsUpdate lists the columns to change; nil fields are left untouched.
// Password is plaintext and is hashed before it is written.
type SettingsUpdate struct {
	Keyword        *string
	FileInput      *bool
	Port           *int
	Provider       *string
	Model          *string
	CookieFile     *string
	Token          *string
	RemoveSources  *bool
	SystemPrompt   *string
	MessageHistory *bool
	Proxies        *bool
	Password       *string
	FastAPI        *bool
	VirtualUsers   *bool
	LogLevel       *string
	ChatHistory    *string
}

// User is a virtual user with its own provider settings and history.
type User struct {
	Token          string
	Username       string
	PasswordHash   string
	Provider       string
	Model          string
	SystemPrompt   string
	MessageHistory bool
	ChatHistory    string
	CreatedAt      time.Time
}

// UserUpdate lists the user columns to change; nil fields are left untouched.
type UserUpdate struct {
	Username       *string
	Password       *string
	Provider       *string
	Model          *string
	SystemPrompt   *string
	MessageHistory *bool
	ChatHistory    *string
}
