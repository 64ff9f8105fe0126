package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// passwordCost is the bcrypt cost used for stored passwords. Tests lower it.
var passwordCost = bcrypt.DefaultCost

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

// CheckPassword reports whether password matches hash. An empty hash never matches.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

const settingsColumns = `keyword, file_input, port, provider, model, cookie_file, token,
	remove_sources, system_prompt, message_history, proxies, password, fast_api,
	virtual_users, log_level, chat_history, updated_at`

// EnsureSettings inserts the settings row from defaults when it does not exist
// yet. An existing row is left unchanged.
func (s *queries) EnsureSettings(defaults Settings) error {
	now := time.Now().UTC().Format(time.RFC3339)
	logLevel := defaults.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}
	_, err := s.q.Exec(`
		INSERT OR IGNORE INTO settings (id, `+settingsColumns+`)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		defaults.Keyword, defaults.FileInput, defaults.Port, defaults.Provider, defaults.Model,
		defaults.CookieFile, defaults.Token, defaults.RemoveSources, defaults.SystemPrompt,
		defaults.MessageHistory, defaults.Proxies, defaults.PasswordHash, defaults.FastAPI,
		defaults.VirtualUsers, logLevel, defaults.ChatHistory, now,
	)
	if err != nil {
		return fmt.Errorf("seeding settings: %w", err)
	}
	return nil
}

// GetSettings returns the settings row, or ErrNotFound before EnsureSettings ran.
func (s *queries) GetSettings() (Settings, error) {
	var st Settings
	var updatedAt string
	err := s.q.QueryRow(`SELECT `+settingsColumns+` FROM settings WHERE id = 1`).Scan(
		&st.Keyword, &st.FileInput, &st.Port, &st.Provider, &st.Model, &st.CookieFile, &st.Token,
		&st.RemoveSources, &st.SystemPrompt, &st.MessageHistory, &st.Proxies, &st.PasswordHash,
		&st.FastAPI, &st.VirtualUsers, &st.LogLevel, &st.ChatHistory, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, ErrNotFound
	}
	if err != nil {
		return Settings{}, err
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return Settings{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	st.UpdatedAt = t
	return st, nil
}

// UpdateSettings writes the non-nil fields of u to the settings row. An empty
// update is a no-op.
func (s *queries) UpdateSettings(u SettingsUpdate) error {
	set := newAssignments()
	set.addString("keyword", u.Keyword)
	set.addBool("file_input", u.FileInput)
	set.addInt("port", u.Port)
	set.addString("provider", u.Provider)
	set.addString("model", u.Model)
	set.addString("cookie_file", u.CookieFile)
	set.addString("token", u.Token)
	set.addBool("remove_sources", u.RemoveSources)
	set.addString("system_prompt", u.SystemPrompt)
	set.addBool("message_history", u.MessageHistory)
	set.addBool("proxies", u.Proxies)
	set.addBool("fast_api", u.FastAPI)
	set.addBool("virtual_users", u.VirtualUsers)
	set.addString("log_level", u.LogLevel)
	set.addString("chat_history", u.ChatHistory)
	if u.Password != nil {
		hash, err := HashPassword(*u.Password)
		if err != nil {
			return err
		}
		set.addString("password", &hash)
	}
	if set.empty() {
		return nil
	}
	set.add("updated_at", time.Now().UTC().Format(time.RFC3339))

	res, err := s.q.Exec(`UPDATE settings SET `+set.clause()+` WHERE id = 1`, set.args...)
	if err != nil {
		return fmt.Errorf("updating settings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// VerifyAdminPassword checks password against the stored admin hash. It
// returns false when no admin password is set.
func (s *queries) VerifyAdminPassword(password string) (bool, error) {
	var hash string
	err := s.q.QueryRow(`SELECT password FROM settings WHERE id = 1`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return CheckPassword(hash, password), nil
}

// assignments accumulates "col = ?" pairs for an UPDATE statement. Column
// names come only from the literals in this package.
type assignments struct {
	cols []string
	args []any
}

func newAssignments() *assignments {
	return &assignments{}
}

func (a *assignments) add(col string, v any) {
	a.cols = append(a.cols, col+" = ?")
	a.args = append(a.args, v)
}

func (a *assignments) addString(col string, v *string) {
	if v != nil {
		a.add(col, *v)
	}
}

func (a *assignments) addBool(col string, v *bool) {
	if v != nil {
		a.add(col, *v)
	}
}

func (a *assignments) addInt(col string, v *int) {
	if v != nil {
		a.add(col, *v)
	}
}

func (a *assignments) empty() bool { return len(a.cols) == 0 }

func (a *assignments) clause() string { return strings.Join(a.cols, ", ") }
