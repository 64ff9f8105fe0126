package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const userColumns = `token, username, password, provider, model, system_prompt,
	message_history, chat_history, created_at`

// CreateUser inserts u with the bcrypt hash of password. It returns
// ErrDuplicate when the username or token is already taken.
func (s *queries) CreateUser(u User, password string) (User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.PasswordHash = hash
	_, err = s.q.Exec(`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Token, u.Username, u.PasswordHash, u.Provider, u.Model, u.SystemPrompt,
		u.MessageHistory, u.ChatHistory, u.CreatedAt.UTC().Format(time.RFC3339),
	)
	if isUniqueViolation(err) {
		return User{}, fmt.Errorf("user %q: %w", u.Username, ErrDuplicate)
	}
	if err != nil {
		return User{}, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

func (s *queries) GetUserByToken(token string) (User, error) {
	return s.getUser(`WHERE token = ?`, token)
}

func (s *queries) GetUserByUsername(username string) (User, error) {
	return s.getUser(`WHERE username = ?`, username)
}

func (s *queries) getUser(where string, arg any) (User, error) {
	var u User
	var createdAt string
	err := s.q.QueryRow(`SELECT `+userColumns+` FROM users `+where, arg).Scan(
		&u.Token, &u.Username, &u.PasswordHash, &u.Provider, &u.Model, &u.SystemPrompt,
		&u.MessageHistory, &u.ChatHistory, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return User{}, fmt.Errorf("parsing created_at: %w", err)
	}
	u.CreatedAt = t
	return u, nil
}

// ListUsers returns all virtual users ordered by username.
func (s *queries) ListUsers() ([]User, error) {
	rows, err := s.q.Query(`SELECT ` + userColumns + ` FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var createdAt string
		if err := rows.Scan(&u.Token, &u.Username, &u.PasswordHash, &u.Provider, &u.Model,
			&u.SystemPrompt, &u.MessageHistory, &u.ChatHistory, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		u.CreatedAt = t
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUser writes the non-nil fields of u to the named user.
func (s *queries) UpdateUser(username string, u UserUpdate) error {
	set := newAssignments()
	set.addString("username", u.Username)
	set.addString("provider", u.Provider)
	set.addString("model", u.Model)
	set.addString("system_prompt", u.SystemPrompt)
	set.addBool("message_history", u.MessageHistory)
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

	res, err := s.q.Exec(`UPDATE users SET `+set.clause()+` WHERE username = ?`, append(set.args, username)...)
	if isUniqueViolation(err) {
		return fmt.Errorf("renaming user %q: %w", username, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
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

// DeleteUser removes the named user.
func (s *queries) DeleteUser(username string) error {
	res, err := s.q.Exec(`DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
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

// VerifyUserPassword checks password for the named user. Unknown users
// yield false without an error.
func (s *queries) VerifyUserPassword(username, password string) (bool, error) {
	u, err := s.GetUserByUsername(username)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return CheckPassword(u.PasswordHash, password), nil
}

// GetChatHistory returns the serialized chat history for username. The
// admin history lives on the settings row.
func (s *queries) GetChatHistory(username string) (string, error) {
	if username == AdminUsername {
		st, err := s.GetSettings()
		if err != nil {
			return "", err
		}
		return st.ChatHistory, nil
	}
	u, err := s.GetUserByUsername(username)
	if err != nil {
		return "", err
	}
	return u.ChatHistory, nil
}

// SaveChatHistory replaces the serialized chat history for username.
func (s *queries) SaveChatHistory(username, history string) error {
	if username == AdminUsername {
		return s.UpdateSettings(SettingsUpdate{ChatHistory: &history})
	}
	return s.UpdateUser(username, UserUpdate{ChatHistory: &history})
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
