package settings

import (
	"errors"
	"fmt"
	"sort"

	"github.com/freegpt4/webapi/internal/apperr"
	"github.com/freegpt4/webapi/internal/storage"
)

type userRename struct {
	from, to string
}

// userOps is the set of changes that brings the stored users in line with
// the submitted username_<token> fields.
type userOps struct {
	deletes []string
	renames []userRename
	creates []storage.User
}

// validateUserNames checks every non-empty submitted name and rejects
// duplicates within the form.
func validateUserNames(users map[string]string) error {
	seen := make(map[string]bool, len(users))
	for _, name := range users {
		if name == "" {
			continue
		}
		if err := ValidateUsername(name); err != nil {
			return err
		}
		if seen[name] {
			return apperr.Validationf("username %q is used more than once", name)
		}
		seen[name] = true
	}
	return nil
}

// planUsers diffs the submitted users against current. Tokens missing from
// the form are deleted, changed names are renamed and unknown tokens with a
// name are created from template. Empty names leave existing users
// untouched and are ignored for new ones.
func planUsers(current []storage.User, submitted map[string]string, template storage.User) (userOps, error) {
	var ops userOps
	byToken := make(map[string]storage.User, len(current))
	for _, u := range current {
		byToken[u.Token] = u
		if _, ok := submitted[u.Token]; !ok {
			ops.deletes = append(ops.deletes, u.Username)
		}
	}

	tokens := make([]string, 0, len(submitted))
	for token := range submitted {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	for _, token := range tokens {
		name := submitted[token]
		if name == "" {
			continue
		}
		if u, ok := byToken[token]; ok {
			if u.Username != name {
				ops.renames = append(ops.renames, userRename{from: u.Username, to: name})
			}
			continue
		}
		if !ValidToken(token) {
			token = NewToken()
		}
		u := template
		u.Token = token
		u.Username = name
		ops.creates = append(ops.creates, u)
	}
	return ops, nil
}

// apply runs deletes, then renames, then creates. New users start with
// their username as password.
func (ops userOps) apply(tx *storage.Tx) error {
	for _, name := range ops.deletes {
		if err := tx.DeleteUser(name); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("deleting user %q: %w", name, err)
		}
	}
	for _, r := range ops.renames {
		to := r.to
		if err := tx.UpdateUser(r.from, storage.UserUpdate{Username: &to}); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return apperr.Validationf("username %q already exists", r.to)
			}
			return fmt.Errorf("renaming user %q: %w", r.from, err)
		}
	}
	for _, u := range ops.creates {
		if _, err := tx.CreateUser(u, u.Username); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return apperr.Validationf("username %q already exists", u.Username)
			}
			return fmt.Errorf("creating user %q: %w", u.Username, err)
		}
	}
	return nil
}
