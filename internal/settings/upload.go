package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/freegpt4/webapi/internal/apperr"
)

// Upload is a file received with a save request.
type Upload struct {
	Filename string
	Data     []byte
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeFilename reduces name to a base name made of portable characters.
func SafeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "_" {
		return "upload"
	}
	return name
}

// Extension returns the lower-case extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// ValidateCookieUpload checks the extension against allowed and requires the
// content to be a JSON object.
func ValidateCookieUpload(u Upload, allowed []string) error {
	if u.Filename == "" {
		return apperr.Uploadf("no file provided")
	}
	ext := Extension(u.Filename)
	if ext == "" {
		return apperr.Uploadf("file must have an extension")
	}
	if !slices.Contains(allowed, ext) {
		return apperr.Uploadf("file extension %q not allowed. Allowed: %s", ext, strings.Join(allowed, ", "))
	}
	if len(u.Data) == 0 {
		return apperr.Uploadf("uploaded file is empty")
	}
	if mt := mimetype.Detect(u.Data); !mt.Is("application/json") {
		return apperr.Uploadf("uploaded file is %s, not JSON", mt.String())
	}
	var obj map[string]any
	if err := json.Unmarshal(u.Data, &obj); err != nil || obj == nil {
		return apperr.Uploadf("cookie file must contain a JSON object")
	}
	return nil
}

// StoreUpload writes data into dir under the sanitised filename, replacing
// any previous file atomically, and returns the final path.
func StoreUpload(dir string, u Upload) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating upload directory: %w", err)
	}
	path := filepath.Join(dir, SafeFilename(u.Filename))

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp upload: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(u.Data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing upload: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("storing upload: %w", err)
	}
	return path, nil
}

// LoadCookies reads a JSON object of cookie names to values. A missing or
// empty file yields no cookies. Non-string values are rendered as JSON.
func LoadCookies(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cookie file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding cookie file %s: %w", path, err)
	}
	cookies := make(map[string]string, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case string:
			cookies[k] = tv
		case nil:
			cookies[k] = ""
		default:
			b, _ := json.Marshal(tv)
			cookies[k] = string(b)
		}
	}
	return cookies, nil
}
