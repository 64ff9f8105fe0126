package settings

import (
	"net/url"
	"strconv"
	"strings"
)

// SaveForm is the admin save request. Nil optional fields leave the stored
// value unchanged.
type SaveForm struct {
	Username string
	Password string

	Keyword      *string
	Port         *string
	Provider     *string
	Model        *string
	SystemPrompt *string
	LogLevel     *string

	FileInput      *bool
	RemoveSources  *bool
	MessageHistory *bool
	Proxies        *bool
	FastAPI        *bool
	VirtualUsers   *bool
	PrivateMode    *bool
	Token          string

	NewPassword     string
	ConfirmPassword string

	// ProxyURLs are the proxy_1..proxy_N fields in order.
	ProxyURLs []string
	// Users maps each username_<token> field's token to the submitted username.
	Users map[string]string

	CookieFile *Upload
}

// UserSaveForm is the virtual user save request.
type UserSaveForm struct {
	Password string

	Provider       *string
	Model          *string
	SystemPrompt   *string
	MessageHistory *bool

	NewPassword     string
	ConfirmPassword string
}

// ParseSaveForm maps submitted form values onto a SaveForm.
func ParseSaveForm(v url.Values) SaveForm {
	f := SaveForm{
		Username:        v.Get("username"),
		Password:        v.Get("password"),
		Keyword:         optString(v, "keyword"),
		Port:            optString(v, "port"),
		Provider:        optString(v, "provider"),
		Model:           optString(v, "model"),
		SystemPrompt:    optString(v, "system_prompt"),
		LogLevel:        optString(v, "log_level"),
		FileInput:       optBool(v, "file_input"),
		RemoveSources:   optBool(v, "remove_sources"),
		MessageHistory:  optBool(v, "message_history"),
		Proxies:         optBool(v, "proxies"),
		FastAPI:         optBool(v, "fast_api"),
		VirtualUsers:    optBool(v, "virtual_users"),
		PrivateMode:     optBool(v, "private_mode"),
		Token:           strings.TrimSpace(v.Get("token")),
		NewPassword:     v.Get("new_password"),
		ConfirmPassword: v.Get("confirm_password"),
		Users:           make(map[string]string),
	}

	for i := 1; ; i++ {
		key := "proxy_" + strconv.Itoa(i)
		if !v.Has(key) {
			break
		}
		f.ProxyURLs = append(f.ProxyURLs, v.Get(key))
	}

	for key := range v {
		if token, ok := strings.CutPrefix(key, "username_"); ok && token != "" {
			f.Users[token] = v.Get(key)
		}
	}
	return f
}

// ParseUserSaveForm maps submitted form values onto a UserSaveForm.
func ParseUserSaveForm(v url.Values) UserSaveForm {
	return UserSaveForm{
		Password:        v.Get("password"),
		Provider:        optString(v, "provider"),
		Model:           optString(v, "model"),
		SystemPrompt:    optString(v, "system_prompt"),
		MessageHistory:  optBool(v, "message_history"),
		NewPassword:     v.Get("new_password"),
		ConfirmPassword: v.Get("confirm_password"),
	}
}

func optString(v url.Values, key string) *string {
	if !v.Has(key) {
		return nil
	}
	s := v.Get(key)
	return &s
}

// optBool reads a checkbox. The first value wins so a checkbox followed by
// a hidden "false" input reports both states.
func optBool(v url.Values, key string) *bool {
	if !v.Has(key) {
		return nil
	}
	b := v.Get(key) == "true"
	return &b
}
