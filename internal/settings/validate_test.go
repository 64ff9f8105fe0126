package settings

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freegpt4/webapi/internal/apperr"
)

type fakeProviders []string

func (f fakeProviders) Has(name string) bool {
	for _, n := range f {
		if n == name {
			return true
		}
	}
	return false
}

func (f fakeProviders) Names() []string { return f }

func TestParsePort(t *testing.T) {
	p, err := ParsePort(" 8080 ")
	assert.NoError(t, err)
	assert.Equal(t, 8080, p)

	for _, bad := range []string{"", "abc", "0", "65536", "-1", "80.5"} {
		_, err := ParsePort(bad)
		assert.True(t, apperr.Is(err, apperr.Validation), "ParsePort(%q) err = %v", bad, err)
	}
}

func TestValidateUsername(t *testing.T) {
	for _, ok := range []string{"bob", "alice_99", strings.Repeat("a", 50)} {
		assert.NoError(t, ValidateUsername(ok), ok)
	}
	for _, bad := range []string{"", "ab", strings.Repeat("a", 51), "admin", "ADMIN", "bad name", "héllo", "a-b-c"} {
		assert.Error(t, ValidateUsername(bad), bad)
	}
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, ValidatePassword("longenough", "longenough", 8))
	assert.ErrorContains(t, ValidatePassword("longenough", "different!", 8), "do not match")
	assert.ErrorContains(t, ValidatePassword("short", "short", 8), "at least 8")

	long := strings.Repeat("x", 73)
	assert.ErrorContains(t, ValidatePassword(long, long, 8), "at most 72")
}

func TestValidateModelAndProvider(t *testing.T) {
	assert.NoError(t, ValidateModel("gpt-4"))
	assert.Error(t, ValidateModel(""))
	assert.Error(t, ValidateModel(strings.Repeat("m", 101)))

	providers := fakeProviders{"Auto", "DeepInfra"}
	assert.NoError(t, ValidateProvider("DeepInfra", providers))
	assert.Error(t, ValidateProvider("", providers))
	err := ValidateProvider("Nope", providers)
	assert.ErrorContains(t, err, "Auto, DeepInfra")
}

func TestValidToken(t *testing.T) {
	assert.True(t, ValidToken(NewToken()))
	assert.False(t, ValidToken(""))
	assert.False(t, ValidToken("not-a-uuid"))
	// Version 1 UUID.
	assert.False(t, ValidToken("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "hello", StripControl("\x00hel\x07lo\x7f", 0))
	assert.Equal(t, "line1\nline2", StripControl("  line1\nline2\x1b  ", 0))
	assert.Equal(t, "abc", StripControl("abcdef", 3))
	assert.Equal(t, "日本", StripControl("日本語", 2))

	for _, in := range []string{"gpt-4", "a & b", "llama-3 < 70b", `say "hi"`} {
		got, err := SanitizeField("model", in, 100)
		require.NoError(t, err, in)
		assert.Equal(t, in, got)
	}
	got, err := SanitizeField("model", "\x00gpt-4\x07 ", 100)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", got)

	for _, in := range []string{"<b>gpt-4</b>", "x<y", "gpt-4<turbo>"} {
		_, err := SanitizeField("model", in, 100)
		require.Error(t, err, in)
		assert.True(t, apperr.Is(err, apperr.Validation), in)
		assert.Contains(t, err.Error(), "model must not contain markup")
	}

	assert.Equal(t, "Use <code> tags", SanitizeText("Use <code> tags", 100))
}
