package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/freegpt4/webapi/internal/provider"
	"github.com/freegpt4/webapi/internal/settings"
)

func multipartBody(t *testing.T, fields map[string]string, fileField, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestAsk_QueryParameter(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/?text="+url.QueryEscape("What is Go?"), nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if got := rr.Body.String(); got != "Hello from upstream" {
		t.Errorf("body = %q", got)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	msgs := env.upstream.lastMessages()
	if len(msgs) != 1 || msgs[0].Content != "What is Go?" {
		t.Errorf("upstream messages = %+v", msgs)
	}
}

func TestAsk_CustomKeyword(t *testing.T) {
	env := newTestEnv(t)
	env.resolver.set(func(rs *settings.Resolved) { rs.Keyword = "q" })

	rr := env.do(httptest.NewRequest(http.MethodGet, "/?text=ignored&q=hello", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if msgs := env.upstream.lastMessages(); msgs[len(msgs)-1].Content != "hello" {
		t.Errorf("question = %q, want hello", msgs[len(msgs)-1].Content)
	}
}

func TestAsk_JSONBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"text":"from json"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rr := env.do(req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if msgs := env.upstream.lastMessages(); msgs[0].Content != "from json" {
		t.Errorf("question = %q", msgs[0].Content)
	}
}

func TestAsk_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"text":`))
	req.Header.Set("Content-Type", "application/json")
	rr := env.do(req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if env.upstream.calls() != 0 {
		t.Error("upstream called for invalid body")
	}
}

func TestAsk_FormField(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("text=from+form"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := env.do(req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if msgs := env.upstream.lastMessages(); msgs[0].Content != "from form" {
		t.Errorf("question = %q", msgs[0].Content)
	}
}

func TestAsk_FileUpload(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, map[string]string{"text": "form fallback"}, "file", "question.md", []byte("# Explain\nchannels"))
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	rr := env.do(req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if msgs := env.upstream.lastMessages(); msgs[0].Content != "# Explain\nchannels" {
		t.Errorf("question = %q, want file contents", msgs[0].Content)
	}
}

func TestAsk_FileInputDisabledUsesFormField(t *testing.T) {
	env := newTestEnv(t)
	env.resolver.set(func(rs *settings.Resolved) { rs.FileInput = false })

	body, ct := multipartBody(t, map[string]string{"text": "form fallback"}, "file", "question.txt", []byte("from file"))
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	rr := env.do(req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if msgs := env.upstream.lastMessages(); msgs[0].Content != "form fallback" {
		t.Errorf("question = %q, want form field", msgs[0].Content)
	}
}

func TestAsk_FileUploadRejected(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
	}{
		{"extension", "question.exe", []byte("hello")},
		{"fake pdf", "question.pdf", []byte("just text")},
		{"binary as text", "question.txt", []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d}},
		{"empty", "question.txt", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			body, ct := multipartBody(t, nil, "file", tc.filename, tc.data)
			req := httptest.NewRequest(http.MethodPost, "/", body)
			req.Header.Set("Content-Type", ct)
			rr := env.do(req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body = %s", rr.Code, rr.Body)
			}
			if _, typ := decodeError(t, rr); typ != "upload_error" {
				t.Errorf("type = %q, want upload_error", typ)
			}
			if env.upstream.calls() != 0 {
				t.Error("upstream called for rejected upload")
			}
		})
	}
}

func TestAsk_NoQuestion(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if msg, _ := decodeError(t, rr); msg != "no question provided" {
		t.Errorf("message = %q", msg)
	}
}

func TestAsk_ProviderFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.status = http.StatusInternalServerError

	rr := env.do(httptest.NewRequest(http.MethodGet, "/?text=hi", nil))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
	msg, typ := decodeError(t, rr)
	if msg != "AI provider request failed" || typ != "provider_error" {
		t.Errorf("error = %q/%q", msg, typ)
	}
	if strings.Contains(rr.Body.String(), "upstream broke") {
		t.Error("upstream details leaked to the client")
	}
}

func TestAsk_PrivateMode(t *testing.T) {
	env := newTestEnv(t)
	token := settings.NewToken()
	env.resolver.set(func(rs *settings.Resolved) {
		rs.PrivateMode = true
		rs.Token = token
	})

	rr := env.do(httptest.NewRequest(http.MethodGet, "/?text=hi", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rr.Code)
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, "/?text=hi&token="+token, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status with token = %d, body = %s", rr.Code, rr.Body)
	}
}

func TestAsk_PrivateModeWithoutToken(t *testing.T) {
	env := newTestEnv(t)
	env.resolver.set(func(rs *settings.Resolved) {
		rs.PrivateMode = true
		rs.Token = ""
	})

	for _, target := range []string{"/?text=hi", "/?text=hi&token=", "/?text=hi&token=anything"} {
		if rr := env.do(httptest.NewRequest(http.MethodGet, target, nil)); rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", target, rr.Code)
		}
	}
	if env.upstream.calls() != 0 {
		t.Errorf("upstream called %d times", env.upstream.calls())
	}
}

func TestModelsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"gpt-4", "gpt-4o", "gpt-4o-mini"}},
		{"?provider=Mock", []string{"mock-small", "mock-large"}},
		{"?provider=Unknown", []string{provider.DefaultModel}},
	}
	for _, tc := range tests {
		rr := env.do(httptest.NewRequest(http.MethodGet, "/models"+tc.query, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", tc.query, rr.Code)
		}
		var got []string
		if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
			t.Fatalf("%s: decode: %v", tc.query, err)
		}
		if strings.Join(got, ",") != strings.Join(tc.want, ",") {
			t.Errorf("%s: models = %v, want %v", tc.query, got, tc.want)
		}
	}
}

func TestGenerateToken(t *testing.T) {
	env := newTestEnv(t)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rr := env.do(httptest.NewRequest(method, "/generatetoken", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", method, rr.Code)
		}
		if !settings.ValidToken(rr.Body.String()) {
			t.Errorf("%s: token %q is not a UUID4", method, rr.Body.String())
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != `{"status":"ok"}` {
		t.Fatalf("health = %d %q", rr.Code, rr.Body)
	}

	env.do(httptest.NewRequest(http.MethodGet, "/?text=hi", nil))

	rr = env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{`route="/health"`, `provider="Mock"`} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}
