package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"

	"github.com/freegpt4/webapi/internal/apperr"
	"github.com/freegpt4/webapi/internal/settings"
)

// questionExtensions are the accepted question upload types.
var questionExtensions = []string{"txt", "md", "json", "pdf"}

// extractQuestion reads the question from, in order: the query parameter
// named keyword, the same field of a JSON body, an uploaded "file" (only
// when fileInput is on) and finally the form field named keyword.
func extractQuestion(r *http.Request, keyword string, fileInput bool, maxBytes int64) (string, error) {
	if q := r.URL.Query().Get(keyword); q != "" {
		return q, nil
	}
	if r.Method != http.MethodPost || r.Body == nil {
		return "", nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		return jsonQuestion(r.Body, keyword, maxBytes)
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return "", apperr.Validationf("invalid multipart body")
		}
		if fileInput {
			q, found, err := fileQuestion(r, maxBytes)
			if err != nil || found {
				return q, err
			}
		}
	}
	return r.FormValue(keyword), nil
}

func jsonQuestion(body io.Reader, keyword string, maxBytes int64) (string, error) {
	var payload map[string]any
	if err := json.NewDecoder(io.LimitReader(body, maxBytes)).Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", apperr.Validationf("invalid JSON body")
	}
	switch v := payload[keyword].(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}

func fileQuestion(r *http.Request, maxBytes int64) (string, bool, error) {
	f, hdr, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Uploadf("could not read uploaded file")
	}
	defer f.Close()

	ext := settings.Extension(hdr.Filename)
	if !slices.Contains(questionExtensions, ext) {
		return "", true, apperr.Uploadf("file extension %q not allowed. Allowed: %s", ext, strings.Join(questionExtensions, ", "))
	}
	data, err := io.ReadAll(io.LimitReader(f, maxBytes))
	if err != nil {
		return "", true, apperr.Uploadf("could not read uploaded file")
	}
	if len(data) == 0 {
		return "", true, apperr.Uploadf("uploaded file is empty")
	}

	mt := mimetype.Detect(data)
	if ext == "pdf" {
		if !mt.Is("application/pdf") {
			return "", true, apperr.Uploadf("uploaded file is %s, not PDF", mt.String())
		}
		text, err := pdfText(data)
		if err != nil {
			return "", true, apperr.Uploadf("could not extract text from PDF")
		}
		return text, true, nil
	}
	if !isText(mt) {
		return "", true, apperr.Uploadf("uploaded file is %s, not text", mt.String())
	}
	return string(data), true, nil
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func pdfText(data []byte) (string, error) {
	rd, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := rd.GetPlainText()
	if err != nil {
		return "", err
	}
	var b bytes.Buffer
	if _, err := io.Copy(&b, plain); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}
