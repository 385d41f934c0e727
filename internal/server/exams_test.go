package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeStorage implements objectStorage at the handler boundary.
type fakeStorage struct {
	storeCalls int
	storeKey   string
	storeErr   error
	linkCalls  int
	linkURL    string
	linkErr    error
}

func (f *fakeStorage) Store(ctx context.Context, file io.ReadSeeker, size int64) (string, error) {
	f.storeCalls++
	if f.storeErr != nil {
		return "", f.storeErr
	}
	return f.storeKey, nil
}

func (f *fakeStorage) LinkFor(ctx context.Context, key string) (string, error) {
	f.linkCalls++
	if f.linkErr != nil {
		return "", f.linkErr
	}
	return f.linkURL, nil
}

// multipartBody builds a multipart form with the given fields and an
// optional file part.
func multipartBody(t *testing.T, fields map[string]string, fileContent []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if fileContent != nil {
		part, err := writer.CreateFormFile("file", "scan.png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(fileContent); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestUploadExam_InvalidMethod(t *testing.T) {
	cfg := Config{}
	store := &fakeStorage{}
	handler := cfg.uploadExamHandler(nil, store)

	r := httptest.NewRequest(http.MethodGet, "/upload/exam", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, r)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid request method") {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
	if store.storeCalls != 0 {
		t.Error("storage touched on method failure")
	}
}

func TestUploadExam_MissingParams(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]string
		missing string
	}{
		{"no cpf", map[string]string{"tipo": "xray"}, "cpf"},
		{"no tipo", map[string]string{"cpf": "12345678901"}, "tipo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{}
			store := &fakeStorage{}
			handler := cfg.uploadExamHandler(nil, store)

			body, contentType := multipartBody(t, tt.fields, pngPayload())
			r := httptest.NewRequest(http.MethodPost, "/upload/exam", body)
			r.Header.Set("Content-Type", contentType)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, r)

			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tt.missing) {
				t.Errorf("error should name %q: %s", tt.missing, rr.Body.String())
			}
			if store.storeCalls != 0 {
				t.Error("storage touched on param failure")
			}
		})
	}
}

func TestUploadExam_NoFile(t *testing.T) {
	cfg := Config{}
	store := &fakeStorage{}
	handler := cfg.uploadExamHandler(nil, store)

	body, contentType := multipartBody(t, map[string]string{"cpf": "12345678901", "tipo": "xray"}, nil)
	r := httptest.NewRequest(http.MethodPost, "/upload/exam", body)
	r.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, r)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "no file was uploaded") {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
	if store.storeCalls != 0 {
		t.Error("storage touched with no file part")
	}
}

func TestUploadExam_UnsupportedMediaType(t *testing.T) {
	cfg := Config{}
	store := &fakeStorage{storeErr: &UnsupportedMediaTypeError{Detected: "image/gif"}}
	handler := cfg.uploadExamHandler(nil, store)

	body, contentType := multipartBody(t, map[string]string{"cpf": "12345678901", "tipo": "xray"}, []byte("GIF89a"))
	r := httptest.NewRequest(http.MethodPost, "/upload/exam", body)
	r.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, r)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "image/gif") {
		t.Errorf("error should name the detected type: %s", rr.Body.String())
	}
}

func TestUploadExam_StorageFailure(t *testing.T) {
	cfg := Config{}
	store := &fakeStorage{storeErr: fmt.Errorf("storage write failed: connection reset")}
	handler := cfg.uploadExamHandler(nil, store)

	body, contentType := multipartBody(t, map[string]string{"cpf": "12345678901", "tipo": "xray"}, pngPayload())
	r := httptest.NewRequest(http.MethodPost, "/upload/exam", body)
	r.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, r)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "uploading the file") {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

func TestDownloadExam_PreLookupValidation(t *testing.T) {
	cfg := Config{}
	store := &fakeStorage{linkURL: "https://storage.example/x"}
	handler := cfg.downloadExamHandler(nil, store)

	t.Run("invalid method", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/download/exam?id=1", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, r)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/download/exam", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, r)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("non-numeric id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/download/exam?id=abc", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, r)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})

	if store.linkCalls != 0 {
		t.Error("link generator called before a record was found")
	}
}

func TestSearchExams_PreQueryValidation(t *testing.T) {
	cfg := Config{}
	handler := cfg.searchExamsHandler(nil)

	r := httptest.NewRequest(http.MethodPost, "/search/exam?cpf=12345678901", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, r)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("write method on search: status = %d, want 400", rr.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/search/exam", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, r)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing cpf: status = %d, want 400", rr.Code)
	}
}
