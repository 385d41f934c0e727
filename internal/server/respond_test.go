package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	return body
}

func TestRespondSuccess(t *testing.T) {
	rr := httptest.NewRecorder()
	respondSuccess(rr, "done", map[string]any{"url": "https://x"})

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "success" || body["message"] != "done" || body["url"] != "https://x" {
		t.Errorf("unexpected envelope: %v", body)
	}
}

func TestRespondError(t *testing.T) {
	rr := httptest.NewRecorder()
	respondError(rr, http.StatusNotFound, "exam not found")

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "error" || body["message"] != "exam not found" {
		t.Errorf("unexpected envelope: %v", body)
	}
	if _, present := body["error"]; present {
		t.Error("error field present without a cause")
	}
}

func TestRespondErrorCause(t *testing.T) {
	rr := httptest.NewRecorder()
	respondErrorCause(rr, http.StatusInternalServerError, "upload failed", errors.New("boom"))

	body := decodeBody(t, rr)
	if body["error"] != "boom" {
		t.Errorf("error field = %v, want boom", body["error"])
	}
}
