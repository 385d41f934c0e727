// validate.go - Request method and parameter presence checks.
//
// These only test presence; structural validation (id parsing, exam-list
// decoding) stays in the handlers.
package server

import (
	"fmt"
	"net/http"
	"strings"
)

// checkMethod returns a 400 envelope when the request method does not
// match. Reads are GET, writes are POST, uniformly across endpoints.
func checkMethod(r *http.Request, expected string) *apiError {
	if r.Method != expected {
		return &apiError{status: http.StatusBadRequest, message: "invalid request method"}
	}
	return nil
}

// formValue fetches a required field from the (multipart) form body.
func formValue(r *http.Request, name string) (string, *apiError) {
	v := strings.TrimSpace(r.PostFormValue(name))
	if v == "" {
		return "", &apiError{
			status:  http.StatusBadRequest,
			message: fmt.Sprintf("missing required parameter: %s", name),
		}
	}
	return v, nil
}

// queryValue fetches a required field from the query string.
func queryValue(r *http.Request, name string) (string, *apiError) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return "", &apiError{
			status:  http.StatusBadRequest,
			message: fmt.Sprintf("missing required parameter: %s", name),
		}
	}
	return v, nil
}
