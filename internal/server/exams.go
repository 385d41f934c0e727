// exams.go - Upload, search and download of exam files.
package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// examSummary is the projection returned by the search endpoint.
type examSummary struct {
	ID        int64     `json:"id"`
	CPF       string    `json:"cpf"`
	Tipo      string    `json:"tipo"`
	UpdatedAt time.Time `json:"data"`
}

// uploadExamHandler handles POST /upload/exam (form: cpf, tipo, file).
//
// The workflow is strictly linear: method, params, file part, storage
// write, record insert. A failure stops the flow where it happened; a
// stored object orphaned by a later insert failure is not removed.
func (cfg Config) uploadExamHandler(db *sql.DB, store objectStorage) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiErr := checkMethod(r, http.MethodPost); apiErr != nil {
			apiErr.write(w)
			return
		}

		cpf, apiErr := formValue(r, "cpf")
		if apiErr != nil {
			apiErr.write(w)
			return
		}
		tipo, apiErr := formValue(r, "tipo")
		if apiErr != nil {
			apiErr.write(w)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			respondError(w, http.StatusBadRequest, "no file was uploaded")
			return
		}
		defer func() { _ = file.Close() }()

		ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
		defer cancel()

		key, err := store.Store(ctx, file, header.Size)
		if err != nil {
			writeStoreError(w, err)
			return
		}

		_, err = db.ExecContext(r.Context(),
			`INSERT INTO exams (cpf, object_key, tipo) VALUES ($1, $2, $3)`,
			cpf, key, tipo,
		)
		if err != nil {
			respondErrorCause(w, http.StatusInternalServerError, "failed to save exam record", err)
			return
		}

		recordUpload("exam")
		respondSuccess(w, "file saved successfully", nil)
	})
}

// writeStoreError maps storage-adapter failures onto the envelope:
// an unsupported media type is the client's fault, anything else is a
// storage-side upload failure.
func writeStoreError(w http.ResponseWriter, err error) {
	var unsupported *UnsupportedMediaTypeError
	if errors.As(err, &unsupported) {
		respondError(w, http.StatusBadRequest, unsupported.Error())
		return
	}
	respondErrorCause(w, http.StatusInternalServerError, "something went wrong while uploading the file", err)
}

// searchExamsHandler handles GET /search/exam?cpf=...
// An empty result is reported as 404 rather than an empty list.
func (cfg Config) searchExamsHandler(db *sql.DB) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiErr := checkMethod(r, http.MethodGet); apiErr != nil {
			apiErr.write(w)
			return
		}

		cpf, apiErr := queryValue(r, "cpf")
		if apiErr != nil {
			apiErr.write(w)
			return
		}

		rows, err := db.QueryContext(r.Context(),
			`SELECT id, cpf, tipo, updated_at FROM exams WHERE cpf = $1 ORDER BY id`,
			cpf,
		)
		if err != nil {
			respondErrorCause(w, http.StatusInternalServerError, "failed to query exams", err)
			return
		}
		defer func() { _ = rows.Close() }()

		var exams []examSummary
		for rows.Next() {
			var e examSummary
			if err := rows.Scan(&e.ID, &e.CPF, &e.Tipo, &e.UpdatedAt); err != nil {
				respondErrorCause(w, http.StatusInternalServerError, "failed to read exam row", err)
				return
			}
			exams = append(exams, e)
		}
		if err := rows.Err(); err != nil {
			respondErrorCause(w, http.StatusInternalServerError, "failed to read exam rows", err)
			return
		}

		if len(exams) == 0 {
			respondError(w, http.StatusNotFound, "no exams found for this cpf")
			return
		}

		respondSuccess(w, "exams retrieved successfully", map[string]any{
			"exames": exams,
		})
	})
}

// downloadExamHandler handles GET /download/exam?id=...
// The link generator is only consulted after the record is found.
func (cfg Config) downloadExamHandler(db *sql.DB, store objectStorage) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiErr := checkMethod(r, http.MethodGet); apiErr != nil {
			apiErr.write(w)
			return
		}

		idStr, apiErr := queryValue(r, "id")
		if apiErr != nil {
			apiErr.write(w)
			return
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid id")
			return
		}

		var objectKey string
		err = db.QueryRowContext(r.Context(),
			`SELECT object_key FROM exams WHERE id = $1`, id,
		).Scan(&objectKey)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				respondError(w, http.StatusNotFound, "exam not found")
				return
			}
			respondErrorCause(w, http.StatusInternalServerError, "failed to look up exam", err)
			return
		}

		url, err := store.LinkFor(r.Context(), objectKey)
		if err != nil {
			respondErrorCause(w, http.StatusInternalServerError, "failed to generate download link", err)
			return
		}

		recordDownloadLink("exam")
		respondSuccess(w, "download link generated successfully", map[string]any{
			"url": url,
		})
	})
}
