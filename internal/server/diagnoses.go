// diagnoses.go - Upload, search and download of diagnosis files.
//
// A diagnosis references the exams backing it. The exam set is validated
// before anything is persisted, and the diagnosis row, its join rows and
// the per-CID counter are written in one transaction so no partially
// associated diagnosis is ever visible.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// diagnosisSummary is the projection returned by the search endpoint.
type diagnosisSummary struct {
	ID        int64     `json:"id"`
	CPF       string    `json:"cpf"`
	CID       string    `json:"cid"`
	Exames    []int64   `json:"exames"`
	UpdatedAt time.Time `json:"data"`
}

// parseExamIDs decodes the exames form field (a JSON array of exam ids)
// and deduplicates it, preserving first-seen order.
func parseExamIDs(raw string) ([]int64, error) {
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(ids))
	unique := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	return unique, nil
}

// normalizeCID uppercases a classification code and checks its length.
func normalizeCID(raw string) (string, error) {
	cid := strings.ToUpper(strings.TrimSpace(raw))
	if len(cid) < 3 || len(cid) > 4 {
		return "", fmt.Errorf("cid must be 3 or 4 characters")
	}
	return cid, nil
}

// uploadDiagnosisHandler handles POST /upload/diagnosis
// (form: cpf, cid, exames=JSON array of exam ids, file).
//
// Exam ids are verified before the file is stored; the first missing id
// aborts the request with nothing persisted. After storage, the
// diagnosis, its exam associations and the cid_trackers upsert commit
// atomically. A stored object orphaned by a transaction failure is not
// removed.
func (cfg Config) uploadDiagnosisHandler(db *sql.DB, store objectStorage) http.Handler {
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
		rawCID, apiErr := formValue(r, "cid")
		if apiErr != nil {
			apiErr.write(w)
			return
		}
		rawExames, apiErr := formValue(r, "exames")
		if apiErr != nil {
			apiErr.write(w)
			return
		}

		cid, err := normalizeCID(rawCID)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			respondError(w, http.StatusBadRequest, "no file was uploaded")
			return
		}
		defer func() { _ = file.Close() }()

		examIDs, err := parseExamIDs(rawExames)
		if err != nil {
			respondErrorCause(w, http.StatusBadRequest, "malformed exam list", err)
			return
		}

		// Every referenced exam must exist before anything is written.
		for _, examID := range examIDs {
			var one int
			err := db.QueryRowContext(r.Context(),
				`SELECT 1 FROM exams WHERE id = $1`, examID,
			).Scan(&one)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					respondError(w, http.StatusBadRequest, fmt.Sprintf("exam not found: %d", examID))
					return
				}
				respondErrorCause(w, http.StatusInternalServerError, "failed to look up exam", err)
				return
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
		defer cancel()

		key, err := store.Store(ctx, file, header.Size)
		if err != nil {
			writeStoreError(w, err)
			return
		}

		if err := persistDiagnosis(r.Context(), db, cpf, cid, key, examIDs); err != nil {
			respondErrorCause(w, http.StatusInternalServerError, "failed to save diagnosis record", err)
			return
		}

		recordUpload("diagnosis")
		respondSuccess(w, "file saved successfully", nil)
	})
}

// persistDiagnosis writes the diagnosis row, its exam associations and
// the per-CID counter in a single transaction. The counter upsert is
// atomic at the SQL level, so concurrent uploads of the same CID never
// lose increments.
func persistDiagnosis(ctx context.Context, db *sql.DB, cpf, cid, key string, examIDs []int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var diagnosisID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO diagnoses (cpf, cid, object_key) VALUES ($1, $2, $3) RETURNING id`,
		cpf, cid, key,
	).Scan(&diagnosisID)
	if err != nil {
		return fmt.Errorf("insert diagnosis: %w", err)
	}

	for _, examID := range examIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO diagnosis_exams (diagnosis_id, exam_id) VALUES ($1, $2)`,
			diagnosisID, examID,
		)
		if err != nil {
			return fmt.Errorf("link exam %d: %w", examID, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cid_trackers (cid, counter) VALUES ($1, 1)
		 ON CONFLICT (cid) DO UPDATE SET counter = cid_trackers.counter + 1`,
		cid,
	)
	if err != nil {
		return fmt.Errorf("update cid tracker: %w", err)
	}

	return tx.Commit()
}

// searchDiagnosesHandler handles GET /search/diagnosis?cpf=...
// Each result carries the ids of the exams backing it. An empty result
// is reported as 404 rather than an empty list.
func (cfg Config) searchDiagnosesHandler(db *sql.DB) http.Handler {
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
			`SELECT id, cpf, cid, updated_at FROM diagnoses WHERE cpf = $1 ORDER BY id`,
			cpf,
		)
		if err != nil {
			respondErrorCause(w, http.StatusInternalServerError, "failed to query diagnoses", err)
			return
		}
		defer func() { _ = rows.Close() }()

		var diagnoses []diagnosisSummary
		for rows.Next() {
			var d diagnosisSummary
			if err := rows.Scan(&d.ID, &d.CPF, &d.CID, &d.UpdatedAt); err != nil {
				respondErrorCause(w, http.StatusInternalServerError, "failed to read diagnosis row", err)
				return
			}
			diagnoses = append(diagnoses, d)
		}
		if err := rows.Err(); err != nil {
			respondErrorCause(w, http.StatusInternalServerError, "failed to read diagnosis rows", err)
			return
		}

		if len(diagnoses) == 0 {
			respondError(w, http.StatusNotFound, "no diagnoses found for this cpf")
			return
		}

		for i := range diagnoses {
			ids, err := examIDsFor(r.Context(), db, diagnoses[i].ID)
			if err != nil {
				respondErrorCause(w, http.StatusInternalServerError, "failed to read diagnosis exams", err)
				return
			}
			diagnoses[i].Exames = ids
		}

		respondSuccess(w, "diagnoses retrieved successfully", map[string]any{
			"diagnosticos": diagnoses,
		})
	})
}

func examIDsFor(ctx context.Context, db *sql.DB, diagnosisID int64) ([]int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT exam_id FROM diagnosis_exams WHERE diagnosis_id = $1 ORDER BY exam_id`,
		diagnosisID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// downloadDiagnosisHandler handles GET /download/diagnosis?id=...
// The link generator is only consulted after the record is found.
func (cfg Config) downloadDiagnosisHandler(db *sql.DB, store objectStorage) http.Handler {
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
			`SELECT object_key FROM diagnoses WHERE id = $1`, id,
		).Scan(&objectKey)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				respondError(w, http.StatusNotFound, "diagnosis not found")
				return
			}
			respondErrorCause(w, http.StatusInternalServerError, "failed to look up diagnosis", err)
			return
		}

		url, err := store.LinkFor(r.Context(), objectKey)
		if err != nil {
			respondErrorCause(w, http.StatusInternalServerError, "failed to generate download link", err)
			return
		}

		recordDownloadLink("diagnosis")
		respondSuccess(w, "download link generated successfully", map[string]any{
			"url": url,
		})
	})
}
