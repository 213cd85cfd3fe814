package diagnosis

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore persists sessions, jobs and feedback in Postgres. State
// transitions use a conditional UPDATE so they are atomic under concurrent
// readers and reject stale writers.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (r *PostgresStore) Insert(ctx context.Context, s *Session) error {
	inputJSON, err := json.Marshal(s.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}

	query := `
		INSERT INTO diagnosis_sessions (id, patient_id, state, input, error_detail, degraded, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.PatientID, s.State, inputJSON, s.Error, s.Degraded, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	query := `SELECT id, patient_id, state, input, result, error_detail, degraded, created_at, updated_at
		FROM diagnosis_sessions WHERE id = $1`

	return scanSession(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresStore) UpdateState(ctx context.Context, id uuid.UUID, from, to State, mut Mutation) (*Session, error) {
	var resultJSON []byte
	if mut.Result != nil {
		var err error
		resultJSON, err = json.Marshal(mut.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
	}

	query := `
		UPDATE diagnosis_sessions
		SET state = $3, result = $4, error_detail = $5, degraded = $6, updated_at = $7
		WHERE id = $1 AND state = $2
		RETURNING id, patient_id, state, input, result, error_detail, degraded, created_at, updated_at
	`
	s, err := scanSession(r.db.QueryRowContext(ctx, query,
		id, from, to, resultJSON, mut.Error, mut.Degraded, time.Now().UTC()))
	if err == ErrSessionNotFound {
		// Distinguish a missing session from one in the wrong state.
		var exists bool
		checkErr := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM diagnosis_sessions WHERE id = $1)`, id).Scan(&exists)
		if checkErr != nil {
			return nil, checkErr
		}
		if exists {
			return nil, ErrInvalidTransition
		}
		return nil, ErrSessionNotFound
	}
	return s, err
}

func (r *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM diagnosis_sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *PostgresStore) InsertJob(ctx context.Context, j *Job) error {
	inputJSON, err := json.Marshal(j.Input)
	if err != nil {
		return fmt.Errorf("marshal job input: %w", err)
	}
	query := `
		INSERT INTO diagnosis_jobs (id, session_id, input, enqueued_at, attempt)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET attempt = $5
	`
	_, err = r.db.ExecContext(ctx, query, j.ID, j.SessionID, inputJSON, j.EnqueuedAt, j.Attempt)
	return err
}

func (r *PostgresStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM diagnosis_jobs WHERE id = $1`, jobID)
	return err
}

func (r *PostgresStore) PendingJobs(ctx context.Context) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, input, enqueued_at, attempt FROM diagnosis_jobs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var inputJSON []byte
		if err := rows.Scan(&j.ID, &j.SessionID, &inputJSON, &j.EnqueuedAt, &j.Attempt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(inputJSON, &j.Input); err != nil {
			return nil, fmt.Errorf("unmarshal job input: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *PostgresStore) SaveFeedback(ctx context.Context, f *Feedback) error {
	query := `
		INSERT INTO diagnosis_feedback (id, session_id, rating, comments, correct_diagnosis, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		f.ID, f.SessionID, f.Rating, f.Comments, f.CorrectDiagnosis, f.CreatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var inputJSON, resultJSON []byte

	err := row.Scan(
		&s.ID,
		&s.PatientID,
		&s.State,
		&inputJSON,
		&resultJSON,
		&s.Error,
		&s.Degraded,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &s.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		s.Result = &Result{}
		if err := json.Unmarshal(resultJSON, s.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	return &s, nil
}
