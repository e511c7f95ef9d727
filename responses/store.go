// --- t4z-server/responses/store.go ---
package responses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"t4z-server/models"
)

// ErrNotFound is returned when no response matches the given id.
var ErrNotFound = errors.New("response not found")

// ErrSurveyNotFound is returned when a survey key matches no active survey.
var ErrSurveyNotFound = errors.New("survey not found")

// ErrSurveyNotUnique is returned when a survey key matches more than one
// active survey.
var ErrSurveyNotUnique = errors.New("survey key is ambiguous")

// Store persists survey responses, answers, and selected options.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// FindSurveyID resolves a non-UUID survey key: exact case-insensitive match
// on active survey codes first, then on titles.
func (s *Store) FindSurveyID(ctx context.Context, key string) (string, error) {
	ids, err := s.surveyIDs(ctx, `SELECT id FROM surveys WHERE LOWER(code) = LOWER($1) AND is_active = TRUE`, key)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		ids, err = s.surveyIDs(ctx, `SELECT id FROM surveys WHERE LOWER(title) = LOWER($1) AND is_active = TRUE`, key)
		if err != nil {
			return "", err
		}
	}
	if len(ids) == 0 {
		return "", ErrSurveyNotFound
	}
	if len(ids) > 1 {
		return "", ErrSurveyNotUnique
	}
	return ids[0], nil
}

func (s *Store) surveyIDs(ctx context.Context, query, key string) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up survey key: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan survey id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read survey ids: %w", err)
	}
	return ids, nil
}

// CreateResponse opens a new in-progress response row.
func (s *Store) CreateResponse(ctx context.Context, surveyID, schoolID string) (string, time.Time, error) {
	var id string
	var startedAt time.Time
	err := s.pool.QueryRow(ctx, `
		INSERT INTO survey_responses (survey_id, school_id, status)
		VALUES ($1, $2, 'in_progress')
		RETURNING id, started_at
	`, surveyID, schoolID).Scan(&id, &startedAt)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create response: %w", err)
	}
	return id, startedAt, nil
}

// GetResponse fetches one response by id.
func (s *Store) GetResponse(ctx context.Context, responseID string) (*models.SurveyResponse, error) {
	var resp models.SurveyResponse
	err := s.pool.QueryRow(ctx, `
		SELECT id, survey_id, school_id, status, submitted_at
		FROM survey_responses WHERE id = $1
	`, responseID).Scan(&resp.ID, &resp.SurveyID, &resp.SchoolID, &resp.Status, &resp.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load response %s: %w", responseID, err)
	}
	return &resp, nil
}

// UpsertAnswer writes the answer for one question of one response, replacing
// any earlier value. Returns the stable answer row id.
func (s *Store) UpsertAnswer(ctx context.Context, responseID, questionID string, answerText *string, answerNumeric *float64) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO question_answers (survey_response_id, question_id, answer_text, answer_numeric)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (survey_response_id, question_id)
		DO UPDATE SET answer_text = EXCLUDED.answer_text,
		              answer_numeric = EXCLUDED.answer_numeric
		RETURNING id
	`, responseID, questionID, answerText, answerNumeric).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to upsert answer: %w", err)
	}
	return id, nil
}

// ClearSelectedOptions removes every selected option of an answer.
func (s *Store) ClearSelectedOptions(ctx context.Context, answerID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM answer_selected_options WHERE question_answer_id = $1`, answerID)
	if err != nil {
		return fmt.Errorf("failed to clear selected options: %w", err)
	}
	return nil
}

// FilterOptionIDs keeps only the ids that are active options of the question.
func (s *Store) FilterOptionIDs(ctx context.Context, questionID string, optionIDs []string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM question_options
		WHERE id = ANY($1) AND question_id = $2 AND is_active = TRUE
	`, optionIDs, questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to validate option ids: %w", err)
	}
	defer rows.Close()
	var valid []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan option id: %w", err)
		}
		valid = append(valid, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read option ids: %w", err)
	}
	return valid, nil
}

// OptionCodeMap returns option_code -> id for the question's active options.
func (s *Store) OptionCodeMap(ctx context.Context, questionID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT option_code, id FROM question_options
		WHERE question_id = $1 AND is_active = TRUE
	`, questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load option codes: %w", err)
	}
	defer rows.Close()
	codeToID := make(map[string]string)
	for rows.Next() {
		var code, id string
		if err := rows.Scan(&code, &id); err != nil {
			return nil, fmt.Errorf("failed to scan option code: %w", err)
		}
		codeToID[code] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read option codes: %w", err)
	}
	return codeToID, nil
}

// AddSelectedOption records one selected option on an answer. Idempotent.
func (s *Store) AddSelectedOption(ctx context.Context, answerID, optionID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO answer_selected_options (question_answer_id, option_id)
		VALUES ($1, $2)
		ON CONFLICT (question_answer_id, option_id) DO NOTHING
	`, answerID, optionID)
	if err != nil {
		return fmt.Errorf("failed to insert selected option: %w", err)
	}
	return nil
}

// SubmitResponse marks a response submitted and stamps submitted_at.
// Submitting an already submitted response refreshes the timestamp.
func (s *Store) SubmitResponse(ctx context.Context, responseID string) (time.Time, error) {
	var submittedAt time.Time
	err := s.pool.QueryRow(ctx, `
		UPDATE survey_responses
		SET status = 'submitted', submitted_at = NOW()
		WHERE id = $1
		RETURNING submitted_at
	`, responseID).Scan(&submittedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to submit response %s: %w", responseID, err)
	}
	return submittedAt, nil
}
