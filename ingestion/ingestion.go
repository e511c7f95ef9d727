// --- t4z-server/ingestion/ingestion.go ---
// Package ingestion loads survey definitions from the on-disk YAML catalog
// into Postgres. It runs once at startup and again on demand from the admin
// surface. Bad survey files are logged to error_logs and skipped; one broken
// file must not block the rest of the catalog.
package ingestion

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"t4z-server/db"
	"t4z-server/models"
)

var validQuestionTypes = []string{"single", "multi", "text", "numeric"}

// Result summarizes one catalog sync.
type Result struct {
	Surveys   int `json:"surveys"`
	Questions int `json:"questions"`
	Options   int `json:"options"`
	Skipped   int `json:"skipped"`
}

// ValidateSurvey checks one parsed survey definition and returns a list of
// problems, each as "field: message". An empty list means the survey is safe
// to upsert.
func ValidateSurvey(survey models.SurveyYAML) []string {
	var issues []string
	if strings.TrimSpace(survey.Code) == "" {
		issues = append(issues, "code: survey code is required")
	}
	if strings.TrimSpace(survey.Title) == "" {
		issues = append(issues, "title: survey title is required")
	}
	if len(survey.Questions) == 0 {
		issues = append(issues, "questions: survey has no questions")
	}

	seenExternal := make(map[string]bool)
	seenPosition := make(map[int]bool)
	for i, q := range survey.Questions {
		where := fmt.Sprintf("questions[%d]", i)
		if strings.TrimSpace(q.ExternalID) == "" {
			issues = append(issues, where+".external_id: required")
		} else if seenExternal[q.ExternalID] {
			issues = append(issues, where+".external_id: duplicate "+q.ExternalID)
		}
		seenExternal[q.ExternalID] = true

		if seenPosition[q.Position] {
			issues = append(issues, fmt.Sprintf("%s.position: duplicate %d", where, q.Position))
		}
		seenPosition[q.Position] = true

		if strings.TrimSpace(q.Text) == "" {
			issues = append(issues, where+".text: required")
		}
		if !isValidQuestionType(q.Type) {
			issues = append(issues, fmt.Sprintf("%s.type: %q is not one of %s", where, q.Type, strings.Join(validQuestionTypes, ", ")))
		}

		if (q.Type == "single" || q.Type == "multi") && len(q.Options) == 0 {
			issues = append(issues, where+".options: choice question has no options")
		}
		seenCodes := make(map[string]bool)
		for j, opt := range q.Options {
			optWhere := fmt.Sprintf("%s.options[%d]", where, j)
			if strings.TrimSpace(opt.Code) == "" {
				issues = append(issues, optWhere+".code: required")
			} else if seenCodes[opt.Code] {
				issues = append(issues, optWhere+".code: duplicate "+opt.Code)
			}
			seenCodes[opt.Code] = true
			if strings.TrimSpace(opt.Text) == "" {
				issues = append(issues, optWhere+".text: required")
			}
		}
	}
	return issues
}

func isValidQuestionType(t string) bool {
	for _, v := range validQuestionTypes {
		if t == v {
			return true
		}
	}
	return false
}

// SyncCatalog reads catalog.yaml under catalogDir and upserts every listed
// survey. Each survey syncs in its own transaction; a failure rolls back
// that survey only.
func SyncCatalog(pool *pgxpool.Pool, catalogDir string) (Result, error) {
	var result Result

	catalogPath := filepath.Join(catalogDir, "catalog.yaml")
	raw, err := os.ReadFile(catalogPath)
	if err != nil {
		return result, fmt.Errorf("failed to read catalog %s: %w", catalogPath, err)
	}

	var catalog models.CatalogYAML
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return result, fmt.Errorf("failed to parse catalog %s: %w", catalogPath, err)
	}

	for _, entry := range catalog.Surveys {
		surveyPath := filepath.Join(catalogDir, entry.File)
		survey, err := loadSurveyFile(surveyPath)
		if err != nil {
			log.Printf("Skipping survey %s: %v", entry.Code, err)
			db.LogError(pool, "ingestion", entry.Code, surveyPath, "", err.Error(), "check that the file exists and is valid YAML")
			result.Skipped++
			continue
		}
		if survey.Code != entry.Code {
			msg := fmt.Sprintf("file declares code %q but catalog says %q", survey.Code, entry.Code)
			log.Printf("Skipping survey %s: %s", entry.Code, msg)
			db.LogError(pool, "ingestion", entry.Code, surveyPath, "code", msg, "align the code fields in catalog.yaml and the survey file")
			result.Skipped++
			continue
		}
		if issues := ValidateSurvey(survey); len(issues) > 0 {
			log.Printf("Skipping survey %s: %d validation issues", entry.Code, len(issues))
			for _, issue := range issues {
				field, msg, _ := strings.Cut(issue, ": ")
				db.LogError(pool, "ingestion", entry.Code, surveyPath, field, msg, "fix the survey definition and re-run ingestion")
			}
			result.Skipped++
			continue
		}

		questions, options, err := upsertSurvey(pool, survey)
		if err != nil {
			log.Printf("Skipping survey %s: %v", entry.Code, err)
			db.LogError(pool, "ingestion", entry.Code, surveyPath, "", err.Error(), "")
			result.Skipped++
			continue
		}
		result.Surveys++
		result.Questions += questions
		result.Options += options
	}

	return result, nil
}

func loadSurveyFile(path string) (models.SurveyYAML, error) {
	var survey models.SurveyYAML
	raw, err := os.ReadFile(path)
	if err != nil {
		return survey, fmt.Errorf("failed to read survey file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &survey); err != nil {
		return survey, fmt.Errorf("failed to parse survey file: %w", err)
	}
	return survey, nil
}

func upsertSurvey(pool *pgxpool.Pool, survey models.SurveyYAML) (int, int, error) {
	ctx := context.Background()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var surveyID string
	err = tx.QueryRow(ctx, `
		INSERT INTO surveys (code, title, is_active)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET title = EXCLUDED.title, is_active = EXCLUDED.is_active
		RETURNING id
	`, survey.Code, survey.Title, survey.Active).Scan(&surveyID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to upsert survey %s: %w", survey.Code, err)
	}

	// Positions are rebuilt from scratch so reordered catalogs never trip
	// the unique (survey_id, position) constraint mid-upsert.
	if _, err := tx.Exec(ctx, `DELETE FROM survey_questions WHERE survey_id = $1`, surveyID); err != nil {
		return 0, 0, fmt.Errorf("failed to clear question positions for %s: %w", survey.Code, err)
	}

	var questionCount, optionCount int
	for _, q := range survey.Questions {
		var questionID string
		err = tx.QueryRow(ctx, `
			INSERT INTO questions (external_id, question_text, question_type)
			VALUES ($1, $2, $3)
			ON CONFLICT (external_id) DO UPDATE SET question_text = EXCLUDED.question_text, question_type = EXCLUDED.question_type
			RETURNING id
		`, q.ExternalID, q.Text, q.Type).Scan(&questionID)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to upsert question %s: %w", q.ExternalID, err)
		}
		questionCount++

		if _, err := tx.Exec(ctx, `
			INSERT INTO survey_questions (survey_id, question_id, position)
			VALUES ($1, $2, $3)
		`, surveyID, questionID, q.Position); err != nil {
			return 0, 0, fmt.Errorf("failed to place question %s at position %d: %w", q.ExternalID, q.Position, err)
		}

		keptOptionIDs, err := upsertOptions(ctx, tx, questionID, q.Options)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to upsert options for question %s: %w", q.ExternalID, err)
		}
		optionCount += len(keptOptionIDs)

		// Options removed from the file are deactivated, not deleted, so
		// historical answers keep their references.
		if _, err := tx.Exec(ctx, `
			UPDATE question_options SET is_active = FALSE
			WHERE question_id = $1 AND NOT (id = ANY($2))
		`, questionID, keptOptionIDs); err != nil {
			return 0, 0, fmt.Errorf("failed to deactivate removed options for question %s: %w", q.ExternalID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to commit survey %s: %w", survey.Code, err)
	}
	return questionCount, optionCount, nil
}

func upsertOptions(ctx context.Context, tx pgx.Tx, questionID string, options []models.OptionYAML) ([]string, error) {
	kept := make([]string, 0, len(options))
	for _, opt := range options {
		var optionID string
		err := tx.QueryRow(ctx, `
			INSERT INTO question_options (question_id, option_code, option_text, position, is_active)
			VALUES ($1, $2, $3, $4, TRUE)
			ON CONFLICT (question_id, option_code)
			DO UPDATE SET option_text = EXCLUDED.option_text, position = EXCLUDED.position, is_active = TRUE
			RETURNING id
		`, questionID, opt.Code, opt.Text, opt.Position).Scan(&optionID)
		if err != nil {
			return nil, err
		}
		kept = append(kept, optionID)
	}
	return kept, nil
}
