// --- t4z-server/handlers/survey_handlers.go ---
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"t4z-server/analysis"
	"t4z-server/middleware"
	"t4z-server/models"
	"t4z-server/responses"
	"t4z-server/utils"
)

// ResponseStore is the slice of response persistence the lifecycle handlers
// need.
type ResponseStore interface {
	FindSurveyID(ctx context.Context, key string) (string, error)
	CreateResponse(ctx context.Context, surveyID, schoolID string) (string, time.Time, error)
	GetResponse(ctx context.Context, responseID string) (*models.SurveyResponse, error)
	UpsertAnswer(ctx context.Context, responseID, questionID string, answerText *string, answerNumeric *float64) (string, error)
	ClearSelectedOptions(ctx context.Context, answerID string) error
	FilterOptionIDs(ctx context.Context, questionID string, optionIDs []string) ([]string, error)
	OptionCodeMap(ctx context.Context, questionID string) (map[string]string, error)
	AddSelectedOption(ctx context.Context, answerID, optionID string) error
	SubmitResponse(ctx context.Context, responseID string) (time.Time, error)
}

// isCanonicalUUID reports whether s is a canonical-form UUID string
// (8-4-4-4-12 hex with dashes). uuid.Parse accepts other encodings too,
// so the parsed value is rendered back and compared.
func isCanonicalUUID(s string) bool {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.String(), s)
}

// normalizeOptionValues trims entries and drops empties, preserving order.
func normalizeOptionValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// allCanonicalUUIDs reports whether every value looks like an option row id.
// A mixed batch is treated as codes: ids that fail the code lookup are
// dropped rather than guessed at.
func allCanonicalUUIDs(values []string) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if !isCanonicalUUID(v) {
			return false
		}
	}
	return true
}

// mapOptionCodes resolves option codes to option row ids, skipping codes
// with no active match and deduplicating while preserving input order.
func mapOptionCodes(codes []string, codeToID map[string]string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, code := range codes {
		id, ok := codeToID[code]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// StartResponse opens a new in-progress response for the authenticated
// school. The survey key is taken as the row id when it is a canonical UUID;
// otherwise it is matched case-insensitively against active survey codes,
// then titles. A key matching zero or several surveys is a client error.
// POST /api/v1/responses
func StartResponse(store ResponseStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		schoolID := c.GetString(middleware.CtxSchoolID)

		var req models.StartResponseRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.SurveyID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "MISSING_SURVEY_ID"})
			return
		}
		key := strings.TrimSpace(req.SurveyID)

		surveyID := key
		if !isCanonicalUUID(key) {
			id, err := store.FindSurveyID(c.Request.Context(), key)
			if errors.Is(err, responses.ErrSurveyNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{
					"ok":     false,
					"error":  "SURVEY_NOT_FOUND",
					"detail": fmt.Sprintf("no active survey matches key %q", key),
				})
				return
			}
			if errors.Is(err, responses.ErrSurveyNotUnique) {
				c.JSON(http.StatusBadRequest, gin.H{
					"ok":     false,
					"error":  "SURVEY_NOT_UNIQUE",
					"detail": fmt.Sprintf("survey key %q matches more than one active survey", key),
				})
				return
			}
			if err != nil {
				log.Printf("Error resolving survey key %q: %v", key, err)
				c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR"})
				return
			}
			surveyID = id
		}

		responseID, startedAt, err := store.CreateResponse(c.Request.Context(), surveyID, schoolID)
		if err != nil {
			log.Printf("Error starting response for school %s survey %s: %v", schoolID, surveyID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "RESPONSE_CREATION_FAILED", "detail": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"ok":          true,
			"response_id": responseID,
			"survey_id":   surveyID,
			"status":      "in_progress",
			"started_at":  startedAt,
		})
	}
}

// loadOwnedResponse fetches a response and enforces that it belongs to the
// calling school. Writes the error reply itself and returns false on failure.
func loadOwnedResponse(c *gin.Context, store ResponseStore, responseID, schoolID string) (*models.SurveyResponse, bool) {
	resp, err := store.GetResponse(c.Request.Context(), responseID)
	if errors.Is(err, responses.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "RESPONSE_NOT_FOUND"})
		return nil, false
	}
	if err != nil {
		log.Printf("Error loading response %s: %v", responseID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
		return nil, false
	}
	if resp.SchoolID != schoolID {
		c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": "FORBIDDEN"})
		return nil, false
	}
	return resp, true
}

// SaveAnswer upserts one answer on a response. Selected options arrive either
// as option row ids or as option codes; the whole batch is interpreted in a
// single mode, reported back to the client. The stored selection is replaced
// wholesale on every save.
// POST /api/v1/responses/:response_id/answers
func SaveAnswer(store ResponseStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		schoolID := c.GetString(middleware.CtxSchoolID)
		responseID := c.Param("response_id")

		var req models.SaveAnswerRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.QuestionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "MISSING_QUESTION_ID"})
			return
		}

		resp, ok := loadOwnedResponse(c, store, responseID, schoolID)
		if !ok {
			return
		}

		var answerText *string
		if req.AnswerText != nil {
			answerText = utils.StringPtr(strings.TrimSpace(*req.AnswerText))
		}

		answerID, err := store.UpsertAnswer(c.Request.Context(), resp.ID, req.QuestionID, answerText, req.AnswerNumeric)
		if err != nil {
			log.Printf("Error saving answer on response %s question %s: %v", resp.ID, req.QuestionID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "ANSWER_SAVE_FAILED", "detail": err.Error()})
			return
		}

		// A re-save of the question must not accumulate stale options.
		if err := store.ClearSelectedOptions(c.Request.Context(), answerID); err != nil {
			log.Printf("Error clearing options for answer %s: %v", answerID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "ANSWER_SAVE_FAILED", "detail": err.Error()})
			return
		}

		cleaned := normalizeOptionValues(req.SelectedOptionIDs)
		mode := "none"
		var warning string
		var optionIDs []string

		if len(cleaned) > 0 {
			if allCanonicalUUIDs(cleaned) {
				mode = "id"
				optionIDs, err = store.FilterOptionIDs(c.Request.Context(), req.QuestionID, cleaned)
				if err != nil {
					log.Printf("Error validating option ids for question %s: %v", req.QuestionID, err)
					c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "ANSWER_SAVE_FAILED", "detail": err.Error()})
					return
				}
			} else {
				mode = "code"
				codeToID, err := store.OptionCodeMap(c.Request.Context(), req.QuestionID)
				if err != nil {
					log.Printf("Error loading option codes for question %s: %v", req.QuestionID, err)
					c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "ANSWER_SAVE_FAILED", "detail": err.Error()})
					return
				}
				optionIDs = mapOptionCodes(cleaned, codeToID)
			}

			if len(optionIDs) == 0 {
				warning = "NO_VALID_OPTIONS_AFTER_MAPPING"
			}
			for _, optionID := range optionIDs {
				if err := store.AddSelectedOption(c.Request.Context(), answerID, optionID); err != nil {
					log.Printf("Error inserting option %s on answer %s: %v", optionID, answerID, err)
					c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "ANSWER_SAVE_FAILED", "detail": err.Error()})
					return
				}
			}
		}

		reply := gin.H{
			"ok":             true,
			"answer_id":      answerID,
			"question_id":    req.QuestionID,
			"options_mode":   mode,
			"options_stored": len(optionIDs),
		}
		if warning != "" {
			reply["warning"] = warning
		}
		c.JSON(http.StatusOK, reply)
	}
}

// SubmitResponse marks a response as submitted. Re-submitting an already
// submitted response just refreshes the timestamp.
// POST /api/v1/responses/:response_id/submit
func SubmitResponse(store ResponseStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		schoolID := c.GetString(middleware.CtxSchoolID)
		responseID := c.Param("response_id")

		resp, ok := loadOwnedResponse(c, store, responseID, schoolID)
		if !ok {
			return
		}

		submittedAt, err := store.SubmitResponse(c.Request.Context(), resp.ID)
		if err != nil {
			log.Printf("Error submitting response %s: %v", resp.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SUBMIT_FAILED", "detail": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ok":           true,
			"response_id":  resp.ID,
			"status":       "submitted",
			"submitted_at": submittedAt,
		})
	}
}

// RequestAnalysis stamps every not-yet-requested submission of the school
// with a shared request timestamp, forming one analysis batch.
// POST /api/v1/request-analysis
func RequestAnalysis(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		schoolID := c.GetString(middleware.CtxSchoolID)
		requestedAt := time.Now().UTC()

		tag, err := pool.Exec(c.Request.Context(), `
			UPDATE survey_responses
			SET analysis_requested_dt = $1
			WHERE school_id = $2
			  AND status = 'submitted'
			  AND analysis_requested_dt IS NULL
		`, requestedAt, schoolID)
		if err != nil {
			log.Printf("Error requesting analysis for school %s: %v", schoolID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ok":                    true,
			"school_id":             schoolID,
			"updated_count":         tag.RowsAffected(),
			"analysis_requested_dt": requestedAt,
		})
	}
}

// ListApprovedAnalyses returns the school's approved analysis batches,
// grouped by request date, newest first.
// GET /api/v1/analyses-approved
func ListApprovedAnalyses(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		schoolID := c.GetString(middleware.CtxSchoolID)

		rows, err := pool.Query(c.Request.Context(), `
			SELECT school_id, analysis_requested_dt, analysis_approved_at, submitted_at
			FROM survey_responses
			WHERE school_id = $1
			  AND status = 'submitted'
			  AND analysis_approved = TRUE
			  AND analysis_requested_dt IS NOT NULL
		`, schoolID)
		if err != nil {
			log.Printf("Error listing approved analyses for school %s: %v", schoolID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
			return
		}
		defer rows.Close()

		var flat []analysis.ResponseRow
		for rows.Next() {
			var row analysis.ResponseRow
			if err := rows.Scan(&row.SchoolID, &row.AnalysisDT, &row.ApprovedAt, &row.SubmittedAt); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
				return
			}
			flat = append(flat, row)
		}
		if err := rows.Err(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ok":        true,
			"school_id": schoolID,
			"analyses":  analysis.GroupByDate(flat),
		})
	}
}

// QuestionsMap returns position -> question id for a survey, the shape the
// frontend uses to resolve its hardcoded question numbers.
// GET /api/v1/surveys/:survey_id/questions-map
func QuestionsMap(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		surveyID := c.Param("survey_id")

		rows, err := pool.Query(c.Request.Context(), `
			SELECT sq.position, q.id
			FROM survey_questions sq
			JOIN questions q ON q.id = sq.question_id
			WHERE sq.survey_id = $1
			ORDER BY sq.position
		`, surveyID)
		if err != nil {
			log.Printf("Error loading questions map for survey %s: %v", surveyID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
			return
		}
		defer rows.Close()

		questionMap := make(map[string]string)
		for rows.Next() {
			var position int
			var questionID string
			if err := rows.Scan(&position, &questionID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
				return
			}
			questionMap[strconv.Itoa(position)] = questionID
		}
		if err := rows.Err(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"ok": true, "survey_id": surveyID, "questions": questionMap})
	}
}

// QuestionIDByExternal resolves a question's stable external id to its row id.
// GET /api/v1/question-id-by-external?external_id=...
func QuestionIDByExternal(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		externalID := strings.TrimSpace(c.Query("external_id"))
		if externalID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "MISSING_EXTERNAL_ID"})
			return
		}

		var questionID string
		err := pool.QueryRow(c.Request.Context(), `
			SELECT id FROM questions WHERE external_id = $1
		`, externalID).Scan(&questionID)
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "QUESTION_NOT_FOUND"})
			return
		}
		if err != nil {
			log.Printf("Error resolving question external id %q: %v", externalID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"ok": true, "external_id": externalID, "question_id": questionID})
	}
}

// QuestionOptions lists the active options of a question in display order.
// GET /api/v1/questions/:question_id/options
func QuestionOptions(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		questionID := c.Param("question_id")

		rows, err := pool.Query(c.Request.Context(), `
			SELECT id, option_code, option_text, position
			FROM question_options
			WHERE question_id = $1 AND is_active = TRUE
			ORDER BY position
		`, questionID)
		if err != nil {
			log.Printf("Error loading options for question %s: %v", questionID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
			return
		}
		defer rows.Close()

		options := make([]gin.H, 0)
		for rows.Next() {
			var id, code, text string
			var position int
			if err := rows.Scan(&id, &code, &text, &position); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
				return
			}
			options = append(options, gin.H{
				"id":          id,
				"option_code": code,
				"option_text": text,
				"position":    position,
			})
		}
		if err := rows.Err(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"ok": true, "question_id": questionID, "options": options})
	}
}

// RoutingConfig returns the survey routing rows for the school's country.
// Schools without a country fall back to MX.
// GET /api/v1/routing-config
func RoutingConfig(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		schoolID := c.GetString(middleware.CtxSchoolID)

		var country *string
		err := pool.QueryRow(c.Request.Context(), `
			SELECT country FROM schools WHERE id = $1
		`, schoolID).Scan(&country)
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SCHOOL_NOT_FOUND"})
			return
		}
		if err != nil {
			log.Printf("Error loading country for school %s: %v", schoolID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
			return
		}
		resolved := "MX"
		if country != nil && *country != "" {
			resolved = *country
		}

		rows, err := pool.Query(c.Request.Context(), `
			SELECT route_key, label, grade_codes, survey_file, display_order
			FROM survey_routing_configs
			WHERE country = $1
			ORDER BY display_order
		`, resolved)
		if err != nil {
			log.Printf("Error loading routing config for country %s: %v", resolved, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
			return
		}
		defer rows.Close()

		configs := make([]models.RoutingConfig, 0)
		for rows.Next() {
			var cfg models.RoutingConfig
			if err := rows.Scan(&cfg.RouteKey, &cfg.Label, &cfg.GradeCodes, &cfg.SurveyFile, &cfg.DisplayOrder); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
				return
			}
			configs = append(configs, cfg)
		}
		if err := rows.Err(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"ok": true, "country": resolved, "configs": configs})
	}
}
