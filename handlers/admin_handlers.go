// --- t4z-server/handlers/admin_handlers.go ---
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"t4z-server/analysis"
	"t4z-server/config"
	"t4z-server/db"
	"t4z-server/ingestion"
	"t4z-server/middleware"
	"t4z-server/models"
	"t4z-server/session"
	"t4z-server/token"
	"t4z-server/utils"
)

var validCountries = []string{"MX", "CL", "CR", "DO", "US"}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// AdminLogin authenticates a reviewer and opens an opaque-token session.
// Besides the httpOnly session cookie, username and role go out as readable
// cookies so the admin frontend can render the header without a roundtrip.
// POST /api/v1/admin/login
func AdminLogin(pool *pgxpool.Pool, store *session.Store, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "MISSING_FIELDS"})
			return
		}

		var admin models.AdminUser
		var passwordHash string
		err := pool.QueryRow(c.Request.Context(), `
			SELECT id, username, full_name, role, is_active, password_hash
			FROM admin_users WHERE username = $1
		`, req.Username).Scan(&admin.ID, &admin.Username, &admin.FullName, &admin.Role, &admin.IsActive, &passwordHash)
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "INVALID_CREDENTIALS"})
			return
		}
		if err != nil {
			log.Printf("Error querying admin %s: %v", req.Username, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR"})
			return
		}
		if !admin.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "ADMIN_INACTIVE"})
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "INVALID_CREDENTIALS"})
			return
		}

		sessionToken, err := token.GenerateOpaqueToken()
		if err != nil {
			log.Printf("Error generating session token for admin %s: %v", admin.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SESSION_CREATION_FAILED"})
			return
		}
		expiresAt := token.ComputeExpiry(cfg.SessionHours)

		_, err = store.Create(c.Request.Context(), admin.ID, sessionToken, expiresAt, session.ClientMeta{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		if err != nil {
			log.Printf("Error creating session for admin %s: %v", admin.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SESSION_CREATION_FAILED"})
			return
		}

		// last_login is informational only; do not hold up the login for it.
		go func(adminID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := pool.Exec(ctx, `UPDATE admin_users SET last_login = NOW() WHERE id = $1`, adminID); err != nil {
				log.Printf("Error updating last_login for admin %s: %v", adminID, err)
			}
		}(admin.ID)

		maxAge := cfg.SessionHours * 3600
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(middleware.CookieAdminSession, sessionToken, maxAge, "/", "", cfg.CookieSecure, true)
		c.SetCookie(middleware.CookieAdminUsername, admin.Username, maxAge, "/", "", cfg.CookieSecure, false)
		c.SetCookie(middleware.CookieAdminRole, admin.Role, maxAge, "/", "", cfg.CookieSecure, false)

		c.JSON(http.StatusOK, gin.H{
			"ok":        true,
			"admin_id":  admin.ID,
			"username":  admin.Username,
			"full_name": admin.FullName,
			"role":      admin.Role,
		})
	}
}

// AdminLogout revokes the session row when the cookie holds a well-formed
// token, and clears all admin cookies either way.
// POST /api/v1/admin/logout
func AdminLogout(pool *pgxpool.Pool, store *session.Store, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tok, err := c.Cookie(middleware.CookieAdminSession); err == nil && token.IsValidOpaqueTokenFormat(tok) {
			if err := store.DeleteByToken(c.Request.Context(), tok); err != nil {
				log.Printf("Error revoking admin session on logout: %v", err)
			}
		}

		actor, _ := c.Cookie(middleware.CookieAdminUsername)
		if actor == "" {
			actor = "unknown"
		}
		go db.LogAdminEvent(pool, actor, "logout", "", "")

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(middleware.CookieAdminSession, "", -1, "/", "", cfg.CookieSecure, true)
		c.SetCookie(middleware.CookieAdminUsername, "", -1, "/", "", cfg.CookieSecure, false)
		c.SetCookie(middleware.CookieAdminRole, "", -1, "/", "", cfg.CookieSecure, false)

		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// AdminMe echoes the authenticated admin from the guard's context.
// GET /api/v1/admin/me
func AdminMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ok":        true,
			"admin_id":  c.GetString(middleware.CtxAdminID),
			"username":  c.GetString(middleware.CtxAdminUsername),
			"full_name": c.GetString(middleware.CtxAdminFullName),
			"role":      c.GetString(middleware.CtxAdminRole),
		})
	}
}

// AdminAddSchool registers a school together with its encargado contact.
// POST /api/v1/admin/schools
func AdminAddSchool(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetString(middleware.CtxAdminUsername)

		var req models.AddSchoolRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "MISSING_REQUIRED_FIELDS", "detail": err.Error()})
			return
		}

		country := strings.ToUpper(strings.TrimSpace(req.Country))
		if country == "" {
			country = "MX"
		}
		if !utils.ContainsString(validCountries, country) {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "INVALID_COUNTRY", "detail": country})
			return
		}
		if req.StudentsPrimaria < 0 || req.StudentsSecundaria < 0 || req.StudentsPreparatoria < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "INVALID_STUDENT_COUNTS"})
			return
		}

		var existingID string
		err := pool.QueryRow(c.Request.Context(), `
			SELECT id FROM schools WHERE username = $1
		`, req.Username).Scan(&existingID)
		if err == nil {
			c.JSON(http.StatusConflict, gin.H{"ok": false, "error": "USERNAME_EXISTS"})
			return
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			log.Printf("Error checking username %s: %v", req.Username, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR"})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("Error hashing password for school %s: %v", req.Username, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "PASSWORD_HASH_FAILED"})
			return
		}

		var schoolID string
		err = pool.QueryRow(c.Request.Context(), `
			INSERT INTO schools (name, username, password_hash, country, students_primaria, students_secundaria, students_preparatoria)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, req.SchoolName, req.Username, string(hash), country,
			req.StudentsPrimaria, req.StudentsSecundaria, req.StudentsPreparatoria).Scan(&schoolID)
		if err != nil {
			// The pre-check races with concurrent registrations; the unique
			// constraint on username is the authoritative answer.
			if isUniqueViolation(err) {
				c.JSON(http.StatusConflict, gin.H{"ok": false, "error": "USERNAME_EXISTS"})
				return
			}
			log.Printf("Error inserting school %s: %v", req.Username, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SCHOOL_CREATION_FAILED", "detail": err.Error()})
			return
		}

		var encargadoID string
		err = pool.QueryRow(c.Request.Context(), `
			INSERT INTO encargado_escolar (school_id, first_name, pat_last_name, mat_last_name)
			VALUES ($1, $2, $3, $4)
			RETURNING enc_escolar_id
		`, schoolID, req.EncFirstName, req.EncPatLastName,
			utils.StringPtr(req.EncMatLastName)).Scan(&encargadoID)
		if err != nil {
			// Keep schools and encargados consistent: undo the school insert.
			if _, delErr := pool.Exec(c.Request.Context(), `DELETE FROM schools WHERE id = $1`, schoolID); delErr != nil {
				log.Printf("Error rolling back school %s after encargado failure: %v", schoolID, delErr)
			}
			log.Printf("Error inserting encargado for school %s: %v", schoolID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "ENCARGADO_CREATION_FAILED", "detail": err.Error()})
			return
		}

		go db.LogAdminEvent(pool, actor, "add_school", schoolID, fmt.Sprintf("username=%s country=%s", req.Username, country))

		c.JSON(http.StatusCreated, gin.H{
			"ok": true,
			"school": gin.H{
				"id":       schoolID,
				"name":     req.SchoolName,
				"username": req.Username,
				"country":  country,
			},
			"encargado": gin.H{
				"id":         encargadoID,
				"first_name": req.EncFirstName,
			},
		})
	}
}

// AdminListPendingAnalyses returns the not-yet-approved analysis batches of
// all schools, one summary per school and request date.
// GET /api/v1/admin/analyses-pending
func AdminListPendingAnalyses(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := pool.Query(c.Request.Context(), `
			SELECT school_id, analysis_requested_dt, analysis_approved_at, submitted_at
			FROM survey_responses
			WHERE status = 'submitted'
			  AND analysis_approved = FALSE
			  AND analysis_requested_dt IS NOT NULL
		`)
		if err != nil {
			log.Printf("Error listing pending analyses: %v", err)
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

		pending := analysis.GroupBySchoolAndDate(flat)

		names := make(map[string]string)
		if ids := analysis.SchoolIDs(pending); len(ids) > 0 {
			nameRows, err := pool.Query(c.Request.Context(), `
				SELECT id, name FROM schools WHERE id = ANY($1)
			`, ids)
			if err != nil {
				log.Printf("Error loading school names: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
				return
			}
			for nameRows.Next() {
				var id, name string
				if err := nameRows.Scan(&id, &name); err != nil {
					nameRows.Close()
					c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
					return
				}
				names[id] = name
			}
			nameRows.Close()
			if err := nameRows.Err(); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
				return
			}
		}
		analysis.AttachSchoolNames(pending, names)

		c.JSON(http.StatusOK, gin.H{"ok": true, "pending": pending})
	}
}

func parseAnalysisDT(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}

// ApproveAnalysis approves one analysis batch, identified by school and
// request timestamp.
// POST /api/v1/admin/analyses/approve
func ApproveAnalysis(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetString(middleware.CtxAdminUsername)

		var req models.AnalysisDecisionRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.SchoolID == "" || req.AnalysisDT == "" {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "MISSING_FIELDS"})
			return
		}
		analysisDT, err := parseAnalysisDT(req.AnalysisDT)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "INVALID_ANALYSIS_DT", "detail": req.AnalysisDT})
			return
		}

		tag, err := pool.Exec(c.Request.Context(), `
			UPDATE survey_responses
			SET analysis_approved = TRUE, analysis_approved_at = NOW()
			WHERE school_id = $1
			  AND analysis_requested_dt = $2
			  AND status = 'submitted'
		`, req.SchoolID, analysisDT)
		if err != nil {
			log.Printf("Error approving analysis for school %s at %s: %v", req.SchoolID, req.AnalysisDT, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
			return
		}

		go db.LogAdminEvent(pool, actor, "approve_analysis", req.SchoolID, "analysis_dt="+req.AnalysisDT)

		c.JSON(http.StatusOK, gin.H{"ok": true, "updated_count": tag.RowsAffected()})
	}
}

// RejectAnalysis sends a batch back to the school: the request timestamp is
// cleared so the school can fix its data and request analysis again.
// POST /api/v1/admin/analyses/reject
func RejectAnalysis(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetString(middleware.CtxAdminUsername)

		var req models.AnalysisDecisionRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.SchoolID == "" || req.AnalysisDT == "" {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "MISSING_FIELDS"})
			return
		}
		analysisDT, err := parseAnalysisDT(req.AnalysisDT)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "INVALID_ANALYSIS_DT", "detail": req.AnalysisDT})
			return
		}

		tag, err := pool.Exec(c.Request.Context(), `
			UPDATE survey_responses
			SET analysis_requested_dt = NULL,
			    analysis_approved = FALSE,
			    analysis_approved_at = NULL
			WHERE school_id = $1
			  AND analysis_requested_dt = $2
			  AND status = 'submitted'
		`, req.SchoolID, analysisDT)
		if err != nil {
			log.Printf("Error rejecting analysis for school %s at %s: %v", req.SchoolID, req.AnalysisDT, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
			return
		}

		go db.LogAdminEvent(pool, actor, "reject_analysis", req.SchoolID, "analysis_dt="+req.AnalysisDT)

		c.JSON(http.StatusOK, gin.H{"ok": true, "updated_count": tag.RowsAffected()})
	}
}

// AdminDashboard renders the HTML overview with headline counts and the
// latest admin events.
// GET /admin/dashboard
func AdminDashboard(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var schoolCount, submittedCount, pendingCount, approvedCount int
		if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM schools`).Scan(&schoolCount); err != nil {
			log.Printf("Error counting schools: %v", err)
		}
		if err := pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM survey_responses WHERE status = 'submitted'
		`).Scan(&submittedCount); err != nil {
			log.Printf("Error counting submitted responses: %v", err)
		}
		if err := pool.QueryRow(ctx, `
			SELECT COUNT(DISTINCT (school_id, analysis_requested_dt))
			FROM survey_responses
			WHERE status = 'submitted' AND analysis_approved = FALSE AND analysis_requested_dt IS NOT NULL
		`).Scan(&pendingCount); err != nil {
			log.Printf("Error counting pending analyses: %v", err)
		}
		if err := pool.QueryRow(ctx, `
			SELECT COUNT(DISTINCT (school_id, analysis_requested_dt))
			FROM survey_responses
			WHERE status = 'submitted' AND analysis_approved = TRUE
		`).Scan(&approvedCount); err != nil {
			log.Printf("Error counting approved analyses: %v", err)
		}

		var events []models.AdminEvent
		rows, err := pool.Query(ctx, `
			SELECT id, COALESCE(action, ''), COALESCE(actor, ''), COALESCE(target, ''), COALESCE(notes, ''), timestamp
			FROM admin_events ORDER BY timestamp DESC LIMIT 5
		`)
		if err != nil {
			log.Printf("Error loading recent admin events: %v", err)
		} else {
			for rows.Next() {
				var ev models.AdminEvent
				if err := rows.Scan(&ev.ID, &ev.Action, &ev.Actor, &ev.Target, &ev.Notes, &ev.Timestamp); err != nil {
					log.Printf("Error scanning admin event: %v", err)
					break
				}
				events = append(events, ev)
			}
			rows.Close()
		}

		c.HTML(http.StatusOK, "admin_dashboard", gin.H{
			"title":          "Panel de Administración",
			"username":       c.GetString(middleware.CtxAdminUsername),
			"schoolCount":    schoolCount,
			"submittedCount": submittedCount,
			"pendingCount":   pendingCount,
			"approvedCount":  approvedCount,
			"recentEvents":   events,
		})
	}
}

// TriggerIngestion re-syncs the survey catalog from disk on demand.
// POST /api/v1/admin/ingest
func TriggerIngestion(pool *pgxpool.Pool, catalogPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetString(middleware.CtxAdminUsername)

		result, err := ingestion.SyncCatalog(pool, catalogPath)
		if err != nil {
			log.Printf("Error syncing catalog from %s: %v", catalogPath, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "INGESTION_FAILED", "detail": err.Error()})
			return
		}

		go db.LogAdminEvent(pool, actor, "ingest_catalog", catalogPath,
			fmt.Sprintf("surveys=%d questions=%d options=%d skipped=%d",
				result.Surveys, result.Questions, result.Options, result.Skipped))

		c.JSON(http.StatusOK, gin.H{"ok": true, "result": result})
	}
}
