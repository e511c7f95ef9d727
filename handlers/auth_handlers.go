// --- t4z-server/handlers/auth_handlers.go ---
package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"t4z-server/config"
	"t4z-server/middleware"
	"t4z-server/models"
	"t4z-server/token"
)

// SchoolLogin authenticates a school and issues the signed session cookie.
// POST /api/v1/login
func SchoolLogin(pool *pgxpool.Pool, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "MISSING_FIELDS"})
			return
		}

		var school models.School
		err := pool.QueryRow(c.Request.Context(), `
			SELECT id, name, password_hash FROM schools WHERE username = $1
		`, req.Username).Scan(&school.ID, &school.Name, &school.PasswordHash)
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "INVALID_CREDENTIALS"})
			return
		}
		if err != nil {
			log.Printf("Error querying school %s: %v", req.Username, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR"})
			return
		}

		if bcrypt.CompareHashAndPassword([]byte(school.PasswordHash), []byte(req.Password)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "INVALID_CREDENTIALS"})
			return
		}

		expiry := token.ComputeExpiry(cfg.SessionHours)
		signed, err := token.SignPayload(token.SessionPayload{
			SchoolID:   school.ID,
			SchoolName: school.Name,
			Exp:        expiry.UnixMilli(),
		}, cfg.SessionSecret)
		if err != nil {
			log.Printf("Error signing session for school %s: %v", school.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SESSION_CREATION_FAILED"})
			return
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(middleware.CookieSchoolSession, signed, cfg.SessionHours*3600, "/", "", cfg.CookieSecure, true)

		c.JSON(http.StatusOK, gin.H{
			"ok":          true,
			"school_id":   school.ID,
			"school_name": school.Name,
		})
	}
}

// SchoolLogout clears the school session cookie. There is no server-side
// session to revoke for the signed-cookie scheme.
// POST /api/v1/logout
func SchoolLogout(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(middleware.CookieSchoolSession, "", -1, "/", "", cfg.CookieSecure, true)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// SchoolMe is a soft session check: it always answers 200 with ok:false codes
// so the frontend can probe without triggering auth redirects.
// GET /api/v1/me
func SchoolMe(pool *pgxpool.Pool, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := c.Cookie(middleware.CookieSchoolSession)
		if err != nil || tok == "" {
			c.JSON(http.StatusOK, gin.H{"ok": false, "error": "NO_SESSION"})
			return
		}
		payload, err := token.VerifySignedToken(tok, cfg.SessionSecret)
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"ok": false, "error": "INVALID_SESSION"})
			return
		}

		var school models.School
		err = pool.QueryRow(c.Request.Context(), `
			SELECT id, name FROM schools WHERE id = $1
		`, payload.SchoolID).Scan(&school.ID, &school.Name)
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"ok": false, "error": "SCHOOL_NOT_FOUND"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"ok": true, "school_id": school.ID, "school_name": school.Name})
	}
}

// ResultsLogin authenticates a school for the results portal and issues its
// JWT cookie. The portal keeps a cookie independent from the survey session.
// POST /api/v1/results/login
func ResultsLogin(pool *pgxpool.Pool, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "MISSING_CREDENTIALS"})
			return
		}

		var school models.School
		err := pool.QueryRow(c.Request.Context(), `
			SELECT id, name, password_hash FROM schools WHERE username = $1
		`, req.Username).Scan(&school.ID, &school.Name, &school.PasswordHash)
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "INVALID_CREDENTIALS"})
			return
		}
		if err != nil {
			log.Printf("Error querying school %s for results login: %v", req.Username, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR"})
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(school.PasswordHash), []byte(req.Password)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "INVALID_CREDENTIALS"})
			return
		}

		expiry := token.ComputeExpiry(cfg.SessionHours)
		claims := middleware.ResultsClaims{
			SchoolID: school.ID,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    cfg.ResultsJWTIssuer,
				Subject:   school.ID,
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				ExpiresAt: jwt.NewNumericDate(expiry),
			},
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.SessionSecret))
		if err != nil {
			log.Printf("Error signing results JWT for school %s: %v", school.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SESSION_CREATION_FAILED"})
			return
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(middleware.CookieResultsSession, signed, cfg.SessionHours*3600, "/", "", cfg.CookieSecure, true)

		c.JSON(http.StatusOK, gin.H{"ok": true, "school_id": school.ID, "school_name": school.Name})
	}
}

// ResultsLogout clears the results portal cookie.
// POST /api/v1/results/logout
func ResultsLogout(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(middleware.CookieResultsSession, "", -1, "/", "", cfg.CookieSecure, true)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// ResultsMe echoes the authenticated school for the results portal.
// GET /api/v1/results/me
func ResultsMe(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		schoolID := c.GetString(middleware.CtxSchoolID)

		var school models.School
		err := pool.QueryRow(c.Request.Context(), `
			SELECT id, name FROM schools WHERE id = $1
		`, schoolID).Scan(&school.ID, &school.Name)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "SCHOOL_NOT_FOUND"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"ok": true, "school_id": school.ID, "school_name": school.Name})
	}
}

// ResultsLatestAnalysis returns the most recent analysis request date for the
// authenticated school, or null if none was ever requested.
// GET /api/v1/results/latest-analysis
func ResultsLatestAnalysis(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		schoolID := c.GetString(middleware.CtxSchoolID)

		var latest *time.Time
		err := pool.QueryRow(c.Request.Context(), `
			SELECT MAX(analysis_requested_dt) FROM survey_responses WHERE school_id = $1
		`, schoolID).Scan(&latest)
		if err != nil {
			log.Printf("Error querying latest analysis for school %s: %v", schoolID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "SERVER_ERROR", "detail": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"ok": true, "school_id": schoolID, "analysis_dt": latest})
	}
}
