
package middleware
import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"t4z-server/models"
	"t4z-server/session"
	"t4z-server/token"
)

// Cookie names shared with the frontend.
const (
	CookieSchoolSession  = "t4z_session"
	CookieAdminSession   = "t4z_admin_session"
	CookieAdminUsername  = "t4z_admin_username"
	CookieAdminRole      = "t4z_admin_role"
	CookieResultsSession = "results_session"
)

// Context keys set by the guards.
const (
	CtxSchoolID      = "school_id"
	CtxSchoolName    = "school_name"
	CtxAdminID       = "admin_id"
	CtxAdminUsername = "admin_username"
	CtxAdminFullName = "admin_full_name"
	CtxAdminRole     = "admin_role"
)

// SessionStore is the slice of the session store the admin guard needs.
type SessionStore interface {
	LoadWithAdmin(ctx context.Context, sessionToken string) (*models.AdminSession, *models.AdminUser, error)
	Touch(ctx context.Context, sessionID string) error
	DeleteByID(ctx context.Context, sessionID string) error
}

// AdminAuth validates the opaque admin session cookie against the session
// store and sets the admin identity in the context. On any failure the
// request is aborted with a code naming the exact cause.
func AdminAuth(store SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := c.Cookie(CookieAdminSession)
		if err != nil || tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "ADMIN_AUTH_REQUIRED"})
			return
		}
		// Reject malformed tokens before they reach the database.
		if !token.IsValidOpaqueTokenFormat(tok) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "INVALID_TOKEN_FORMAT"})
			return
		}

		sess, admin, err := store.LoadWithAdmin(c.Request.Context(), tok)
		if errors.Is(err, session.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "INVALID_SESSION"})
			return
		}
		if err != nil {
			log.Printf("Admin session lookup error: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "AUTH_ERROR"})
			return
		}

		if time.Now().After(sess.ExpiresAt) {
			// Lazy cleanup: a subsequent lookup by this token must miss.
			if err := store.DeleteByID(c.Request.Context(), sess.ID); err != nil {
				log.Printf("Failed to delete expired admin session %s: %v", sess.ID, err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "SESSION_EXPIRED"})
			return
		}

		if !admin.IsActive {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "ADMIN_INACTIVE"})
			return
		}

		c.Set(CtxAdminID, admin.ID)
		c.Set(CtxAdminUsername, admin.Username)
		c.Set(CtxAdminFullName, admin.FullName)
		c.Set(CtxAdminRole, admin.Role)

		// Fire-and-forget: failure must not affect the request outcome.
		go func(sessionID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Touch(ctx, sessionID); err != nil {
				log.Printf("Failed to touch admin session %s: %v", sessionID, err)
			}
		}(sess.ID)

		c.Next()
	}
}

// SchoolAuth validates the signed stateless school cookie. There is no
// server-side record to revoke; the embedded expiry is the only lifetime.
func SchoolAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := c.Cookie(CookieSchoolSession)
		if err != nil || tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "NOT_AUTH"})
			return
		}
		payload, err := token.VerifySignedToken(tok, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "NOT_AUTH"})
			return
		}
		if payload.SchoolID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "NOT_AUTH"})
			return
		}
		c.Set(CtxSchoolID, payload.SchoolID)
		c.Set(CtxSchoolName, payload.SchoolName)
		c.Next()
	}
}

// ResultsClaims are the JWT claims carried by the results-portal cookie.
type ResultsClaims struct {
	SchoolID string `json:"school_id"`
	jwt.RegisteredClaims
}

// ResultsAuth validates the results-portal JWT cookie.
func ResultsAuth(secret, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := c.Cookie(CookieResultsSession)
		if err != nil || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "NOT_AUTH"})
			return
		}
		parsed, err := jwt.ParseWithClaims(tokenString, &ResultsClaims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "NOT_AUTH"})
			return
		}
		claims, ok := parsed.Claims.(*ResultsClaims)
		if !ok || !parsed.Valid || claims.SchoolID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "NOT_AUTH"})
			return
		}
		if claims.Issuer != issuer {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "NOT_AUTH"})
			return
		}
		c.Set(CtxSchoolID, claims.SchoolID)
		c.Next()
	}
}

// Logger middleware for request logging
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		t := time.Now()
		c.Next()
		latency := time.Since(t)
		log.Printf("[T4Z] %s %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Request.Proto, c.Writer.Status(), latency)
	}
}
