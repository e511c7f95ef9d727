
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/multitemplate"
	"github.com/gin-gonic/gin"

	"t4z-server/config"
	"t4z-server/db"
	"t4z-server/handlers"
	"t4z-server/ingestion"
	"t4z-server/middleware"
	"t4z-server/responses"
	"t4z-server/session"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	// Initialize database connection pool
	pool, err := db.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()
	// Ensure database schema is set up (simple creation for demo)
	if err := db.CreateSchema(pool); err != nil {
		log.Fatalf("Error creating database schema: %v", err)
	}

	// Sync the survey catalog once at startup. A broken catalog is logged
	// but does not keep the server from coming up.
	if result, err := ingestion.SyncCatalog(pool, cfg.CatalogPath); err != nil {
		log.Printf("Startup catalog sync failed: %v", err)
	} else {
		log.Printf("Catalog synced: %d surveys, %d questions, %d options (%d skipped)",
			result.Surveys, result.Questions, result.Options, result.Skipped)
	}

	sessionStore := session.NewStore(pool)
	responseStore := responses.NewStore(pool)

	// Set Gin mode
	gin.SetMode(cfg.GinMode)
	// Initialize Gin router
	router := gin.Default()
	// Load HTML templates for admin UI
	renderer := multitemplate.NewRenderer()
	renderer.AddFromFiles("admin_dashboard", "templates/layout.html", "templates/admin_dashboard.html")
	router.HTMLRender = renderer
	// Middleware
	router.Use(middleware.Logger())

	schoolAuth := middleware.SchoolAuth(cfg.SessionSecret)
	adminAuth := middleware.AdminAuth(sessionStore)
	resultsAuth := middleware.ResultsAuth(cfg.SessionSecret, cfg.ResultsJWTIssuer)

	// School-facing API (version 1)
	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/login", handlers.SchoolLogin(pool, cfg))
		apiV1.POST("/logout", handlers.SchoolLogout(cfg))
		apiV1.GET("/me", handlers.SchoolMe(pool, cfg))

		authed := apiV1.Group("")
		authed.Use(schoolAuth)
		{
			authed.POST("/responses", handlers.StartResponse(responseStore))
			authed.POST("/responses/:response_id/answers", handlers.SaveAnswer(responseStore))
			authed.POST("/responses/:response_id/submit", handlers.SubmitResponse(responseStore))
			authed.POST("/request-analysis", handlers.RequestAnalysis(pool))
			authed.GET("/analyses-approved", handlers.ListApprovedAnalyses(pool))
			authed.GET("/surveys/:survey_id/questions-map", handlers.QuestionsMap(pool))
			authed.GET("/question-id-by-external", handlers.QuestionIDByExternal(pool))
			authed.GET("/questions/:question_id/options", handlers.QuestionOptions(pool))
			authed.GET("/routing-config", handlers.RoutingConfig(pool))
		}
	}

	// Results portal, its own cookie and guard
	results := router.Group("/api/v1/results")
	{
		results.POST("/login", handlers.ResultsLogin(pool, cfg))
		results.POST("/logout", handlers.ResultsLogout(cfg))

		authed := results.Group("")
		authed.Use(resultsAuth)
		{
			authed.GET("/me", handlers.ResultsMe(pool))
			authed.GET("/latest-analysis", handlers.ResultsLatestAnalysis(pool))
		}
	}

	// Admin API
	adminAPI := router.Group("/api/v1/admin")
	{
		adminAPI.POST("/login", handlers.AdminLogin(pool, sessionStore, cfg))
		adminAPI.POST("/logout", handlers.AdminLogout(pool, sessionStore, cfg))

		authed := adminAPI.Group("")
		authed.Use(adminAuth)
		{
			authed.GET("/me", handlers.AdminMe())
			authed.POST("/schools", handlers.AdminAddSchool(pool))
			authed.GET("/analyses-pending", handlers.AdminListPendingAnalyses(pool))
			authed.POST("/analyses/approve", handlers.ApproveAnalysis(pool))
			authed.POST("/analyses/reject", handlers.RejectAnalysis(pool))
			authed.POST("/ingest", handlers.TriggerIngestion(pool, cfg.CatalogPath))
		}
	}

	// Admin UI Routes
	admin := router.Group("/admin")
	admin.Use(adminAuth)
	{
		admin.GET("/dashboard", handlers.AdminDashboard(pool))
	}

	// Background sweep of expired admin sessions. The auth guard also
	// deletes expired sessions lazily; this keeps the table small.
	go func() {
		ticker := time.NewTicker(cfg.SessionSweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			purged, err := sessionStore.PurgeExpired(ctx)
			cancel()
			if err != nil {
				log.Printf("Error purging expired admin sessions: %v", err)
				continue
			}
			if purged > 0 {
				log.Printf("Purged %d expired admin sessions", purged)
			}
		}
	}()

	// Start the server
	srv := &http.Server{
		Addr:    cfg.ServerPort,
		Handler: router,
	}
	// Goroutine to gracefully shut down the server
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()
	log.Printf("T4Z Server starting on %s", cfg.ServerPort)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server startup error: %v", err)
	}
	log.Println("Server exited gracefully.")
}
