// --- t4z-server/db/db.go ---
package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// InitDB initializes the PostgreSQL database connection pool
func InitDB(connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Ping the database to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to PostgreSQL database!")
	return pool, nil
}

// CreateSchema sets up the tables for the survey server.
// In a production environment, use a proper migration tool (e.g., golang-migrate).
func CreateSchema(pool *pgxpool.Pool) error {
	schemaSQL := `
	CREATE TABLE IF NOT EXISTS schools (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name VARCHAR(255) NOT NULL,
		username VARCHAR(100) NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		country VARCHAR(2) NOT NULL DEFAULT 'MX',
		students_primaria INT NOT NULL DEFAULT 0,
		students_secundaria INT NOT NULL DEFAULT 0,
		students_preparatoria INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS encargado_escolar (
		enc_escolar_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		school_id UUID NOT NULL,
		first_name VARCHAR(100) NOT NULL,
		pat_last_name VARCHAR(100) NOT NULL,
		mat_last_name VARCHAR(100),
		FOREIGN KEY (school_id) REFERENCES schools(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS admin_users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		username VARCHAR(100) NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		full_name VARCHAR(255) NOT NULL,
		role VARCHAR(50) NOT NULL DEFAULT 'reviewer',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_login TIMESTAMP WITH TIME ZONE
	);

	CREATE TABLE IF NOT EXISTS admin_sessions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		admin_id UUID NOT NULL,
		session_token VARCHAR(64) NOT NULL UNIQUE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
		last_accessed_at TIMESTAMP WITH TIME ZONE,
		ip_address VARCHAR(64),
		user_agent TEXT,
		FOREIGN KEY (admin_id) REFERENCES admin_users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS surveys (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		code VARCHAR(100) NOT NULL UNIQUE,
		title VARCHAR(255) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS questions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		external_id VARCHAR(100) NOT NULL UNIQUE,
		question_text TEXT NOT NULL,
		question_type VARCHAR(20) NOT NULL CHECK (question_type IN ('single', 'multi', 'text', 'numeric'))
	);

	CREATE TABLE IF NOT EXISTS survey_questions (
		survey_id UUID NOT NULL,
		question_id UUID NOT NULL,
		position INT NOT NULL,
		PRIMARY KEY (survey_id, question_id),
		FOREIGN KEY (survey_id) REFERENCES surveys(id) ON DELETE CASCADE,
		FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE,
		UNIQUE (survey_id, position)
	);

	CREATE TABLE IF NOT EXISTS question_options (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		question_id UUID NOT NULL,
		option_code VARCHAR(100) NOT NULL,
		option_text TEXT NOT NULL,
		position INT NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE,
		UNIQUE (question_id, option_code)
	);

	CREATE TABLE IF NOT EXISTS survey_responses (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		school_id UUID NOT NULL,
		survey_id UUID NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'in_progress' CHECK (status IN ('in_progress', 'submitted')),
		started_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		submitted_at TIMESTAMP WITH TIME ZONE,
		analysis_requested_dt TIMESTAMP WITH TIME ZONE,
		analysis_approved BOOLEAN NOT NULL DEFAULT FALSE,
		analysis_approved_at TIMESTAMP WITH TIME ZONE,
		FOREIGN KEY (school_id) REFERENCES schools(id) ON DELETE CASCADE,
		FOREIGN KEY (survey_id) REFERENCES surveys(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS question_answers (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		survey_response_id UUID NOT NULL,
		question_id UUID NOT NULL,
		answer_text TEXT,
		answer_numeric DOUBLE PRECISION,
		FOREIGN KEY (survey_response_id) REFERENCES survey_responses(id) ON DELETE CASCADE,
		FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE,
		UNIQUE (survey_response_id, question_id) -- One answer per question per response
	);

	CREATE TABLE IF NOT EXISTS answer_selected_options (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		question_answer_id UUID NOT NULL,
		option_id UUID NOT NULL,
		FOREIGN KEY (question_answer_id) REFERENCES question_answers(id) ON DELETE CASCADE,
		FOREIGN KEY (option_id) REFERENCES question_options(id) ON DELETE CASCADE,
		UNIQUE (question_answer_id, option_id)
	);

	CREATE TABLE IF NOT EXISTS survey_routing_configs (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		country VARCHAR(2) NOT NULL,
		route_key VARCHAR(100) NOT NULL,
		label VARCHAR(255) NOT NULL,
		grade_codes TEXT[] NOT NULL DEFAULT '{}',
		survey_file VARCHAR(255) NOT NULL,
		display_order INT NOT NULL DEFAULT 0,
		UNIQUE (country, route_key)
	);

	CREATE TABLE IF NOT EXISTS error_logs (
		id SERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		source TEXT NOT NULL, -- e.g., "ingestion"
		survey_code VARCHAR(100),
		file_path TEXT,
		field_name TEXT,
		error_message TEXT NOT NULL,
		suggested_fix TEXT
	);

	CREATE TABLE IF NOT EXISTS admin_events (
		id SERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		action VARCHAR(255),
		actor VARCHAR(255), -- Admin username or 'system'
		target TEXT,        -- e.g., school id, survey code
		notes TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_survey_responses_school ON survey_responses (school_id);
	CREATE INDEX IF NOT EXISTS idx_survey_responses_analysis ON survey_responses (status, analysis_approved) WHERE analysis_requested_dt IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_admin_sessions_expiry ON admin_sessions (expires_at);
	`
	_, err := pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("error executing schema SQL: %w", err)
	}

	return nil
}

// LogError adds an entry to the error_logs table
func LogError(pool *pgxpool.Pool, source, surveyCode, filePath, fieldName, errMsg, fixSug string) {
	_, err := pool.Exec(context.Background(), `
		INSERT INTO error_logs (source, survey_code, file_path, field_name, error_message, suggested_fix)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, source, surveyCode, filePath, fieldName, errMsg, fixSug)
	if err != nil {
		log.Printf("ERROR: Failed to log error to database: %v. Original error: %s", err, errMsg)
	}
}

// LogAdminEvent adds an entry to the admin_events table
func LogAdminEvent(pool *pgxpool.Pool, actor, action, target, notes string) {
	_, err := pool.Exec(context.Background(), `
		INSERT INTO admin_events (action, actor, target, notes)
		VALUES ($1, $2, $3, $4)
	`, action, actor, target, notes)
	if err != nil {
		log.Printf("ERROR: Failed to log admin event to database: %v. Event: %s by %s on %s", err, action, actor, target)
	}
}
