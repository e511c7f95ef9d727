
package models
import (
	"time"
)
// School struct represents a survey-taking organization
type School struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Username            string    `json:"username"`
	PasswordHash        string    `json:"-"`
	Country             string    `json:"country"`
	StudentsPrimaria    int       `json:"students_primaria"`
	StudentsSecundaria  int       `json:"students_secundaria"`
	StudentsPreparatoria int      `json:"students_preparatoria"`
	CreatedAt           time.Time `json:"created_at"`
}
// Encargado struct represents the school contact person
type Encargado struct {
	ID          string  `json:"id"`
	SchoolID    string  `json:"school_id"`
	FirstName   string  `json:"first_name"`
	PatLastName string  `json:"pat_last_name"`
	MatLastName *string `json:"mat_last_name"` // Pointer to allow NULL
}
// AdminUser struct represents an administrative identity
type AdminUser struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	FullName     string     `json:"full_name"`
	Role         string     `json:"role"`
	IsActive     bool       `json:"is_active"`
	LastLogin    *time.Time `json:"last_login"` // Pointer to allow NULL
}
// AdminSession struct represents one opaque-token admin login
type AdminSession struct {
	ID             string     `json:"id"`
	AdminID        string     `json:"admin_id"`
	SessionToken   string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at"`
	IPAddress      string     `json:"ip_address"`
	UserAgent      string     `json:"user_agent"`
}
// Survey struct represents a survey definition
type Survey struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Title    string `json:"title"`
	IsActive bool   `json:"is_active"`
}
// Question struct represents a question shared across surveys
type Question struct {
	ID           string `json:"id"`
	ExternalID   string `json:"external_id"`
	QuestionText string `json:"question_text"`
	QuestionType string `json:"question_type"` // single, multi, text, numeric
}
// QuestionOption struct represents a selectable option for a choice question
type QuestionOption struct {
	ID         string `json:"id"`
	QuestionID string `json:"question_id"`
	OptionCode string `json:"option_code"`
	OptionText string `json:"option_text"`
	Position   int    `json:"position"`
	IsActive   bool   `json:"is_active"`
}
// SurveyResponse struct represents one student's pass through a survey
type SurveyResponse struct {
	ID                 string     `json:"id"`
	SchoolID           string     `json:"school_id"`
	SurveyID           string     `json:"survey_id"`
	Status             string     `json:"status"` // in_progress -> submitted, forward only
	StartedAt          time.Time  `json:"started_at"`
	SubmittedAt        *time.Time `json:"submitted_at"`
	AnalysisRequestedDT *time.Time `json:"analysis_requested_dt"`
	AnalysisApproved   bool       `json:"analysis_approved"`
	AnalysisApprovedAt *time.Time `json:"analysis_approved_at"`
}
// QuestionAnswer struct represents one answer within one response
type QuestionAnswer struct {
	ID               string   `json:"id"`
	SurveyResponseID string   `json:"survey_response_id"`
	QuestionID       string   `json:"question_id"`
	AnswerText       *string  `json:"answer_text"`
	AnswerNumeric    *float64 `json:"answer_numeric"`
}
// AdminEvent represents an entry in the admin_events table
type AdminEvent struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Target    string    `json:"target"`
	Notes     string    `json:"notes"`
}
// ErrorLog represents an entry in the error_logs table
type ErrorLog struct {
	ID           int       `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	SurveyCode   string    `json:"survey_code"`
	FilePath     *string   `json:"file_path"`
	FieldName    *string   `json:"field_name"`
	ErrorMessage string    `json:"error_message"`
	SuggestedFix *string   `json:"suggested_fix"`
}
// RoutingConfig represents a per-country survey routing entry
type RoutingConfig struct {
	RouteKey     string   `json:"route_key"`
	Label        string   `json:"label"`
	GradeCodes   []string `json:"grade_codes"`
	SurveyFile   string   `json:"survey_file"`
	DisplayOrder int      `json:"display_order"`
}
// LoginRequest for school and admin credential checks
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}
// StartResponseRequest for opening a new survey response
type StartResponseRequest struct {
	SurveyID string `json:"surveyId" binding:"required"`
}
// SaveAnswerRequest for recording one answer
type SaveAnswerRequest struct {
	QuestionID        string   `json:"questionId" binding:"required"`
	AnswerText        *string  `json:"answerText"`
	AnswerNumeric     *float64 `json:"answerNumeric"`
	SelectedOptionIDs []string `json:"selectedOptionIds"` // option UUIDs or option codes
}
// AddSchoolRequest for the admin provisioning endpoint
type AddSchoolRequest struct {
	SchoolName           string `json:"schoolName" binding:"required"`
	Username             string `json:"username" binding:"required"`
	Password             string `json:"password" binding:"required"`
	Country              string `json:"country"`
	StudentsPrimaria     int    `json:"studentsPrimaria"`
	StudentsSecundaria   int    `json:"studentsSecundaria"`
	StudentsPreparatoria int    `json:"studentsPreparatoria"`
	EncFirstName         string `json:"encFirstName" binding:"required"`
	EncPatLastName       string `json:"encPatLastName" binding:"required"`
	EncMatLastName       string `json:"encMatLastName"`
}
// AnalysisDecisionRequest identifies one pending analysis group
type AnalysisDecisionRequest struct {
	SchoolID   string `json:"school_id" binding:"required"`
	AnalysisDT string `json:"analysis_dt" binding:"required"`
}
// CatalogYAML for parsing catalog.yaml
type CatalogYAML struct {
	Surveys []CatalogEntry `yaml:"surveys"`
}
// CatalogEntry points to one survey definition file
type CatalogEntry struct {
	Code string `yaml:"code"`
	File string `yaml:"file"`
}
// SurveyYAML for parsing one survey definition file
type SurveyYAML struct {
	Code      string         `yaml:"code"`
	Title     string         `yaml:"title"`
	Active    bool           `yaml:"active"`
	Questions []QuestionYAML `yaml:"questions"`
}
// QuestionYAML for one question row in a survey file
type QuestionYAML struct {
	ExternalID string       `yaml:"external_id"`
	Position   int          `yaml:"position"`
	Text       string       `yaml:"text"`
	Type       string       `yaml:"type"`
	Options    []OptionYAML `yaml:"options"`
}
// OptionYAML for one option row in a survey file
type OptionYAML struct {
	Code     string `yaml:"code"`
	Text     string `yaml:"text"`
	Position int    `yaml:"position"`
}
