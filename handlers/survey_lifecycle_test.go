package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"t4z-server/middleware"
	"t4z-server/models"
	"t4z-server/responses"
)

type fakeResponseStore struct {
	mu        sync.Mutex
	surveys   map[string][]string               // lowercased key -> matching survey ids
	resps     map[string]*models.SurveyResponse // response id -> response
	answerIDs map[string]string                 // responseID/questionID -> answer id
	options   map[string]map[string]string      // question id -> option code -> option id
	selected  map[string]map[string]bool        // answer id -> selected option ids
	nextID    int
}

func newFakeResponseStore() *fakeResponseStore {
	return &fakeResponseStore{
		surveys:   make(map[string][]string),
		resps:     make(map[string]*models.SurveyResponse),
		answerIDs: make(map[string]string),
		options:   make(map[string]map[string]string),
		selected:  make(map[string]map[string]bool),
	}
}

func (f *fakeResponseStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeResponseStore) FindSurveyID(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := f.surveys[strings.ToLower(key)]
	if len(ids) == 0 {
		return "", responses.ErrSurveyNotFound
	}
	if len(ids) > 1 {
		return "", responses.ErrSurveyNotUnique
	}
	return ids[0], nil
}

func (f *fakeResponseStore) CreateResponse(_ context.Context, surveyID, schoolID string) (string, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id("resp")
	now := time.Now()
	f.resps[id] = &models.SurveyResponse{
		ID: id, SurveyID: surveyID, SchoolID: schoolID,
		Status: "in_progress", StartedAt: now,
	}
	return id, now, nil
}

func (f *fakeResponseStore) GetResponse(_ context.Context, responseID string) (*models.SurveyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp, ok := f.resps[responseID]
	if !ok {
		return nil, responses.ErrNotFound
	}
	respCopy := *resp
	return &respCopy, nil
}

func (f *fakeResponseStore) UpsertAnswer(_ context.Context, responseID, questionID string, _ *string, _ *float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := responseID + "/" + questionID
	if id, ok := f.answerIDs[key]; ok {
		return id, nil
	}
	id := f.id("ans")
	f.answerIDs[key] = id
	return id, nil
}

func (f *fakeResponseStore) ClearSelectedOptions(_ context.Context, answerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected[answerID] = make(map[string]bool)
	return nil
}

func (f *fakeResponseStore) FilterOptionIDs(_ context.Context, questionID string, optionIDs []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	known := make(map[string]bool)
	for _, id := range f.options[questionID] {
		known[id] = true
	}
	var valid []string
	for _, id := range optionIDs {
		if known[id] {
			valid = append(valid, id)
		}
	}
	return valid, nil
}

func (f *fakeResponseStore) OptionCodeMap(_ context.Context, questionID string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	codeToID := make(map[string]string)
	for code, id := range f.options[questionID] {
		codeToID[code] = id
	}
	return codeToID, nil
}

func (f *fakeResponseStore) AddSelectedOption(_ context.Context, answerID, optionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selected[answerID] == nil {
		f.selected[answerID] = make(map[string]bool)
	}
	f.selected[answerID][optionID] = true
	return nil
}

func (f *fakeResponseStore) SubmitResponse(_ context.Context, responseID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp, ok := f.resps[responseID]
	if !ok {
		return time.Time{}, responses.ErrNotFound
	}
	now := time.Now()
	resp.Status = "submitted"
	resp.SubmittedAt = &now
	return now, nil
}

func (f *fakeResponseStore) addResponse(id, surveyID, schoolID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resps[id] = &models.SurveyResponse{
		ID: id, SurveyID: surveyID, SchoolID: schoolID,
		Status: "in_progress", StartedAt: time.Now(),
	}
}

func (f *fakeResponseStore) selectedOptions(answerID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.selected[answerID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func lifecycleRouter(store ResponseStore, schoolID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	auth := func(c *gin.Context) { c.Set(middleware.CtxSchoolID, schoolID) }
	r.POST("/responses", auth, StartResponse(store))
	r.POST("/responses/:response_id/answers", auth, SaveAnswer(store))
	r.POST("/responses/:response_id/submit", auth, SubmitResponse(store))
	return r
}

func doJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeReply(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body %q: %v", w.Body.String(), err)
	}
	return body
}

func TestStartResponseUnknownSurveyKey(t *testing.T) {
	store := newFakeResponseStore()
	r := lifecycleRouter(store, "school-a")

	w := doJSON(r, "/responses", `{"surveyId":"no-such-code"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	body := decodeReply(t, w)
	if body["error"] != "SURVEY_NOT_FOUND" {
		t.Errorf("error = %v, want SURVEY_NOT_FOUND", body["error"])
	}
	detail, _ := body["detail"].(string)
	if !strings.Contains(detail, "no-such-code") {
		t.Errorf("detail %q does not name the searched key", detail)
	}
}

func TestStartResponseAmbiguousSurveyKey(t *testing.T) {
	store := newFakeResponseStore()
	store.surveys["habitos"] = []string{"survey-1", "survey-2"}
	r := lifecycleRouter(store, "school-a")

	w := doJSON(r, "/responses", `{"surveyId":"habitos"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	body := decodeReply(t, w)
	if body["error"] != "SURVEY_NOT_UNIQUE" {
		t.Errorf("error = %v, want SURVEY_NOT_UNIQUE", body["error"])
	}
	if detail, _ := body["detail"].(string); !strings.Contains(detail, "habitos") {
		t.Errorf("detail %q does not name the searched key", detail)
	}
}

func TestStartResponseByCode(t *testing.T) {
	store := newFakeResponseStore()
	store.surveys["habitos"] = []string{"survey-1"}
	r := lifecycleRouter(store, "school-a")

	w := doJSON(r, "/responses", `{"surveyId":"HABITOS"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", w.Code, w.Body.String())
	}
	body := decodeReply(t, w)
	if body["survey_id"] != "survey-1" || body["status"] != "in_progress" {
		t.Errorf("reply = %v", body)
	}
}

func TestSaveAnswerReplacesOptionSet(t *testing.T) {
	store := newFakeResponseStore()
	store.addResponse("resp-1", "survey-1", "school-a")
	store.options["q1"] = map[string]string{
		"OPT_A": "id-a",
		"OPT_B": "id-b",
		"OPT_C": "id-c",
	}
	r := lifecycleRouter(store, "school-a")

	w := doJSON(r, "/responses/resp-1/answers", `{"questionId":"q1","selectedOptionIds":["OPT_A","OPT_B"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("first save status = %d, body %s", w.Code, w.Body.String())
	}
	answerID, _ := decodeReply(t, w)["answer_id"].(string)
	if answerID == "" {
		t.Fatal("first save returned no answer_id")
	}

	// Saving again with a changed set must leave exactly the latest set.
	w = doJSON(r, "/responses/resp-1/answers", `{"questionId":"q1","selectedOptionIds":["OPT_B","OPT_C"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("second save status = %d, body %s", w.Code, w.Body.String())
	}
	if got, _ := decodeReply(t, w)["answer_id"].(string); got != answerID {
		t.Errorf("answer id changed across saves: %q then %q", answerID, got)
	}

	got := store.selectedOptions(answerID)
	if len(got) != 2 || got[0] != "id-b" || got[1] != "id-c" {
		t.Errorf("selected options = %v, want [id-b id-c]", got)
	}
}

func TestSubmitResponseIdempotent(t *testing.T) {
	store := newFakeResponseStore()
	store.addResponse("resp-1", "survey-1", "school-a")
	r := lifecycleRouter(store, "school-a")

	for i := 0; i < 2; i++ {
		w := doJSON(r, "/responses/resp-1/submit", "")
		if w.Code != http.StatusOK {
			t.Fatalf("submit #%d status = %d, body %s", i+1, w.Code, w.Body.String())
		}
		body := decodeReply(t, w)
		if body["ok"] != true || body["status"] != "submitted" {
			t.Errorf("submit #%d reply = %v", i+1, body)
		}
	}
}

func TestSaveAnswerForeignResponseForbidden(t *testing.T) {
	store := newFakeResponseStore()
	store.addResponse("resp-1", "survey-1", "school-a")
	r := lifecycleRouter(store, "school-b")

	w := doJSON(r, "/responses/resp-1/answers", `{"questionId":"q1","answerText":"intruso"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if body := decodeReply(t, w); body["error"] != "FORBIDDEN" {
		t.Errorf("error = %v, want FORBIDDEN", body["error"])
	}
	// Nothing may have been written for the foreign school.
	if len(store.answerIDs) != 0 {
		t.Errorf("answers were stored despite the ownership failure: %v", store.answerIDs)
	}
}

func TestSaveAnswerUnknownResponse(t *testing.T) {
	store := newFakeResponseStore()
	r := lifecycleRouter(store, "school-a")

	w := doJSON(r, "/responses/resp-missing/answers", `{"questionId":"q1"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if body := decodeReply(t, w); body["error"] != "RESPONSE_NOT_FOUND" {
		t.Errorf("error = %v, want RESPONSE_NOT_FOUND", body["error"])
	}
}
