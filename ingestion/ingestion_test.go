package ingestion

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"t4z-server/models"
)

func validSurvey() models.SurveyYAML {
	return models.SurveyYAML{
		Code:   "habitos-2024",
		Title:  "Encuesta de Hábitos",
		Active: true,
		Questions: []models.QuestionYAML{
			{
				ExternalID: "habitos_q1",
				Position:   1,
				Text:       "¿Con qué frecuencia desayunas?",
				Type:       "single",
				Options: []models.OptionYAML{
					{Code: "DIARIO", Text: "Todos los días", Position: 1},
					{Code: "AVECES", Text: "A veces", Position: 2},
				},
			},
			{
				ExternalID: "habitos_q2",
				Position:   2,
				Text:       "Comentarios",
				Type:       "text",
			},
		},
	}
}

func TestValidateSurveyOK(t *testing.T) {
	if issues := ValidateSurvey(validSurvey()); len(issues) != 0 {
		t.Errorf("valid survey produced issues: %v", issues)
	}
}

func TestValidateSurvey(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.SurveyYAML)
		wantSub string
	}{
		{"missing code", func(s *models.SurveyYAML) { s.Code = " " }, "code: survey code is required"},
		{"missing title", func(s *models.SurveyYAML) { s.Title = "" }, "title: survey title is required"},
		{"no questions", func(s *models.SurveyYAML) { s.Questions = nil }, "survey has no questions"},
		{"missing external id", func(s *models.SurveyYAML) { s.Questions[0].ExternalID = "" }, "external_id: required"},
		{"duplicate external id", func(s *models.SurveyYAML) { s.Questions[1].ExternalID = "habitos_q1" }, "duplicate habitos_q1"},
		{"duplicate position", func(s *models.SurveyYAML) { s.Questions[1].Position = 1 }, "position: duplicate 1"},
		{"bad type", func(s *models.SurveyYAML) { s.Questions[0].Type = "dropdown" }, "is not one of"},
		{"choice without options", func(s *models.SurveyYAML) { s.Questions[0].Options = nil }, "choice question has no options"},
		{"duplicate option code", func(s *models.SurveyYAML) { s.Questions[0].Options[1].Code = "DIARIO" }, "duplicate DIARIO"},
		{"empty option text", func(s *models.SurveyYAML) { s.Questions[0].Options[0].Text = "" }, "text: required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			survey := validSurvey()
			tt.mutate(&survey)
			issues := ValidateSurvey(survey)
			if len(issues) == 0 {
				t.Fatal("expected validation issues, got none")
			}
			found := false
			for _, issue := range issues {
				if strings.Contains(issue, tt.wantSub) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("issues %v do not mention %q", issues, tt.wantSub)
			}
		})
	}
}

func TestSurveyYAMLParsing(t *testing.T) {
	raw := `
code: habitos-2024
title: Encuesta de Hábitos
active: true
questions:
  - external_id: habitos_q1
    position: 1
    text: ¿Con qué frecuencia desayunas?
    type: single
    options:
      - code: DIARIO
        text: Todos los días
        position: 1
`
	var survey models.SurveyYAML
	if err := yaml.Unmarshal([]byte(raw), &survey); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if survey.Code != "habitos-2024" || !survey.Active {
		t.Errorf("survey header = %+v", survey)
	}
	if len(survey.Questions) != 1 || survey.Questions[0].Type != "single" {
		t.Fatalf("questions = %+v", survey.Questions)
	}
	if len(survey.Questions[0].Options) != 1 || survey.Questions[0].Options[0].Code != "DIARIO" {
		t.Errorf("options = %+v", survey.Questions[0].Options)
	}
	if issues := ValidateSurvey(survey); len(issues) != 0 {
		t.Errorf("parsed survey produced issues: %v", issues)
	}
}
