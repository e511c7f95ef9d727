package analysis

import (
	"testing"
	"time"
)

func ts(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad test timestamp %q: %v", value, err)
	}
	return parsed
}

func tsPtr(t *testing.T, value string) *time.Time {
	t.Helper()
	parsed := ts(t, value)
	return &parsed
}

func TestGroupByDate(t *testing.T) {
	rows := []ResponseRow{
		{AnalysisDT: ts(t, "2024-01-10T00:00:00Z"), SubmittedAt: tsPtr(t, "2024-01-10T08:00:00Z")},
		{AnalysisDT: ts(t, "2024-01-10T00:00:00Z"), SubmittedAt: tsPtr(t, "2024-01-10T09:30:00Z")},
		{AnalysisDT: ts(t, "2024-01-09T00:00:00Z"), SubmittedAt: tsPtr(t, "2024-01-09T12:00:00Z")},
	}

	got := GroupByDate(rows)
	if len(got) != 2 {
		t.Fatalf("got %d groups, want 2", len(got))
	}

	// Sorted by date descending: 2024-01-10 first.
	first := got[0]
	if !first.AnalysisDate.Equal(ts(t, "2024-01-10T00:00:00Z")) {
		t.Errorf("first group date = %v, want 2024-01-10", first.AnalysisDate)
	}
	if first.TotalStudents != 2 {
		t.Errorf("first group count = %d, want 2", first.TotalStudents)
	}
	if first.EarliestResponse == nil || !first.EarliestResponse.Equal(ts(t, "2024-01-10T08:00:00Z")) {
		t.Errorf("first group earliest = %v, want 08:00", first.EarliestResponse)
	}
	if first.LatestResponse == nil || !first.LatestResponse.Equal(ts(t, "2024-01-10T09:30:00Z")) {
		t.Errorf("first group latest = %v, want 09:30", first.LatestResponse)
	}

	second := got[1]
	if !second.AnalysisDate.Equal(ts(t, "2024-01-09T00:00:00Z")) {
		t.Errorf("second group date = %v, want 2024-01-09", second.AnalysisDate)
	}
	if second.TotalStudents != 1 {
		t.Errorf("second group count = %d, want 1", second.TotalStudents)
	}
}

func TestGroupByDateOrderIndependent(t *testing.T) {
	// Min/max are tracked in a single pass without pre-sorting, so feeding
	// rows latest-first must produce the same result.
	rows := []ResponseRow{
		{AnalysisDT: ts(t, "2024-01-10T00:00:00Z"), SubmittedAt: tsPtr(t, "2024-01-10T09:30:00Z")},
		{AnalysisDT: ts(t, "2024-01-10T00:00:00Z"), SubmittedAt: tsPtr(t, "2024-01-10T08:00:00Z")},
	}
	got := GroupByDate(rows)
	if len(got) != 1 {
		t.Fatalf("got %d groups, want 1", len(got))
	}
	if !got[0].EarliestResponse.Equal(ts(t, "2024-01-10T08:00:00Z")) {
		t.Errorf("earliest = %v, want 08:00", got[0].EarliestResponse)
	}
	if !got[0].LatestResponse.Equal(ts(t, "2024-01-10T09:30:00Z")) {
		t.Errorf("latest = %v, want 09:30", got[0].LatestResponse)
	}
}

func TestGroupByDateNilSubmittedAt(t *testing.T) {
	rows := []ResponseRow{
		{AnalysisDT: ts(t, "2024-01-10T00:00:00Z"), SubmittedAt: nil},
		{AnalysisDT: ts(t, "2024-01-10T00:00:00Z"), SubmittedAt: tsPtr(t, "2024-01-10T08:00:00Z")},
	}
	got := GroupByDate(rows)
	if len(got) != 1 {
		t.Fatalf("got %d groups, want 1", len(got))
	}
	if got[0].TotalStudents != 2 {
		t.Errorf("count = %d, want 2", got[0].TotalStudents)
	}
	if got[0].EarliestResponse == nil || !got[0].EarliestResponse.Equal(ts(t, "2024-01-10T08:00:00Z")) {
		t.Errorf("earliest = %v, want 08:00", got[0].EarliestResponse)
	}
}

func TestGroupBySchoolAndDate(t *testing.T) {
	rows := []ResponseRow{
		{SchoolID: "school-a", AnalysisDT: ts(t, "2024-01-10T00:00:00Z"), SubmittedAt: tsPtr(t, "2024-01-10T08:00:00Z")},
		{SchoolID: "school-b", AnalysisDT: ts(t, "2024-01-10T00:00:00Z"), SubmittedAt: tsPtr(t, "2024-01-10T08:15:00Z")},
		{SchoolID: "school-a", AnalysisDT: ts(t, "2024-01-10T00:00:00Z"), SubmittedAt: tsPtr(t, "2024-01-10T09:00:00Z")},
	}
	got := GroupBySchoolAndDate(rows)
	if len(got) != 2 {
		t.Fatalf("got %d groups, want 2", len(got))
	}
	counts := make(map[string]int)
	for _, g := range got {
		counts[g.SchoolID] = g.TotalStudents
	}
	if counts["school-a"] != 2 || counts["school-b"] != 1 {
		t.Errorf("counts = %v, want school-a:2 school-b:1", counts)
	}
}

func TestAttachSchoolNames(t *testing.T) {
	summaries := []Summary{
		{SchoolID: "school-a"},
		{SchoolID: "school-b"},
	}
	AttachSchoolNames(summaries, map[string]string{"school-a": "Escuela Uno"})

	if summaries[0].SchoolName != "Escuela Uno" {
		t.Errorf("known school name = %q, want Escuela Uno", summaries[0].SchoolName)
	}
	// Missing names fall back to a placeholder containing the id.
	if summaries[1].SchoolName != "School school-b" {
		t.Errorf("fallback name = %q, want placeholder with id", summaries[1].SchoolName)
	}
}

func TestSchoolIDs(t *testing.T) {
	summaries := []Summary{
		{SchoolID: "a"}, {SchoolID: "b"}, {SchoolID: "a"}, {SchoolID: ""},
	}
	got := SchoolIDs(summaries)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("SchoolIDs() = %v, want [a b]", got)
	}
}
