// --- t4z-server/analysis/aggregate.go ---
package analysis

import (
	"fmt"
	"sort"
	"time"
)

// ResponseRow is one flat survey-response row, already filtered to
// status = submitted and the desired approval state.
type ResponseRow struct {
	SchoolID    string
	AnalysisDT  time.Time
	ApprovedAt  *time.Time
	SubmittedAt *time.Time
}

// Summary is one aggregated analysis group.
type Summary struct {
	SchoolID         string     `json:"school_id,omitempty"`
	SchoolName       string     `json:"school_name,omitempty"`
	AnalysisDate     time.Time  `json:"analysis_date"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	TotalStudents    int        `json:"total_students"`
	EarliestResponse *time.Time `json:"earliest_response"`
	LatestResponse   *time.Time `json:"latest_response"`
}

// GroupByDate collapses rows into one summary per analysis date. Single pass:
// each submission timestamp is compared against the running min/max. The
// result is sorted by date descending; ties break arbitrarily, which is
// acceptable since dates are unique per group key in practice.
func GroupByDate(rows []ResponseRow) []Summary {
	return group(rows, func(r ResponseRow) string {
		return r.AnalysisDT.UTC().Format(time.RFC3339Nano)
	}, false)
}

// GroupBySchoolAndDate collapses rows into one summary per (school, date)
// pair, for the cross-school admin view.
func GroupBySchoolAndDate(rows []ResponseRow) []Summary {
	return group(rows, func(r ResponseRow) string {
		return r.SchoolID + "_" + r.AnalysisDT.UTC().Format(time.RFC3339Nano)
	}, true)
}

func group(rows []ResponseRow, keyFn func(ResponseRow) string, keepSchool bool) []Summary {
	groups := make(map[string]*Summary)
	for _, row := range rows {
		key := keyFn(row)
		g, ok := groups[key]
		if !ok {
			g = &Summary{
				AnalysisDate:     row.AnalysisDT,
				ApprovedAt:       row.ApprovedAt,
				EarliestResponse: row.SubmittedAt,
				LatestResponse:   row.SubmittedAt,
			}
			if keepSchool {
				g.SchoolID = row.SchoolID
			}
			groups[key] = g
		}
		g.TotalStudents++
		if row.SubmittedAt != nil {
			if g.EarliestResponse == nil || row.SubmittedAt.Before(*g.EarliestResponse) {
				g.EarliestResponse = row.SubmittedAt
			}
			if g.LatestResponse == nil || row.SubmittedAt.After(*g.LatestResponse) {
				g.LatestResponse = row.SubmittedAt
			}
		}
	}

	out := make([]Summary, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AnalysisDate.After(out[j].AnalysisDate)
	})
	return out
}

// AttachSchoolNames fills in display names on admin-view summaries. Schools
// missing from the map get a synthesized placeholder containing the id.
func AttachSchoolNames(summaries []Summary, names map[string]string) {
	for i := range summaries {
		if name, ok := names[summaries[i].SchoolID]; ok && name != "" {
			summaries[i].SchoolName = name
		} else {
			summaries[i].SchoolName = fmt.Sprintf("School %s", summaries[i].SchoolID)
		}
	}
}

// SchoolIDs returns the distinct school ids across summaries, preserving
// first-seen order.
func SchoolIDs(summaries []Summary) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, s := range summaries {
		if s.SchoolID != "" && !seen[s.SchoolID] {
			seen[s.SchoolID] = true
			ids = append(ids, s.SchoolID)
		}
	}
	return ids
}
