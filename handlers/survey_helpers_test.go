package handlers

import (
	"reflect"
	"testing"
)

func TestIsCanonicalUUID(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"9b2e9f0c-3a39-4d3e-8f9e-0a1b2c3d4e5f", true},
		{"9B2E9F0C-3A39-4D3E-8F9E-0A1B2C3D4E5F", true},
		{"9b2e9f0c3a394d3e8f9e0a1b2c3d4e5f", false},     // no dashes
		{"urn:uuid:9b2e9f0c-3a39-4d3e-8f9e-0a1b2c3d4e5f", false},
		{"{9b2e9f0c-3a39-4d3e-8f9e-0a1b2c3d4e5f}", false},
		{"survey-2024", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isCanonicalUUID(tt.value); got != tt.want {
			t.Errorf("isCanonicalUUID(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestNormalizeOptionValues(t *testing.T) {
	got := normalizeOptionValues([]string{" a ", "", "b", "   ", "c"})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("normalizeOptionValues() = %v, want %v", got, want)
	}
}

func TestAllCanonicalUUIDs(t *testing.T) {
	valid := "9b2e9f0c-3a39-4d3e-8f9e-0a1b2c3d4e5f"
	tests := []struct {
		name   string
		values []string
		want   bool
	}{
		{"all uuids", []string{valid, valid}, true},
		{"mixed batch treated as codes", []string{valid, "OPT_A"}, false},
		{"all codes", []string{"OPT_A", "OPT_B"}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := allCanonicalUUIDs(tt.values); got != tt.want {
				t.Errorf("allCanonicalUUIDs(%v) = %v, want %v", tt.values, got, tt.want)
			}
		})
	}
}

func TestMapOptionCodes(t *testing.T) {
	codeToID := map[string]string{
		"OPT_A": "id-a",
		"OPT_B": "id-b",
	}

	t.Run("skips unknown codes", func(t *testing.T) {
		got := mapOptionCodes([]string{"OPT_A", "OPT_MISSING", "OPT_B"}, codeToID)
		want := []string{"id-a", "id-b"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("mapOptionCodes() = %v, want %v", got, want)
		}
	})

	t.Run("deduplicates", func(t *testing.T) {
		got := mapOptionCodes([]string{"OPT_A", "OPT_A"}, codeToID)
		if len(got) != 1 || got[0] != "id-a" {
			t.Errorf("mapOptionCodes() = %v, want [id-a]", got)
		}
	})

	t.Run("nothing maps", func(t *testing.T) {
		got := mapOptionCodes([]string{"X", "Y"}, codeToID)
		if len(got) != 0 {
			t.Errorf("mapOptionCodes() = %v, want empty", got)
		}
	})
}
