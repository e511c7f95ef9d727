package handlers

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "schools_username_key"}

	if !isUniqueViolation(unique) {
		t.Error("bare 23505 not recognized")
	}
	if !isUniqueViolation(fmt.Errorf("failed to insert school: %w", unique)) {
		t.Error("wrapped 23505 not recognized")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign-key violation misclassified as unique violation")
	}
	if isUniqueViolation(errors.New("connection refused")) {
		t.Error("plain error misclassified as unique violation")
	}
	if isUniqueViolation(nil) {
		t.Error("nil misclassified as unique violation")
	}
}
