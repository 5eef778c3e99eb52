package mysql

import (
	"database/sql"
	"strings"
	"time"
)

// nullString maps an optional id to a nullable column.
func nullString(s *string) sql.NullString {
	if s == nil || strings.TrimSpace(*s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// now returns the current time at the DATETIME(6) precision the schema stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
