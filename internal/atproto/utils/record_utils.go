package utils

import (
	"database/sql"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

// ExtractRKeyFromURI extracts the record key from an AT-URI
// Format: at://did/collection/rkey -> rkey
// Returns empty string if the URI cannot be parsed or has no record key.
func ExtractRKeyFromURI(uri string) string {
	parsed, err := syntax.ParseATURI(uri)
	if err != nil {
		return ""
	}
	return parsed.RecordKey().String()
}

// ExtractCollectionFromURI extracts the collection from an AT-URI
// Format: at://did/collection/rkey -> collection
func ExtractCollectionFromURI(uri string) string {
	parsed, err := syntax.ParseATURI(uri)
	if err != nil {
		return ""
	}
	return parsed.Collection().String()
}

// BuildURI assembles an AT-URI from its parts
func BuildURI(did, collection, rkey string) string {
	return "at://" + did + "/" + collection + "/" + rkey
}

// StringFromNull converts sql.NullString to string
// Returns empty string if the NullString is not valid
func StringFromNull(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// NullString converts an empty string to a NULL column value
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: strings.TrimSpace(s) != ""}
}

// ParseRecordTime parses an atProto datetime field.
// Falls back to fallback when the value is missing or invalid, which keeps
// ordering stable during Jetstream replays.
func ParseRecordTime(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}
	parsed, err := syntax.ParseDatetimeLenient(value)
	if err != nil {
		return fallback
	}
	return parsed.Time().UTC()
}

// FormatRecordTime renders t the way records store datetimes
func FormatRecordTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
