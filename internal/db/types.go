package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a flat string-to-string map persisted as a JSON object column.
// It follows the bun driver.Valuer/sql.Scanner convention used throughout
// this package: Value() always marshals to a JSON string, Scan() accepts
// both string and []byte forms and treats "", "{}" and NULL as empty.
type JSONMap map[string]string

func (m JSONMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, fmt.Errorf("marshal JSONMap: %w", err)
	}
	return string(b), nil
}

func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}

	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("JSONMap.Scan: unsupported type %T", src)
	}

	if raw == "" || raw == "{}" {
		*m = JSONMap{}
		return nil
	}

	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return fmt.Errorf("unmarshal JSONMap: %w", err)
	}
	*m = out
	return nil
}

// VerifiedMap records, per recognized login-session domain (google,
// linkedin, instagram, facebook, tiktok), whether the last auto-verification
// pass considered the captured cookies sufficient.
type VerifiedMap map[string]bool

func (m VerifiedMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]bool(m))
	if err != nil {
		return nil, fmt.Errorf("marshal VerifiedMap: %w", err)
	}
	return string(b), nil
}

func (m *VerifiedMap) Scan(src any) error {
	if src == nil {
		*m = VerifiedMap{}
		return nil
	}

	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("VerifiedMap.Scan: unsupported type %T", src)
	}

	if raw == "" || raw == "{}" {
		*m = VerifiedMap{}
		return nil
	}

	var out map[string]bool
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return fmt.Errorf("unmarshal VerifiedMap: %w", err)
	}
	*m = out
	return nil
}
