package dbtypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// StringList is a list of strings persisted as a JSON array.
type StringList []string

func (l *StringList) Scan(src any) error {
	if src == nil {
		*l = StringList{}
		return nil
	}

	var raw []byte
	switch v := src.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("StringList: unsupported Scan type %T", src)
	}
	if len(raw) == 0 {
		*l = StringList{}
		return nil
	}

	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("StringList: decode: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	*l = StringList(out)
	return nil
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (StringList) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	return jsonColumnType(db)
}

// Without returns a copy of the list with every value in drop removed.
func (l StringList) Without(drop []string) StringList {
	if len(drop) == 0 {
		return append(StringList{}, l...)
	}
	skip := make(map[string]struct{}, len(drop))
	for _, v := range drop {
		skip[v] = struct{}{}
	}
	out := make(StringList, 0, len(l))
	for _, v := range l {
		if _, ok := skip[v]; ok {
			continue
		}
		out = append(out, v)
	}
	return out
}

// With returns a copy of the list with each value in add appended unless it
// is already present.
func (l StringList) With(add []string) StringList {
	out := append(StringList{}, l...)
	seen := make(map[string]struct{}, len(l)+len(add))
	for _, v := range l {
		seen[v] = struct{}{}
	}
	for _, v := range add {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func jsonColumnType(db *gorm.DB) string {
	if db != nil && db.Dialector != nil && db.Dialector.Name() == "postgres" {
		return "jsonb"
	}
	return "text"
}
