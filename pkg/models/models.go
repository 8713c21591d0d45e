// Package models defines the persistent entities of the operations substrate
// and the column helper types they share. Statuses are closed string types so
// exhaustive switches are mechanical; persistence stores their short codes.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base carries the identity and bookkeeping columns shared by every entity.
// IDs are UUIDv7 so primary-key order follows insertion time.
type Base struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUIDv7 when no ID was provided.
func (b *Base) BeforeCreate(_ *gorm.DB) error {
	if b.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id.String()
	}
	return nil
}

// JSON stores an opaque JSON document in a text column.
type JSON json.RawMessage

// Value implements driver.Valuer.
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner.
func (j *JSON) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case string:
		*j = JSON([]byte(v))
	case []byte:
		*j = JSON(append([]byte(nil), v...))
	default:
		return fmt.Errorf("models: cannot scan %T into JSON", src)
	}
	return nil
}

// MarshalJSON renders the raw document instead of a base64 byte slice.
func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON stores the raw document.
func (j *JSON) UnmarshalJSON(data []byte) error {
	*j = JSON(append([]byte(nil), data...))
	return nil
}

// StringList stores a list of strings as a JSON array in a text column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	return scanJSONColumn(src, (*[]string)(l), "StringList")
}

// Contains reports whether v is present in the list.
func (l StringList) Contains(v string) bool {
	for _, s := range l {
		if s == v {
			return true
		}
	}
	return false
}

// CostMap stores per-agent credit totals as a JSON object in a text column.
type CostMap map[string]int64

// Value implements driver.Valuer.
func (m CostMap) Value() (driver.Value, error) {
	if m == nil {
		m = CostMap{}
	}
	data, err := json.Marshal(map[string]int64(m))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (m *CostMap) Scan(src any) error {
	return scanJSONColumn(src, (*map[string]int64)(m), "CostMap")
}

// Total sums all values in the map.
func (m CostMap) Total() int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}

func scanJSONColumn(src, dst any, typeName string) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("models: cannot scan %T into %s", src, typeName)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
