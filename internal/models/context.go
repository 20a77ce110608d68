package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// MaxContextBytes bounds the encoded size of a RelationshipContext.
const MaxContextBytes = 4096

// RelationshipContext is the opaque payload stored with an edge. The engine only ever sets
// AutoCreated; everything else belongs to the caller.
type RelationshipContext struct {
	AutoCreated bool              `json:"autoCreated,omitempty"`
	Event       string            `json:"event,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Encode returns the JSON form and enforces MaxContextBytes.
func (c RelationshipContext) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	if len(data) > MaxContextBytes {
		return nil, fmt.Errorf("context is %d bytes, limit is %d", len(data), MaxContextBytes)
	}
	return data, nil
}

// DecodeContext parses a stored payload. Empty input yields the zero context.
func DecodeContext(data []byte) (RelationshipContext, error) {
	var c RelationshipContext
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode context: %w", err)
	}
	return c, nil
}

// Value implements driver.Valuer so the context can be bound directly as a column.
func (c RelationshipContext) Value() (driver.Value, error) {
	data, err := c.Encode()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (c *RelationshipContext) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = RelationshipContext{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("scan context: unsupported type %T", src)
	}
	decoded, err := DecodeContext(data)
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}
