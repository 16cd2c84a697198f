package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Limits on the extension attribute map
const (
	MaxAttributes        = 32
	MaxAttributeKeyLen   = 64
	MaxAttributeValueLen = 512
)

// ScalarKind tags the value held by a Scalar
type ScalarKind string

const (
	ScalarString ScalarKind = "string"
	ScalarNumber ScalarKind = "number"
	ScalarBool   ScalarKind = "bool"
)

// Scalar is a string, decimal number or bool. It is the only value type allowed
// in Attributes.
type Scalar struct {
	Kind ScalarKind
	Str  string
	Num  decimal.Decimal
	Bool bool
}

// StringValue wraps s
func StringValue(s string) Scalar { return Scalar{Kind: ScalarString, Str: s} }

// NumberValue wraps d
func NumberValue(d decimal.Decimal) Scalar { return Scalar{Kind: ScalarNumber, Num: d} }

// BoolValue wraps b
func BoolValue(b bool) Scalar { return Scalar{Kind: ScalarBool, Bool: b} }

// String renders the value as text
func (s Scalar) String() string {
	switch s.Kind {
	case ScalarNumber:
		return s.Num.String()
	case ScalarBool:
		if s.Bool {
			return "true"
		}
		return "false"
	default:
		return s.Str
	}
}

// MarshalJSON encodes the scalar as a plain JSON string, number or bool
func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case ScalarNumber:
		return []byte(s.Num.String()), nil
	case ScalarBool:
		return json.Marshal(s.Bool)
	default:
		return json.Marshal(s.Str)
	}
}

// UnmarshalJSON decodes a JSON string, number or bool
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("attribute value cannot be null")
	}
	switch data[0] {
	case '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = StringValue(str)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*s = BoolValue(b)
	case '{', '[':
		return fmt.Errorf("attribute values must be scalars")
	default:
		d, err := decimal.NewFromString(string(data))
		if err != nil {
			return fmt.Errorf("invalid number attribute: %w", err)
		}
		*s = NumberValue(d)
	}
	return nil
}

// Attributes is the bounded extension point attached to documents and extractions
type Attributes map[string]Scalar

// Validate enforces the size limits
func (a Attributes) Validate() error {
	if len(a) > MaxAttributes {
		return shared.NewDomainError("INVALID_ATTRIBUTES", fmt.Sprintf("At most %d attributes are allowed", MaxAttributes))
	}
	for k, v := range a {
		if k == "" || len(k) > MaxAttributeKeyLen {
			return shared.NewDomainError("INVALID_ATTRIBUTES", fmt.Sprintf("Attribute key %q must be 1-%d characters", k, MaxAttributeKeyLen))
		}
		if v.Kind == ScalarString && len(v.Str) > MaxAttributeValueLen {
			return shared.NewDomainError("INVALID_ATTRIBUTES", fmt.Sprintf("Attribute %q exceeds %d characters", k, MaxAttributeValueLen))
		}
	}
	return nil
}

// Get returns the value for key
func (a Attributes) Get(key string) (Scalar, bool) {
	v, ok := a[key]
	return v, ok
}

// Keys returns the attribute keys in sorted order
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
