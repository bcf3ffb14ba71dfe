package mapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/basekick-labs/transcoder/internal/record"
	"github.com/shopspring/decimal"
)

// Coerce converts stringified source text into a value of the effective type.
// NUMBER parses a decimal (empty text is a null number); MULTI_LINE_TEXT,
// DROP_DOWN and LINK keep the text verbatim; every other type falls back to
// SINGLE_LINE_TEXT.
func Coerce(s string, t record.FieldType) (record.FieldValue, error) {
	switch t {
	case record.Number:
		if s == "" {
			return record.NumberValue{}, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, &NumberFormatError{Value: s, Err: err}
		}
		return record.NumberValue{Value: decimal.NewNullDecimal(d)}, nil
	case record.MultiLineText:
		return record.MultiLineTextValue{Value: s}, nil
	case record.DropDown:
		return record.DropDownValue{Value: s}, nil
	case record.Link:
		return record.LinkValue{Value: s}, nil
	default:
		return record.SingleLineTextValue{Value: s}, nil
	}
}

// SplitCheckBox splits s on the literal separator. Trailing empty entries are
// dropped, so empty text or text made only of separators has no entries.
func SplitCheckBox(s, sep string) record.CheckBoxValue {
	if s == "" {
		return record.CheckBoxValue{Values: []string{}}
	}
	if sep == "" {
		return record.CheckBoxValue{Values: []string{s}}
	}
	values := strings.Split(s, sep)
	for len(values) > 0 && values[len(values)-1] == "" {
		values = values[:len(values)-1]
	}
	return record.CheckBoxValue{Values: values}
}

// DecodeEntities reads a JSON array of {"name": string, "code": string} objects
// into entity references for an entity-select type.
func DecodeEntities(raw json.RawMessage, t record.FieldType) ([]record.EntityRef, error) {
	shape := fmt.Sprintf("should be an array of %s", t.EntityName())

	var items []json.RawMessage
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &DataError{Type: t, Reason: shape}
	}
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, &DataError{Type: t, Reason: shape + ": " + err.Error()}
	}

	refs := make([]record.EntityRef, 0, len(items))
	for i, item := range items {
		var obj map[string]json.RawMessage
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' || json.Unmarshal(item, &obj) != nil {
			return nil, &DataError{Type: t, Reason: fmt.Sprintf("%s: element %d is not an object", shape, i)}
		}
		name, err := stringMember(obj, "name")
		if err != nil {
			return nil, &DataError{Type: t, Reason: fmt.Sprintf("%s: element %d %v", shape, i, err)}
		}
		code, err := stringMember(obj, "code")
		if err != nil {
			return nil, &DataError{Type: t, Reason: fmt.Sprintf("%s: element %d %v", shape, i, err)}
		}
		refs = append(refs, record.EntityRef{Name: name, Code: code})
	}
	return refs, nil
}

func stringMember(obj map[string]json.RawMessage, key string) (string, error) {
	raw, ok := obj[key]
	if !ok {
		return "", fmt.Errorf("has no %q", key)
	}
	raw = bytes.TrimSpace(raw)
	var s string
	if len(raw) == 0 || raw[0] != '"' || json.Unmarshal(raw, &s) != nil {
		return "", fmt.Errorf("has a non-string %q", key)
	}
	return s, nil
}

// compactJSON renders a JSON value without insignificant whitespace
func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
