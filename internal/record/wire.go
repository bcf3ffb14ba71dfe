package record

import (
	"errors"
	"fmt"
	"time"

	"github.com/basekick-labs/transcoder/pkg/models"
	"github.com/shopspring/decimal"
)

// ErrInvalidWire is returned when a wire record cannot be converted back
var ErrInvalidWire = errors.New("invalid wire record")

const dateLayout = "2006-01-02"

// ToWire converts a record to the platform's REST representation
func ToWire(r Record) models.Record {
	out := make(models.Record, len(r))
	for code, v := range r {
		out[code] = models.Field{Type: v.Type().String(), Value: wireValue(v)}
	}
	return out
}

// UpdateKeyToWire converts an optional update key
func UpdateKeyToWire(k *UpdateKey) *models.UpdateKey {
	if k == nil {
		return nil
	}
	return &models.UpdateKey{Field: k.Field, Value: k.Value}
}

// UpdateKeyFromWire converts an optional wire update key
func UpdateKeyFromWire(k *models.UpdateKey) *UpdateKey {
	if k == nil {
		return nil
	}
	return &UpdateKey{Field: k.Field, Value: k.Value}
}

func wireValue(v FieldValue) interface{} {
	switch fv := v.(type) {
	case SingleLineTextValue:
		return fv.Value
	case MultiLineTextValue:
		return fv.Value
	case DropDownValue:
		return fv.Value
	case LinkValue:
		return fv.Value
	case NumberValue:
		if !fv.Value.Valid {
			return nil
		}
		return fv.Value.Decimal.String()
	case DateValue:
		return fv.String()
	case DateTimeValue:
		return fv.Value.UTC().Format(time.RFC3339Nano)
	case CheckBoxValue:
		values := fv.Values
		if values == nil {
			values = []string{}
		}
		return values
	case UserSelectValue, OrganizationSelectValue, GroupSelectValue:
		refs := Entities(fv)
		entities := make([]models.Entity, len(refs))
		for i, e := range refs {
			entities[i] = models.Entity{Code: e.Code, Name: e.Name}
		}
		return entities
	default:
		return nil
	}
}

// FromWire converts a wire record back into typed field values.
// It accepts both freshly built wire records and generically decoded ones (JSON or msgpack).
func FromWire(w models.Record) (Record, error) {
	out := make(Record, len(w))
	for code, f := range w {
		t, err := ParseFieldType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", code, err)
		}
		v, err := fieldFromWire(t, f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", code, err)
		}
		out[code] = v
	}
	return out, nil
}

func fieldFromWire(t FieldType, raw interface{}) (FieldValue, error) {
	switch t {
	case SingleLineText, MultiLineText, DropDown, Link:
		s, err := wireString(raw)
		if err != nil {
			return nil, err
		}
		switch t {
		case MultiLineText:
			return MultiLineTextValue{Value: s}, nil
		case DropDown:
			return DropDownValue{Value: s}, nil
		case Link:
			return LinkValue{Value: s}, nil
		default:
			return SingleLineTextValue{Value: s}, nil
		}
	case Number:
		if raw == nil {
			return NumberValue{}, nil
		}
		s, err := wireString(raw)
		if err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: number %q: %v", ErrInvalidWire, s, err)
		}
		return NumberValue{Value: decimal.NewNullDecimal(d)}, nil
	case Date:
		s, err := wireString(raw)
		if err != nil {
			return nil, err
		}
		d, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, fmt.Errorf("%w: date %q: %v", ErrInvalidWire, s, err)
		}
		return NewDateValue(d), nil
	case DateTime:
		s, err := wireString(raw)
		if err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("%w: datetime %q: %v", ErrInvalidWire, s, err)
		}
		return DateTimeValue{Value: ts.UTC()}, nil
	case CheckBox:
		values, err := wireStrings(raw)
		if err != nil {
			return nil, err
		}
		return CheckBoxValue{Values: values}, nil
	case UserSelect, OrganizationSelect, GroupSelect:
		refs, err := wireEntities(raw)
		if err != nil {
			return nil, err
		}
		return NewEntitySelect(t, refs), nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %s", ErrInvalidWire, t)
	}
}

func wireString(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("%w: expected string, got %T", ErrInvalidWire, raw)
	}
}

func wireStrings(raw interface{}) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case nil:
		return []string{}, nil
	case []interface{}:
		out := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: expected string item, got %T", ErrInvalidWire, item)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected string list, got %T", ErrInvalidWire, raw)
	}
}

func wireEntities(raw interface{}) ([]EntityRef, error) {
	switch v := raw.(type) {
	case []models.Entity:
		out := make([]EntityRef, len(v))
		for i, e := range v {
			out[i] = EntityRef{Name: e.Name, Code: e.Code}
		}
		return out, nil
	case nil:
		return []EntityRef{}, nil
	case []interface{}:
		out := make([]EntityRef, len(v))
		for i, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: expected entity object, got %T", ErrInvalidWire, item)
			}
			name, _ := m["name"].(string)
			code, _ := m["code"].(string)
			out[i] = EntityRef{Name: name, Code: code}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected entity list, got %T", ErrInvalidWire, raw)
	}
}
