package record

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FieldValue is a typed value of one record field.
// The set of implementations is closed; switch on the concrete type to consume it.
type FieldValue interface {
	Type() FieldType
	isFieldValue()
}

type SingleLineTextValue struct{ Value string }

type MultiLineTextValue struct{ Value string }

type DropDownValue struct{ Value string }

type LinkValue struct{ Value string }

// NumberValue holds an arbitrary-precision decimal; Valid is false for an empty number
type NumberValue struct{ Value decimal.NullDecimal }

// DateValue is a calendar date without zone
type DateValue struct {
	Year  int
	Month time.Month
	Day   int
}

// DateTimeValue is a zone-aware instant
type DateTimeValue struct{ Value time.Time }

// CheckBoxValue is the ordered list of checked options
type CheckBoxValue struct{ Values []string }

// EntityRef identifies a user, organization or group by display name and code
type EntityRef struct {
	Name string
	Code string
}

type UserSelectValue struct{ Entities []EntityRef }

type OrganizationSelectValue struct{ Entities []EntityRef }

type GroupSelectValue struct{ Entities []EntityRef }

func (SingleLineTextValue) Type() FieldType     { return SingleLineText }
func (MultiLineTextValue) Type() FieldType      { return MultiLineText }
func (DropDownValue) Type() FieldType           { return DropDown }
func (LinkValue) Type() FieldType               { return Link }
func (NumberValue) Type() FieldType             { return Number }
func (DateValue) Type() FieldType               { return Date }
func (DateTimeValue) Type() FieldType           { return DateTime }
func (CheckBoxValue) Type() FieldType           { return CheckBox }
func (UserSelectValue) Type() FieldType         { return UserSelect }
func (OrganizationSelectValue) Type() FieldType { return OrganizationSelect }
func (GroupSelectValue) Type() FieldType        { return GroupSelect }

func (SingleLineTextValue) isFieldValue()     {}
func (MultiLineTextValue) isFieldValue()      {}
func (DropDownValue) isFieldValue()           {}
func (LinkValue) isFieldValue()               {}
func (NumberValue) isFieldValue()             {}
func (DateValue) isFieldValue()               {}
func (DateTimeValue) isFieldValue()           {}
func (CheckBoxValue) isFieldValue()           {}
func (UserSelectValue) isFieldValue()         {}
func (OrganizationSelectValue) isFieldValue() {}
func (GroupSelectValue) isFieldValue()        {}

// NewDateValue takes the calendar date of t in its own location
func NewDateValue(t time.Time) DateValue {
	y, m, d := t.Date()
	return DateValue{Year: y, Month: m, Day: d}
}

// String formats the date as YYYY-MM-DD
func (d DateValue) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// NewEntitySelect builds the entity list variant matching t.
// It panics if t is not an entity select type.
func NewEntitySelect(t FieldType, entities []EntityRef) FieldValue {
	switch t {
	case UserSelect:
		return UserSelectValue{Entities: entities}
	case OrganizationSelect:
		return OrganizationSelectValue{Entities: entities}
	case GroupSelect:
		return GroupSelectValue{Entities: entities}
	default:
		panic(fmt.Sprintf("record: %s is not an entity select type", t))
	}
}

// Entities returns the entity list of an entity select value, or nil
func Entities(v FieldValue) []EntityRef {
	switch ev := v.(type) {
	case UserSelectValue:
		return ev.Entities
	case OrganizationSelectValue:
		return ev.Entities
	case GroupSelectValue:
		return ev.Entities
	default:
		return nil
	}
}
