package record

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownFieldType is returned when a field type name is not recognized
var ErrUnknownFieldType = errors.New("unknown field type")

// FieldType enumerates the field kinds of the target platform
type FieldType int

const (
	SingleLineText FieldType = iota + 1
	MultiLineText
	Number
	Date
	DateTime
	CheckBox
	DropDown
	Link
	UserSelect
	OrganizationSelect
	GroupSelect
)

var fieldTypeNames = map[FieldType]string{
	SingleLineText:     "SINGLE_LINE_TEXT",
	MultiLineText:      "MULTI_LINE_TEXT",
	Number:             "NUMBER",
	Date:               "DATE",
	DateTime:           "DATETIME",
	CheckBox:           "CHECK_BOX",
	DropDown:           "DROP_DOWN",
	Link:               "LINK",
	UserSelect:         "USER_SELECT",
	OrganizationSelect: "ORGANIZATION_SELECT",
	GroupSelect:        "GROUP_SELECT",
}

// fieldTypeAliases are accepted spellings besides the canonical names
var fieldTypeAliases = map[string]FieldType{
	"CHECKBOX": CheckBox,
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// IsEntitySelect reports whether values of this type are entity reference lists
func (t FieldType) IsEntitySelect() bool {
	return t == UserSelect || t == OrganizationSelect || t == GroupSelect
}

// EntityName is the singular entity noun used in error messages (USER, ORGANIZATION, GROUP)
func (t FieldType) EntityName() string {
	switch t {
	case UserSelect:
		return "USER"
	case OrganizationSelect:
		return "ORGANIZATION"
	case GroupSelect:
		return "GROUP"
	default:
		return ""
	}
}

// ParseFieldType parses a field type name such as "NUMBER" or "user_select".
// Matching is case-insensitive.
func ParseFieldType(name string) (FieldType, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for t, n := range fieldTypeNames {
		if n == upper {
			return t, nil
		}
	}
	if t, ok := fieldTypeAliases[upper]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFieldType, name)
}
