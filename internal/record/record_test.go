package record

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/basekick-labs/transcoder/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldType(t *testing.T) {
	tests := []struct {
		name string
		want FieldType
	}{
		{"NUMBER", Number},
		{"number", Number},
		{" MULTI_LINE_TEXT ", MultiLineText},
		{"CHECK_BOX", CheckBox},
		{"CHECKBOX", CheckBox},
		{"USER_SELECT", UserSelect},
		{"ORGANIZATION_SELECT", OrganizationSelect},
		{"GROUP_SELECT", GroupSelect},
		{"DATETIME", DateTime},
		{"DATE", Date},
		{"LINK", Link},
		{"DROP_DOWN", DropDown},
		{"SINGLE_LINE_TEXT", SingleLineText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFieldType(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFieldType_Unknown(t *testing.T) {
	_, err := ParseFieldType("RICH_TEXT")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownFieldType))
	assert.Contains(t, err.Error(), "RICH_TEXT")
}

func TestFieldTypeString(t *testing.T) {
	for ft, name := range fieldTypeNames {
		assert.Equal(t, name, ft.String())
	}
	assert.Equal(t, "FieldType(99)", FieldType(99).String())
}

func TestEntityHelpers(t *testing.T) {
	assert.True(t, UserSelect.IsEntitySelect())
	assert.True(t, GroupSelect.IsEntitySelect())
	assert.False(t, Number.IsEntitySelect())
	assert.Equal(t, "ORGANIZATION", OrganizationSelect.EntityName())

	refs := []EntityRef{{Name: "Sales", Code: "sales"}}
	v := NewEntitySelect(OrganizationSelect, refs)
	assert.Equal(t, OrganizationSelect, v.Type())
	assert.Equal(t, refs, Entities(v))
	assert.Nil(t, Entities(SingleLineTextValue{Value: "x"}))
	assert.Panics(t, func() { NewEntitySelect(Number, nil) })
}

func TestRecordPutLastWriteWins(t *testing.T) {
	r := Record{}
	r.Put("title", SingleLineTextValue{Value: "first"})
	r.Put("title", MultiLineTextValue{Value: "second"})
	assert.Len(t, r, 1)
	assert.Equal(t, MultiLineTextValue{Value: "second"}, r["title"])
}

func sampleRecord() Record {
	return Record{
		"title":  SingleLineTextValue{Value: "hello"},
		"body":   MultiLineTextValue{Value: "a\nb"},
		"status": DropDownValue{Value: "open"},
		"site":   LinkValue{Value: "https://example.com"},
		"price":  NumberValue{Value: decimal.NewNullDecimal(decimal.RequireFromString("12.50"))},
		"empty":  NumberValue{},
		"due":    DateValue{Year: 2024, Month: time.March, Day: 9},
		"at":     DateTimeValue{Value: time.Date(2024, 3, 9, 10, 20, 30, 0, time.UTC)},
		"tags":   CheckBoxValue{Values: []string{"a", "b"}},
		"owner":  UserSelectValue{Entities: []EntityRef{{Name: "Alice", Code: "alice"}}},
		"dept":   OrganizationSelectValue{Entities: []EntityRef{{Name: "Sales", Code: "sales"}}},
		"team":   GroupSelectValue{Entities: []EntityRef{}},
	}
}

func TestToWire(t *testing.T) {
	w := ToWire(sampleRecord())

	assert.Equal(t, models.Field{Type: "NUMBER", Value: "12.5"}, w["price"])
	assert.Equal(t, models.Field{Type: "NUMBER", Value: nil}, w["empty"])
	assert.Equal(t, models.Field{Type: "DATE", Value: "2024-03-09"}, w["due"])
	assert.Equal(t, models.Field{Type: "DATETIME", Value: "2024-03-09T10:20:30Z"}, w["at"])
	assert.Equal(t, models.Field{Type: "CHECK_BOX", Value: []string{"a", "b"}}, w["tags"])
	assert.Equal(t, []models.Entity{{Code: "alice", Name: "Alice"}}, w["owner"].Value)
}

func TestToWire_EmptyCheckBoxIsEmptyList(t *testing.T) {
	w := ToWire(Record{"tags": CheckBoxValue{}})
	data, err := json.Marshal(w)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tags":{"type":"CHECK_BOX","value":[]}}`, string(data))
}

func TestWireRoundTripThroughJSON(t *testing.T) {
	original := sampleRecord()

	data, err := json.Marshal(ToWire(original))
	require.NoError(t, err)

	var decoded models.Record
	require.NoError(t, json.Unmarshal(data, &decoded))

	back, err := FromWire(decoded)
	require.NoError(t, err)
	require.Len(t, back, len(original))

	price := back["price"].(NumberValue)
	assert.True(t, price.Value.Valid)
	assert.True(t, price.Value.Decimal.Equal(decimal.RequireFromString("12.5")))
	assert.False(t, back["empty"].(NumberValue).Value.Valid)
	assert.Equal(t, original["due"], back["due"])
	assert.True(t, original["at"].(DateTimeValue).Value.Equal(back["at"].(DateTimeValue).Value))
	assert.Equal(t, original["tags"], back["tags"])
	assert.Equal(t, original["owner"], back["owner"])
	assert.Equal(t, original["title"], back["title"])
	assert.Equal(t, original["site"], back["site"])
}

func TestWireKeepsFractionalSeconds(t *testing.T) {
	at := time.Date(2024, 3, 9, 10, 20, 30, 123456789, time.UTC)
	w := ToWire(Record{"at": DateTimeValue{Value: at}})
	assert.Equal(t, "2024-03-09T10:20:30.123456789Z", w["at"].Value)

	back, err := FromWire(w)
	require.NoError(t, err)
	assert.True(t, at.Equal(back["at"].(DateTimeValue).Value))
}

func TestFromWire_Errors(t *testing.T) {
	tests := []struct {
		name  string
		field models.Field
	}{
		{"unknown type", models.Field{Type: "RICH_TEXT", Value: "x"}},
		{"bad number", models.Field{Type: "NUMBER", Value: "abc"}},
		{"bad date", models.Field{Type: "DATE", Value: "09/03/2024"}},
		{"number not string", models.Field{Type: "NUMBER", Value: 12}},
		{"checkbox item", models.Field{Type: "CHECK_BOX", Value: []interface{}{1}}},
		{"entity item", models.Field{Type: "USER_SELECT", Value: []interface{}{"alice"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromWire(models.Record{"f": tt.field})
			require.Error(t, err)
		})
	}
}
