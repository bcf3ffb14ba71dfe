package models

// Field is a single record field in the platform's REST representation.
// Value holds a string, a []string, a []Entity-shaped list, or nil for an empty number.
type Field struct {
	Type  string      `json:"type" msgpack:"type"`
	Value interface{} `json:"value" msgpack:"value"`
}

// Record maps field codes to their typed values
type Record map[string]Field

// UpdateKey identifies the record to update instead of insert
type UpdateKey struct {
	Field string `json:"field" msgpack:"field"`
	Value string `json:"value" msgpack:"value"`
}

// Entity is a user, organization or group reference
type Entity struct {
	Code string `json:"code" msgpack:"code"`
	Name string `json:"name" msgpack:"name"`
}

// UpsertRequest is one exported record body.
// When UpdateKey is nil the record is inserted.
type UpsertRequest struct {
	UpdateKey *UpdateKey `json:"updateKey,omitempty" msgpack:"updateKey,omitempty"`
	Record    Record     `json:"record" msgpack:"record"`
}

// SpillEntry is a mapped row buffered for the reduce phase.
// ReduceKey is the stringified raw value of the reduce column.
type SpillEntry struct {
	ReduceKey string     `msgpack:"k"`
	Record    Record     `msgpack:"r"`
	UpdateKey *UpdateKey `msgpack:"u,omitempty"`
}
