package record

// Record is the target record being built for one source row, keyed by field code
type Record map[string]FieldValue

// Put assigns a field; a later assignment to the same code wins
func (r Record) Put(code string, v FieldValue) {
	r[code] = v
}

// UpdateKey identifies the record to upsert
type UpdateKey struct {
	Field string
	Value string
}

// Mapped is the output of mapping one row
type Mapped struct {
	Record    Record
	UpdateKey *UpdateKey
}
