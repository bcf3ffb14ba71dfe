package reducer

import "github.com/basekick-labs/transcoder/internal/record"

// Merge folds src into dst. CHECK_BOX values and entity lists of the same
// type are unioned in first-seen order; every other field is overwritten.
func Merge(dst, src record.Record) {
	for code, v := range src {
		existing, ok := dst[code]
		if !ok {
			dst.Put(code, v)
			continue
		}
		switch sv := v.(type) {
		case record.CheckBoxValue:
			if ev, ok := existing.(record.CheckBoxValue); ok {
				dst.Put(code, record.CheckBoxValue{Values: unionStrings(ev.Values, sv.Values)})
				continue
			}
		case record.UserSelectValue, record.OrganizationSelectValue, record.GroupSelectValue:
			if existing.Type() == v.Type() {
				refs := unionEntities(record.Entities(existing), record.Entities(v))
				dst.Put(code, record.NewEntitySelect(v.Type(), refs))
				continue
			}
		}
		dst.Put(code, v)
	}
}

func unionStrings(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// unionEntities dedupes by code; the first name seen for a code is kept
func unionEntities(a, b []record.EntityRef) []record.EntityRef {
	out := make([]record.EntityRef, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]record.EntityRef{a, b} {
		for _, e := range list {
			if _, dup := seen[e.Code]; dup {
				continue
			}
			seen[e.Code] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}
