package mutation

import (
	"slices"

	"github.com/roach88/livekv/internal/ir"
)

// Kind classifies a committed write.
type Kind string

const (
	Inserted Kind = "inserted"
	Modified Kind = "modified"
	Deleted  Kind = "deleted"
	Cleared  Kind = "cleared"
)

// IndexDelta holds a record's index key before and after a write. A nil
// side means the record was not in the index on that side.
type IndexDelta struct {
	Old ir.Value
	New ir.Value
}

// Event is the delta produced by one successful write. Events are
// immutable once returned by the pipeline: consumers must not modify the
// values they reference.
//
// A Cleared event carries only Store, Seq and RequestID.
type Event struct {
	Store       string
	Kind        Kind
	Key         ir.Value
	OldValue    ir.Object
	NewValue    ir.Object
	IndexDeltas map[string]IndexDelta
	Seq         int64
	RequestID   string
}

// IsInsertOrDelete reports whether the event changed the key set.
func (e *Event) IsInsertOrDelete() bool {
	return e.Kind == Inserted || e.Kind == Deleted
}

// Delta returns the index delta for name.
func (e *Event) Delta(name string) (IndexDelta, bool) {
	d, ok := e.IndexDeltas[name]
	return d, ok
}

// Object renders the event for traces. Absent values render as null.
func (e *Event) Object() ir.Object {
	obj := ir.Object{
		"store":      ir.String(e.Store),
		"kind":       ir.String(e.Kind),
		"seq":        ir.Int(e.Seq),
		"request_id": ir.String(e.RequestID),
	}
	if e.Kind == Cleared {
		return obj
	}

	obj["key"] = orNull(e.Key)
	obj["old"] = orNull(e.OldValue)
	obj["new"] = orNull(e.NewValue)

	deltas := ir.Object{}
	for name, d := range e.IndexDeltas {
		deltas[name] = ir.Object{"old": orNull(d.Old), "new": orNull(d.New)}
	}
	obj["index_deltas"] = deltas
	return obj
}

// IndexNames returns the names of the indexes the event touched, sorted.
func (e *Event) IndexNames() []string {
	names := make([]string, 0, len(e.IndexDeltas))
	for name := range e.IndexDeltas {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func orNull(v ir.Value) ir.Value {
	switch val := v.(type) {
	case nil:
		return ir.Null{}
	case ir.Object:
		if val == nil {
			return ir.Null{}
		}
		return val.Clone()
	default:
		return ir.Clone(v)
	}
}
