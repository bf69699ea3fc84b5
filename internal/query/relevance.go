package query

import "github.com/roach88/livekv/internal/mutation"

// Relevant reports whether ev may have changed the result of q. Events of
// other stores are never relevant; a cleared store is relevant to every
// query over it.
func Relevant(q Query, ev *mutation.Event) bool {
	if ev == nil || ev.Store != q.Store {
		return false
	}
	if ev.Kind == mutation.Cleared {
		return true
	}

	switch {
	case q.Kind == KindQuery:
		return q.Filter.Match(ev.OldValue) || q.Filter.Match(ev.NewValue)
	case q.OnIndex():
		return relevantOnIndex(q, ev)
	default:
		return relevantOnPrimary(q, ev)
	}
}

func relevantOnPrimary(q Query, ev *mutation.Event) bool {
	if q.Kind == KindGetAllKeys {
		if !ev.IsInsertOrDelete() {
			return false
		}
		return q.Range == nil || q.inRange(ev.Key)
	}
	if q.Range == nil {
		return true
	}
	return q.inRange(ev.Key)
}

func relevantOnIndex(q Query, ev *mutation.Event) bool {
	d, ok := ev.Delta(q.Index)
	if !ok {
		return false
	}
	inOld, inNew := q.inRange(d.Old), q.inRange(d.New)

	switch q.Kind {
	case KindGetAllKeys:
		return inOld != inNew
	case KindGetKey:
		return ev.IsInsertOrDelete() && (inOld || inNew)
	default:
		return inOld || inNew
	}
}
