package query

import (
	"errors"
	"fmt"

	"github.com/roach88/livekv/internal/ir"
	"github.com/roach88/livekv/internal/storage"
)

// Read runs q against r and returns the result in its view shape:
// get and getKey yield the record or key, or ir.Null{} when nothing
// matched; getAll and query yield an Array of records; getAllKeys an Array
// of keys; count an Int.
func Read(r storage.Reader, q Query) (ir.Value, error) {
	if q.Kind == KindQuery {
		return scanFiltered(r, q.Filter)
	}
	if q.OnIndex() {
		ix, err := r.Index(q.Index)
		if err != nil {
			return nil, err
		}
		return readIndex(ix, q)
	}
	return readPrimary(r, q)
}

func readPrimary(r storage.Reader, q Query) (ir.Value, error) {
	switch q.Kind {
	case KindGet:
		return firstRecord(r, q.Range)
	case KindGetAll:
		recs, err := r.GetAll(q.Range)
		if err != nil {
			return nil, err
		}
		return records(recs), nil
	case KindGetAllKeys:
		keys, err := r.GetAllKeys(q.Range)
		if err != nil {
			return nil, err
		}
		return ir.Array(keys), nil
	case KindCount:
		n, err := r.Count(q.Range)
		if err != nil {
			return nil, err
		}
		return ir.Int(n), nil
	default:
		return nil, fmt.Errorf("query: %s is not supported on the primary key", q.Kind)
	}
}

func readIndex(ix storage.IndexReader, q Query) (ir.Value, error) {
	switch q.Kind {
	case KindGet:
		rec, ok, err := ix.Get(q.Range)
		if err != nil {
			return nil, err
		}
		if !ok {
			return ir.Null{}, nil
		}
		return rec, nil
	case KindGetAll:
		recs, err := ix.GetAll(q.Range)
		if err != nil {
			return nil, err
		}
		return records(recs), nil
	case KindGetAllKeys:
		keys, err := ix.GetAllKeys(q.Range)
		if err != nil {
			return nil, err
		}
		return ir.Array(keys), nil
	case KindGetKey:
		key, ok, err := ix.GetKey(q.Range)
		if err != nil {
			return nil, err
		}
		if !ok {
			return ir.Null{}, nil
		}
		return key, nil
	case KindCount:
		n, err := ix.Count(q.Range)
		if err != nil {
			return nil, err
		}
		return ir.Int(n), nil
	default:
		return nil, fmt.Errorf("query: %s is not supported on index %q", q.Kind, q.Index)
	}
}

// firstRecord returns the first record in range. A single-key range is a
// point lookup.
func firstRecord(r storage.Reader, rng *ir.KeyRange) (ir.Value, error) {
	if rng != nil && rng.Lower != nil && !rng.LowerOpen && !rng.UpperOpen &&
		rng.Upper != nil && ir.CompareKeys(rng.Lower, rng.Upper) == 0 {
		rec, ok, err := r.Get(rng.Lower)
		if err != nil {
			return nil, err
		}
		if !ok {
			return ir.Null{}, nil
		}
		return rec, nil
	}

	var found ir.Value = ir.Null{}
	err := r.Scan(rng, func(_ ir.Value, rec ir.Object) error {
		found = rec
		return storage.ErrStopScan
	})
	if err != nil && !errors.Is(err, storage.ErrStopScan) {
		return nil, err
	}
	return found, nil
}

func scanFiltered(r storage.Reader, f *Filter) (ir.Value, error) {
	out := ir.Array{}
	err := r.Scan(nil, func(_ ir.Value, rec ir.Object) error {
		if f.Match(rec) {
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func records(recs []ir.Object) ir.Array {
	out := make(ir.Array, len(recs))
	for i, rec := range recs {
		out[i] = rec
	}
	return out
}
