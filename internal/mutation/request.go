package mutation

import (
	"fmt"

	"github.com/roach88/livekv/internal/ir"
)

// Operation is the kind of a write request.
type Operation string

const (
	OpPut    Operation = "put"
	OpAdd    Operation = "add"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpClear  Operation = "clear"
)

// ParseOperation converts a request operation name.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OpPut, OpAdd, OpUpdate, OpDelete, OpClear:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operation %q (want put, add, update, delete or clear)", s)
	}
}

// Request is one write. Data is the record for put/add/update, the key
// for delete, and nil for clear. Requests are plain values; build them
// with Put, Add, Update, Delete and Clear.
type Request struct {
	Op    Operation
	Store string
	Data  ir.Value
}

// Put inserts or replaces rec.
func Put(store string, rec ir.Object) Request {
	return Request{Op: OpPut, Store: store, Data: rec}
}

// Add inserts rec, failing when its key exists.
func Add(store string, rec ir.Object) Request {
	return Request{Op: OpAdd, Store: store, Data: rec}
}

// Update merges rec shallowly into the stored record.
func Update(store string, rec ir.Object) Request {
	return Request{Op: OpUpdate, Store: store, Data: rec}
}

// Delete removes the record at key.
func Delete(store string, key ir.Value) Request {
	return Request{Op: OpDelete, Store: store, Data: key}
}

// Clear removes every record of store.
func Clear(store string) Request {
	return Request{Op: OpClear, Store: store}
}

// Validate checks the shape of the request data.
func (r Request) Validate() error {
	if r.Store == "" {
		return fmt.Errorf("request: store is required")
	}
	switch r.Op {
	case OpPut, OpAdd, OpUpdate:
		if _, ok := r.Data.(ir.Object); !ok {
			return fmt.Errorf("request %s: data must be an object, got %T", r.Op, r.Data)
		}
	case OpDelete:
		if !ir.IsKey(r.Data) {
			return fmt.Errorf("request delete: data must be a key, got %T", r.Data)
		}
	case OpClear:
	default:
		return fmt.Errorf("request: unknown operation %q", r.Op)
	}
	return nil
}

// Object renders the request as {store, operation, data} for traces and
// error reports.
func (r Request) Object() ir.Object {
	data := r.Data
	if data == nil {
		data = ir.Null{}
	}
	return ir.Object{
		"store":     ir.String(r.Store),
		"operation": ir.String(r.Op),
		"data":      ir.Clone(data),
	}
}
