package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// CompileError carries the CUE position of a schema that failed to compile.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Compile extracts every `store: <name>: {...}` field of v into a Schema.
// The result is validated; the first validation failure is returned as a
// *CompileError positioned on the offending store.
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Validate(); err != nil {
		return nil, formatCUEError(err)
	}

	storesVal := v.LookupPath(cue.ParsePath("store"))
	if !storesVal.Exists() {
		return nil, &CompileError{
			Field:   "store",
			Message: "at least one store is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := storesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var stores []Store
	positions := make(map[string]token.Pos)
	for iter.Next() {
		st, err := CompileStore(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		stores = append(stores, st)
		positions[st.Name] = iter.Value().Pos()
	}

	s := &Schema{stores: stores}
	slices.SortFunc(s.stores, func(a, b Store) int {
		return strings.Compare(a.Name, b.Name)
	})
	if errs := Validate(s); len(errs) > 0 {
		first := errs[0]
		return nil, &CompileError{
			Field:   first.Field,
			Message: fmt.Sprintf("%s (%s)", first.Message, first.Code),
			Pos:     positions[storeOfField(first.Field)],
		}
	}
	return s, nil
}

// CompileStore compiles a single store value.
func CompileStore(name string, v cue.Value) (Store, error) {
	if err := v.Err(); err != nil {
		return Store{}, formatCUEError(err)
	}

	st := Store{Name: name}
	field := "store." + name

	if kp := v.LookupPath(cue.ParsePath("key_path")); kp.Exists() {
		s, err := kp.String()
		if err != nil {
			return Store{}, &CompileError{Field: field + ".key_path", Message: "key_path must be a string", Pos: kp.Pos()}
		}
		st.KeyPath = s
	}

	if ai := v.LookupPath(cue.ParsePath("auto_increment")); ai.Exists() {
		b, err := ai.Bool()
		if err != nil {
			return Store{}, &CompileError{Field: field + ".auto_increment", Message: "auto_increment must be a bool", Pos: ai.Pos()}
		}
		st.AutoIncrement = b
	}

	indexVal := v.LookupPath(cue.ParsePath("index"))
	if indexVal.Exists() {
		iter, err := indexVal.Fields()
		if err != nil {
			return Store{}, formatCUEError(err)
		}
		for iter.Next() {
			ix, err := compileIndex(field, iter.Label(), iter.Value())
			if err != nil {
				return Store{}, err
			}
			st.Indexes = append(st.Indexes, ix)
		}
	}

	return st, nil
}

func compileIndex(storeField, name string, v cue.Value) (Index, error) {
	field := storeField + ".index." + name
	ix := Index{Name: name}

	kp := v.LookupPath(cue.ParsePath("key_path"))
	if !kp.Exists() {
		return Index{}, &CompileError{Field: field + ".key_path", Message: "key_path is required", Pos: v.Pos()}
	}
	s, err := kp.String()
	if err != nil {
		return Index{}, &CompileError{Field: field + ".key_path", Message: "key_path must be a string", Pos: kp.Pos()}
	}
	ix.KeyPath = s

	if u := v.LookupPath(cue.ParsePath("unique")); u.Exists() {
		b, err := u.Bool()
		if err != nil {
			return Index{}, &CompileError{Field: field + ".unique", Message: "unique must be a bool", Pos: u.Pos()}
		}
		ix.Unique = b
	}

	return ix, nil
}

// CompileString compiles CUE source text. filename is used in positions.
func CompileString(src, filename string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	return Compile(v)
}

// Files returns the absolute paths of the CUE files directly in dir,
// sorted. Passed to load.Instances as file arguments they form one
// instance whether or not the files declare a package.
func Files(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		abs, err := filepath.Abs(m)
		if err != nil {
			return nil, err
		}
		files = append(files, abs)
	}
	slices.Sort(files)
	return files, nil
}

// Load compiles every CUE file of dir as a single instance. Files need not
// declare a package.
func Load(dir string) (*Schema, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema directory: not a directory: %s", dir)
	}

	files, err := Files(dir)
	if err != nil {
		return nil, fmt.Errorf("scan schema directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	instances := load.Instances(files, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}

	ctx := cuecontext.New()
	return Compile(ctx.BuildInstance(inst))
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}

// storeOfField maps "store.items.index.tag" back to "items".
func storeOfField(field string) string {
	const prefix = "store."
	if len(field) <= len(prefix) {
		return ""
	}
	name, _, _ := strings.Cut(field[len(prefix):], ".")
	return name
}
