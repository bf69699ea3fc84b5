package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/livekv/internal/schema"
	"github.com/roach88/livekv/internal/storage"
	"github.com/roach88/livekv/internal/storage/backends"
)

// LoadMode controls how errors are handled during schema loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the results of loading a schema directory.
type LoadResult struct {
	Stores    []schema.Store
	Schema    *schema.Schema // nil unless every store compiled and validated
	FileCount int            // Number of CUE files found
}

// LoadError represents an error that occurred during schema loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Line returns the CUE line of the error, or 0.
func (e *LoadError) Line() int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}

// LoadSchema loads, compiles and validates the CUE schema of a directory.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
//
// A nil result means the directory could not be loaded at all.
func LoadSchema(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances(cueFiles, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Validate(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{FileCount: len(cueFiles)}
	var errs []error

	storesVal := value.LookupPath(cue.ParsePath("store"))
	if !storesVal.Exists() {
		return result, []error{&LoadError{Code: ErrCodeNoStores, Message: "no stores found in schema"}}
	}
	iter, err := storesVal.Fields()
	if err != nil {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating stores: %v", err)}}
	}

	positions := make(map[string]token.Pos)
	for iter.Next() {
		st, err := schema.CompileStore(iter.Label(), iter.Value())
		if err != nil {
			errs = append(errs, convertCompileError(err, "store."+iter.Label()))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Stores = append(result.Stores, st)
		positions[st.Name] = iter.Value().Pos()
	}

	for _, verr := range schema.Check(result.Stores...) {
		errs = append(errs, &LoadError{
			Code:    verr.Code,
			Message: fmt.Sprintf("%s: %s", verr.Field, verr.Message),
			Pos:     positions[storeOfField(verr.Field)],
		})
		if mode == LoadModeFailFast {
			return result, errs
		}
	}

	if len(errs) == 0 {
		s, err := schema.New(result.Stores...)
		if err != nil {
			return result, []error{&LoadError{Code: ErrCodeGeneric, Message: err.Error()}}
		}
		result.Schema = s
	}
	return result, errs
}

// loadSchema is LoadSchema for commands that only need a usable schema.
func loadSchema(dir string) (*schema.Schema, error) {
	result, errs := LoadSchema(dir, LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return result.Schema, nil
}

// openDatabase loads the schema of schemaDir and opens the database.
func openDatabase(backend, path, schemaDir string) (storage.Adapter, error) {
	if path == "" {
		return nil, NewExitError(ExitCommandError, "--db is required")
	}
	s, err := loadSchema(schemaDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load schema", err)
	}
	a, err := backends.Open(backend, path, s)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return a, nil
}

// FindCUEFiles returns the absolute paths of the .cue files directly in
// dir. Subdirectories are not part of the schema.
func FindCUEFiles(dir string) ([]string, error) {
	return schema.Files(dir)
}

// convertCompileError converts a schema compile error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *schema.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// storeOfField maps "store.items.index.tag" back to "items".
func storeOfField(field string) string {
	rest, ok := strings.CutPrefix(field, "store.")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, ".")
	return name
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeNoStores    = "E007" // Schema declares no stores
	ErrCodeRequests    = "E008" // Request file unreadable or malformed

	// Store field type errors
	ErrCodeKeyPathType = "E120" // key_path is missing or not a string
	ErrCodeFlagType    = "E121" // auto_increment or unique is not a bool
)

// MapFieldToErrorCode maps a schema compile error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case strings.HasSuffix(field, ".key_path"):
		return ErrCodeKeyPathType
	case strings.HasSuffix(field, ".auto_increment"), strings.HasSuffix(field, ".unique"):
		return ErrCodeFlagType
	default:
		return ErrCodeGeneric
	}
}
