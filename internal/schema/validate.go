package schema

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Validation error codes (E100-E199)
const (
	ErrStoreNameEmpty    = "E101" // store name is required
	ErrStoreNameInvalid  = "E102" // store name has invalid characters
	ErrDuplicateStore    = "E103" // duplicate store name
	ErrStoreNoKey        = "E104" // store needs key_path or auto_increment
	ErrKeyPathInvalid    = "E105" // malformed key path
	ErrIndexNameEmpty    = "E110" // index name is required
	ErrIndexNameInvalid  = "E111" // index name has invalid characters
	ErrDuplicateIndex    = "E112" // duplicate index name within a store
	ErrIndexKeyPathEmpty = "E113" // index key_path is required
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Validate checks a schema against the structural rules.
// Returns all errors found (does not fail-fast).
func Validate(s *Schema) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)

	for _, st := range s.stores {
		field := "store." + st.Name
		switch {
		case st.Name == "":
			errs = append(errs, ValidationError{
				Field: "store", Message: "store name is required", Code: ErrStoreNameEmpty,
			})
		case !namePattern.MatchString(st.Name):
			errs = append(errs, ValidationError{
				Field: field, Message: fmt.Sprintf("invalid store name %q", st.Name), Code: ErrStoreNameInvalid,
			})
		}
		if seen[st.Name] {
			errs = append(errs, ValidationError{
				Field: field, Message: fmt.Sprintf("duplicate store %q", st.Name), Code: ErrDuplicateStore,
			})
		}
		seen[st.Name] = true

		if st.KeyPath == "" && !st.AutoIncrement {
			errs = append(errs, ValidationError{
				Field: field, Message: "store needs key_path or auto_increment", Code: ErrStoreNoKey,
			})
		}
		if st.KeyPath != "" && !validKeyPath(st.KeyPath) {
			errs = append(errs, ValidationError{
				Field: field + ".key_path", Message: fmt.Sprintf("malformed key path %q", st.KeyPath), Code: ErrKeyPathInvalid,
			})
		}

		errs = append(errs, validateIndexes(field, st.Indexes)...)
	}

	return errs
}

func validateIndexes(storeField string, indexes []Index) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)
	for _, ix := range indexes {
		field := storeField + ".index." + ix.Name
		switch {
		case ix.Name == "":
			errs = append(errs, ValidationError{
				Field: storeField + ".index", Message: "index name is required", Code: ErrIndexNameEmpty,
			})
		case !namePattern.MatchString(ix.Name):
			errs = append(errs, ValidationError{
				Field: field, Message: fmt.Sprintf("invalid index name %q", ix.Name), Code: ErrIndexNameInvalid,
			})
		}
		if seen[ix.Name] {
			errs = append(errs, ValidationError{
				Field: field, Message: fmt.Sprintf("duplicate index %q", ix.Name), Code: ErrDuplicateIndex,
			})
		}
		seen[ix.Name] = true

		switch {
		case ix.KeyPath == "":
			errs = append(errs, ValidationError{
				Field: field + ".key_path", Message: "index key_path is required", Code: ErrIndexKeyPathEmpty,
			})
		case !validKeyPath(ix.KeyPath):
			errs = append(errs, ValidationError{
				Field: field + ".key_path", Message: fmt.Sprintf("malformed key path %q", ix.KeyPath), Code: ErrKeyPathInvalid,
			})
		}
	}
	return errs
}

// validKeyPath rejects empty segments ("a..b", ".a", "a.").
func validKeyPath(path string) bool {
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return false
		}
	}
	return true
}

// Check validates store definitions without building a schema. Stores are
// checked in name order.
func Check(stores ...Store) []ValidationError {
	sorted := slices.Clone(stores)
	slices.SortFunc(sorted, func(a, b Store) int {
		return strings.Compare(a.Name, b.Name)
	})
	return Validate(&Schema{stores: sorted})
}
