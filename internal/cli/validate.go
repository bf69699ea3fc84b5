package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/livekv/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                     `json:"valid"`
	Stores int                      `json:"stores"`
	Errors []schema.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate a CUE store schema",
		Long: `Validate the store declarations of a CUE schema directory.

Checks store names, key paths, auto-increment and index declarations,
reporting every problem found rather than stopping at the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, schemaDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	result, loadErrors := LoadSchema(schemaDir, LoadModeCollectAll)

	// Directory not found, no files, unparsable CUE
	if result == nil {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, schemaDir)
	for _, st := range result.Stores {
		formatter.VerboseLog("Compiled store %s (%d index(es))", st.Name, len(st.Indexes))
	}

	if len(loadErrors) > 0 {
		return outputValidationErrors(formatter, toValidationErrors(loadErrors))
	}
	return outputValidateSuccess(formatter, len(result.Stores))
}

// toValidationErrors flattens load errors into the JSON error shape.
func toValidationErrors(errs []error) []schema.ValidationError {
	out := make([]schema.ValidationError, 0, len(errs))
	for _, err := range errs {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			out = append(out, schema.ValidationError{
				Field:   "schema",
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Line:    loadErr.Line(),
			})
			continue
		}
		out = append(out, schema.ValidationError{Field: "schema", Message: err.Error(), Code: ErrCodeGeneric})
	}
	return out
}

func outputValidateSuccess(formatter *OutputFormatter, stores int) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Stores: stores})
	}

	fmt.Fprintf(formatter.Writer, "✓ Schema valid (%d stores)\n", stores)
	return nil
}

// outputValidateError reports a schema directory that could not be loaded.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

func outputValidationErrors(formatter *OutputFormatter, errs []schema.ValidationError) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}
	return failure
}
