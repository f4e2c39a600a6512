package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                       `json:"valid"`
	Documents []string                   `json:"documents,omitempty"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <forms-path>",
		Short: "Validate forms without emitting IR",
		Long: `Validate CUE form documents.

Checks the document shape, every field reference of resolvers, formulas,
visibility rules, pools and aggregates, and rejects dependency cycles.

Exit codes:
  0 - All documents valid
  1 - One or more validation errors
  2 - Command error (path not found, CUE syntax, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, formsPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	docs, validationErrors, err := ValidateForms(formsPath)
	if err != nil {
		code, message := parseCompileError(err)
		_ = formatter.Error(code, message, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
	}
	for _, name := range docs {
		formatter.VerboseLog("Validated document: %s", name)
	}

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, validationErrors)
	}
	return outputValidateSuccess(formatter, docs)
}

// ValidateForms loads every document under formsPath and validates it.
// A returned error means nothing could be loaded; per-document problems,
// including shape errors, come back as validation errors.
func ValidateForms(formsPath string) ([]string, []compiler.ValidationError, error) {
	loadResult, loadErrors := compiler.LoadDocuments(formsPath, compiler.LoadModeCollectAll)
	if loadResult == nil {
		return nil, nil, loadErrors[0]
	}

	var (
		docs []string
		errs []compiler.ValidationError
	)
	for _, err := range loadErrors {
		var loadErr *compiler.LoadError
		if errors.As(err, &loadErr) {
			line := 0
			if loadErr.Pos.IsValid() {
				line = loadErr.Pos.Line()
			}
			errs = append(errs, compiler.ValidationError{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Line:    line,
			})
			continue
		}
		errs = append(errs, compiler.ValidationError{Field: "load", Message: err.Error(), Code: compiler.ErrCodeGeneric})
	}
	for i := range loadResult.Documents {
		doc := &loadResult.Documents[i]
		docs = append(docs, doc.Name)
		errs = append(errs, compiler.Validate(doc)...)
	}
	return docs, errs, nil
}

func outputValidateSuccess(formatter *OutputFormatter, docs []string) error {
	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Documents: docs})
	}
	fmt.Fprintf(formatter.Writer, "✓ %d document(s) valid\n", len(docs))
	return nil
}

// outputValidationErrors reports validation failures (exit code 1).
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.JSON() {
		if err := formatter.Respond(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s\n", err.Error())
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
