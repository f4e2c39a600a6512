package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/compiler"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
)

// ErrCodeWriteFailed is reported when the compiled IR cannot be written.
const ErrCodeWriteFailed = "E007"

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompiledDocument is one document with its content hash.
type CompiledDocument struct {
	Hash string          `json:"hash"`
	Spec ir.DocumentSpec `json:"spec"`
}

// CompilationResult holds the compiled documents.
type CompilationResult struct {
	Documents []CompiledDocument `json:"documents"`
}

// DocumentStats summarizes one document template.
type DocumentStats struct {
	Fields     int
	Groups     int
	Resolved   int
	Derived    int
	Aggregated int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <forms-path>",
		Short: "Compile CUE forms to canonical IR",
		Long: `Compile CUE form documents to the IR the engine runs.

forms-path is a single .cue file or a directory holding one CUE package.
Every document is compiled and hashed; the IR is printed or written to
--output as indented JSON.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, formsPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	loadResult, loadErrors := compiler.LoadDocuments(formsPath, compiler.LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		code, message := parseCompileError(loadErrors[0])
		return outputCompileError(formatter, code, message, nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, formsPath)
	for _, doc := range loadResult.Documents {
		formatter.VerboseLog("Compiled document: %s", doc.Name)
	}

	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	result := &CompilationResult{Documents: make([]CompiledDocument, 0, len(loadResult.Documents))}
	for _, doc := range loadResult.Documents {
		hash, err := ir.DocumentHash(doc)
		if err != nil {
			return outputCompileError(formatter, compiler.ErrCodeGeneric, fmt.Sprintf("hashing %s: %v", doc.Name, err), nil)
		}
		result.Documents = append(result.Documents, CompiledDocument{Hash: hash, Spec: doc})
	}

	if opts.Output != "" {
		if err := writeIRToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

// calculateStats counts fields and groups through every nesting level.
func calculateStats(fields []ir.FieldSpec, groups []ir.GroupSpec) DocumentStats {
	var stats DocumentStats
	for _, f := range fields {
		stats.Fields++
		if f.Source != nil {
			stats.Resolved++
		}
		if f.Derive != nil {
			stats.Derived++
		}
	}
	for _, g := range groups {
		stats.Groups++
		stats.Aggregated += len(g.Aggregates)
		nested := calculateStats(g.Fields, g.Groups)
		stats.Fields += nested.Fields
		stats.Groups += nested.Groups
		stats.Resolved += nested.Resolved
		stats.Derived += nested.Derived
		stats.Aggregated += nested.Aggregated
	}
	return stats
}

func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d document(s)\n\n", len(result.Documents))
	for _, doc := range result.Documents {
		stats := calculateStats(doc.Spec.Fields, doc.Spec.Groups)
		fmt.Fprintf(formatter.Writer, "  %s: %d field(s), %d group(s), %d resolved, %d derived, %d aggregate(s)\n",
			doc.Spec.Name, stats.Fields, stats.Groups, stats.Resolved, stats.Derived, stats.Aggregated)
		fmt.Fprintf(formatter.Writer, "    hash %s\n", doc.Hash)
	}
	fmt.Fprintln(formatter.Writer)

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote IR to %s\n", outputFile)
	}
	return nil
}

// outputCompileError outputs a single error. Load failures are command errors.
func outputCompileError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.JSON() {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{Code: code, Message: message}
		}

		if err := formatter.Respond(CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors,
		}); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *compiler.LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n", loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return compiler.ErrCodeCompile, compileErr.Field + ": " + compileErr.Message
	}
	var validationErr compiler.ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Code, validationErr.Field + ": " + validationErr.Message
	}
	return compiler.ErrCodeGeneric, err.Error()
}

// writeIRToFile writes the result as indented JSON. Canonical JSON is only
// used for hashing.
func writeIRToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling IR: %w", err)
	}
	if err := os.WriteFile(filename, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
