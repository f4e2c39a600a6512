package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Load error codes. Validation codes (E100+) live in validate.go.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeCompile     = "E010" // Document shape error
	ErrCodeNoDocument  = "E011" // Requested document missing
)

// LoadResult contains the documents found under a path.
type LoadResult struct {
	Documents []ir.DocumentSpec
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int
}

// LoadError represents an error that occurred during loading.
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

// LoadDocuments loads and compiles every document under path. Path is either
// a single .cue file or a directory holding one CUE package.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
//
// Documents are returned sorted by name. LoadDocuments does not validate;
// run Validate on each document before building an engine from it.
func LoadDocuments(path string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("forms path not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing forms path: %v", err)}}
	}

	var (
		value cue.Value
		files int
	)
	ctx := cuecontext.New()
	if info.IsDir() {
		cueFiles, err := FindCUEFiles(path)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
		}
		if len(cueFiles) == 0 {
			return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}}
		}
		files = len(cueFiles)

		instances := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(instances) == 0 {
			return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
		}
		inst := instances[0]
		if inst.Err != nil {
			return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
		}
		value = ctx.BuildInstance(inst)
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", path, err)}}
		}
		files = 1
		value = ctx.CompileBytes(data, cue.Filename(path))
	}
	if err := value.Err(); err != nil {
		le := &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
		var ce *CompileError
		if errors.As(formatCUEError(err), &ce) {
			le.Pos = ce.Pos
		}
		return nil, []error{le}
	}

	result := &LoadResult{CUEValue: value, FileCount: files}
	var errs []error

	docs := value.LookupPath(cue.ParsePath("document"))
	if docs.Exists() {
		iter, iterErr := docs.Fields()
		if iterErr != nil {
			return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating documents: %v", iterErr)}}
		}
		for iter.Next() {
			spec, compileErr := CompileDocument(iter.Value())
			if compileErr != nil {
				errs = append(errs, convertCompileError(compileErr, "document."+iter.Selector().Unquoted()))
				if mode == LoadModeFailFast {
					return result, errs
				}
				continue
			}
			result.Documents = append(result.Documents, *spec)
		}
	}

	if len(result.Documents) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no documents found"})
	}

	sort.Slice(result.Documents, func(i, j int) bool {
		return result.Documents[i].Name < result.Documents[j].Name
	})
	return result, errs
}

// Document returns the named document. An empty name selects the only
// document and fails when there are several.
func (r *LoadResult) Document(name string) (*ir.DocumentSpec, error) {
	if name == "" {
		if len(r.Documents) != 1 {
			return nil, &LoadError{Code: ErrCodeNoDocument, Message: fmt.Sprintf("%d documents loaded; name one", len(r.Documents))}
		}
		return &r.Documents[0], nil
	}
	for i := range r.Documents {
		if r.Documents[i].Name == name {
			return &r.Documents[i], nil
		}
	}
	return nil, &LoadError{Code: ErrCodeNoDocument, Message: fmt.Sprintf("document %q not found", name)}
}

// LoadDocument loads path and returns the named (or only) document, validated.
func LoadDocument(path, name string) (*ir.DocumentSpec, error) {
	result, errs := LoadDocuments(path, LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	spec, err := result.Document(name)
	if err != nil {
		return nil, err
	}
	if verrs := Validate(spec); len(verrs) > 0 {
		return nil, verrs[0]
	}
	return spec, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeCompile,
			Message: fmt.Sprintf("%s: %s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}
