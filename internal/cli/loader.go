package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/nodejit/internal/compiler"
)

// LoadMode controls how errors are handled during graph loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the graphs described under a path.
type LoadResult struct {
	Graphs    []*compiler.Graph
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// LoadError represents an error that occurred during graph loading.
type LoadError struct {
	Code    string
	Graph   string // graph label, empty for errors before any graph was read
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.Graph != "" {
		msg = "graph." + e.Graph + ": " + msg
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// LoadGraphs loads every description under graph: from a CUE file, or
// from the CUE package in a directory. wordSize applies to descriptions
// without word_size. If mode is LoadModeFailFast, returns on first error;
// otherwise graphs that load are returned alongside the errors of those
// that don't.
func LoadGraphs(path string, wordSize int, mode LoadMode) (*LoadResult, []error) {
	value, fileCount, err := buildValue(path)
	if err != nil {
		return nil, []error{err}
	}
	result := &LoadResult{CUEValue: value, FileCount: fileCount}

	graphsVal := value.LookupPath(cue.ParsePath("graph"))
	if !graphsVal.Exists() {
		return nil, []error{&LoadError{Code: ErrCodeNoGraphs, Message: fmt.Sprintf("no graph descriptions in %s", path)}}
	}
	iter, err := graphsVal.Fields()
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating graphs: %v", err)}}
	}

	var errs []error
	for iter.Next() {
		label := iter.Label()
		g, err := compiler.LoadGraph(iter.Value(), wordSize)
		if err != nil {
			errs = append(errs, convertLoadError(err, label))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Graphs = append(result.Graphs, g)
	}

	if len(result.Graphs) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoGraphs, Message: fmt.Sprintf("no graph descriptions in %s", path)})
	}
	return result, errs
}

// buildValue compiles a single file directly and a directory through
// cue/load, so package clauses and multiple files work as in the cue tool.
func buildValue(path string) (cue.Value, int, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("path not found: %s", path)}
	}
	if err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing path: %v", err)}
	}

	ctx := cuecontext.New()
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", path, err)}
		}
		value := ctx.CompileBytes(data, cue.Filename(path))
		if err := value.Err(); err != nil {
			return cue.Value{}, 0, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
		}
		return value, 1, nil
	}

	cueFiles, err := FindCUEFiles(path)
	if err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return value, len(cueFiles), nil
}

// FindCUEFiles returns the .cue files directly inside dir.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// convertLoadError converts a compiler error to a LoadError with position info.
func convertLoadError(err error, graph string) *LoadError {
	var le *compiler.LoadError
	if errors.As(err, &le) {
		return &LoadError{
			Code:    MapFieldToErrorCode(le.Field),
			Graph:   graph,
			Message: le.Field + ": " + le.Message,
			Pos:     le.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Graph: graph, Message: err.Error()}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeNoGraphs    = "E007" // No graph descriptions
	ErrCodeStore       = "E008" // Compilation log error
	ErrCodeConfig      = "E009" // Config file error

	// Graph description errors
	ErrCodeWordSize     = "E101" // word_size is not 32 or 64
	ErrCodeUnknownOp    = "E102" // unknown operator name
	ErrCodeInputs       = "E103" // unknown input or wrong input count
	ErrCodeInvalidType  = "E104" // type bound does not parse
	ErrCodeInvalidParam = "E105" // operator parameter missing or malformed
	ErrCodeNodes        = "E106" // node list malformed, duplicate id, no Start/End
	ErrCodeBlocks       = "E110" // block list malformed
)

// MapFieldToErrorCode maps a loader error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "word_size":
		return ErrCodeWordSize
	case field == "cue":
		return ErrCodeBuildFailed
	case field == "blocks" || strings.HasPrefix(field, "blocks."):
		return ErrCodeBlocks
	case field == "nodes" || strings.HasPrefix(field, "nodes["):
		return ErrCodeNodes
	case !strings.HasPrefix(field, "nodes."):
		return ErrCodeGeneric
	case strings.HasSuffix(field, ".op"):
		return ErrCodeUnknownOp
	case strings.HasSuffix(field, ".inputs"):
		return ErrCodeInputs
	case strings.HasSuffix(field, ".type"):
		return ErrCodeInvalidType
	case strings.Count(field, ".") == 1:
		return ErrCodeNodes
	default:
		return ErrCodeInvalidParam
	}
}
