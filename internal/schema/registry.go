package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"

	"github.com/emergent/loom/internal/canonical"
)

// Validation error codes (S100-S199)
const (
	ErrEncodeProperties = "S100" // property tree could not be rendered for checking
	ErrSchemaViolation  = "S101" // property value conflicts with the registered schema
	ErrMissingRequired  = "S102" // required property absent or not concrete
)

// ValidationError describes a single schema violation in a property tree.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Registry holds compiled property schemas keyed by object type. All
// schemas and candidate values share one CUE context so they can be
// unified. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	ctx     *cue.Context
	schemas map[string]cue.Value
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
}

// Register compiles source as the property schema for objectType,
// replacing any prior schema for the same type. The source must
// evaluate to a struct.
func (r *Registry) Register(objectType, source string) error {
	objectType = strings.TrimSpace(objectType)
	if objectType == "" {
		return fmt.Errorf("object type is required")
	}

	v := r.ctx.CompileString(source)
	if err := v.Err(); err != nil {
		return fmt.Errorf("compiling schema for %q: %w", objectType, err)
	}
	if v.IncompleteKind() != cue.StructKind {
		return fmt.Errorf("schema for %q must be a struct, got %v", objectType, v.IncompleteKind())
	}

	r.mu.Lock()
	r.schemas[objectType] = v
	r.mu.Unlock()
	return nil
}

// LoadDir builds a registry from every .cue file under dir. Each file
// contributes fields of its top-level "schema" struct. Files are
// combined the way the cue command combines file arguments, so two
// declarations for the same object type unify.
func LoadDir(dir string) (*Registry, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("schema directory not found: %s", dir)
	}
	if err != nil {
		return nil, fmt.Errorf("accessing schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	files, err := findCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning schema directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	r := NewRegistry()

	// Load the files as explicit arguments so no cue.mod module root is
	// required in the schema directory.
	instances := load.Instances(files, &load.Config{Dir: dir})
	for _, inst := range instances {
		if inst.Err != nil {
			return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
		}
		value := r.ctx.BuildInstance(inst)
		if err := value.Err(); err != nil {
			return nil, fmt.Errorf("building schema value: %w", err)
		}

		declared := value.LookupPath(cue.ParsePath("schema"))
		if !declared.Exists() {
			continue
		}
		iter, err := declared.Fields()
		if err != nil {
			return nil, fmt.Errorf("iterating schema declarations: %w", err)
		}
		for iter.Next() {
			objectType := iter.Label()
			if iter.Value().IncompleteKind() != cue.StructKind {
				return nil, fmt.Errorf("schema for %q must be a struct", objectType)
			}
			r.schemas[objectType] = iter.Value()
		}
	}

	if len(r.schemas) == 0 {
		return nil, fmt.Errorf("no schema declarations found in %s", dir)
	}
	return r, nil
}

// Has reports whether a schema is registered for objectType.
func (r *Registry) Has(objectType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[objectType]
	return ok
}

// Types returns the registered object types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Validate checks properties against the schema registered for
// objectType. Returns all violations found (does not fail-fast). A type
// with no registered schema passes; callers that require coverage should
// check Has first.
func (r *Registry) Validate(objectType string, properties map[string]any) []ValidationError {
	r.mu.RLock()
	s, ok := r.schemas[objectType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	// Render through canonical JSON so json.Number and float trees take
	// the same path; JSON is a valid CUE expression.
	data, err := canonical.MarshalCanonical(properties)
	if err != nil {
		return []ValidationError{{
			Field:   "properties",
			Message: fmt.Sprintf("encoding properties: %v", err),
			Code:    ErrEncodeProperties,
		}}
	}
	v := r.ctx.CompileBytes(data)
	if err := v.Err(); err != nil {
		return []ValidationError{{
			Field:   "properties",
			Message: fmt.Sprintf("compiling properties: %v", err),
			Code:    ErrEncodeProperties,
		}}
	}

	unified := s.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

// convertCUEErrors flattens a CUE error list into validation errors.
// Incompleteness (a required field the properties never supplied) is
// reported under its own code so callers can phrase it as "missing"
// rather than "conflicting".
func convertCUEErrors(err error) []ValidationError {
	list := errors.Errors(err)
	out := make([]ValidationError, 0, len(list))
	for _, e := range list {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		code := ErrSchemaViolation
		if strings.Contains(msg, "incomplete value") {
			code = ErrMissingRequired
		}
		out = append(out, ValidationError{
			Field:   strings.Join(e.Path(), "."),
			Message: msg,
			Code:    code,
		})
	}
	return out
}

// findCUEFiles walks the directory and returns all .cue file paths.
func findCUEFiles(dir string) ([]string, error) {
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
