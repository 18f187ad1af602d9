package protocol

import (
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Schema names a request body schema.
type Schema string

const (
	SchemaCreateSession   Schema = "create_session"
	SchemaUpdateSession   Schema = "update_session"
	SchemaCompleteSession Schema = "complete_session"
	SchemaDelegatePayment Schema = "delegate_payment"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	compileOnce sync.Once
	compiled    map[Schema]*gojsonschema.Schema
	compileErr  error
)

// ValidationError reports the first schema violation in a request body.
type ValidationError struct {
	Missing bool   // a required member is absent
	Param   string // JSONPath of the offending member, e.g. $.items[0].quantity
	Message string
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Param, e.Message)
}

func compileSchemas() {
	defs, err := schemaFS.ReadFile("schemas/defs.json")
	if err != nil {
		compileErr = err
		return
	}

	compiled = make(map[Schema]*gojsonschema.Schema)
	for _, name := range []Schema{SchemaCreateSession, SchemaUpdateSession, SchemaCompleteSession, SchemaDelegatePayment} {
		raw, err := schemaFS.ReadFile("schemas/" + string(name) + ".json")
		if err != nil {
			compileErr = err
			return
		}
		loader := gojsonschema.NewSchemaLoader()
		if err := loader.AddSchemas(gojsonschema.NewBytesLoader(defs)); err != nil {
			compileErr = fmt.Errorf("load shared definitions: %w", err)
			return
		}
		schema, err := loader.Compile(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			compileErr = fmt.Errorf("compile %s schema: %w", name, err)
			return
		}
		compiled[name] = schema
	}
}

// Validate checks body against the named schema. It returns a
// *ValidationError for a body that parses but violates the schema.
func Validate(name Schema, body []byte) error {
	compileOnce.Do(compileSchemas)
	if compileErr != nil {
		return compileErr
	}
	schema, ok := compiled[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &ValidationError{Message: "request body is not valid JSON"}
	}
	if result.Valid() {
		return nil
	}
	return firstViolation(result.Errors())
}

// firstViolation picks the most specific error. Combinator failures
// (oneOf, anyOf) only restate a nested error, so they rank last.
func firstViolation(errs []gojsonschema.ResultError) *ValidationError {
	ranked := make([]gojsonschema.ResultError, len(errs))
	copy(ranked, errs)
	sort.SliceStable(ranked, func(i, j int) bool {
		return rank(ranked[i]) < rank(ranked[j])
	})

	e := ranked[0]
	path := e.Context().String()
	missing := e.Type() == "required"
	if missing {
		if prop, ok := e.Details()["property"].(string); ok && !strings.HasSuffix(path, "."+prop) {
			path += "." + prop
		}
	}
	return &ValidationError{
		Missing: missing,
		Param:   jsonPath(path),
		Message: e.Description(),
	}
}

func rank(e gojsonschema.ResultError) int {
	switch e.Type() {
	case "number_one_of", "number_any_of", "number_all_of":
		return 1
	default:
		return 0
	}
}

// jsonPath converts a gojsonschema context such as (root).items.0.id
// into $.items[0].id.
func jsonPath(context string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, part := range strings.Split(context, ".") {
		switch {
		case part == "" || part == "(root)":
		case isIndex(part):
			b.WriteString("[" + part + "]")
		default:
			b.WriteString("." + part)
		}
	}
	return b.String()
}

func isIndex(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
