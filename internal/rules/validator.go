package rules

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed schemas/policy_gate_v1.json
var embeddedSchema []byte

const embeddedSchemaURL = "https://inquisitor-gate.local/schemas/policy_gate_v1.json"

// Validator handles rule set validation
type Validator struct {
	schema  *jsonschema.Schema
	printer *message.Printer
}

// NewValidator creates a validator using the schema bundled with the binary
func NewValidator() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(embeddedSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse bundled schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(embeddedSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add bundled schema: %w", err)
	}

	schema, err := compiler.Compile(embeddedSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return newValidator(schema), nil
}

func newValidator(schema *jsonschema.Schema) *Validator {
	return &Validator{
		schema:  schema,
		printer: message.NewPrinter(language.English),
	}
}

// ValidatePath loads and validates all rule files at path
func (v *Validator) ValidatePath(path string) []ValidationError {
	files, loadErrors := LoadFromPath(path)

	var allErrors []ValidationError
	allErrors = append(allErrors, loadErrors...)

	if len(files) == 0 {
		return allErrors
	}

	allErrors = append(allErrors, v.Validate(files)...)
	return allErrors
}

// Validate checks parsed files against the schema and the cross-file rules
func (v *Validator) Validate(files []FileWithPath) []ValidationError {
	var allErrors []ValidationError

	for _, fw := range files {
		allErrors = append(allErrors, v.validateSchema(fw)...)
	}

	allErrors = append(allErrors, validateExtraRules(files)...)
	return allErrors
}

// validateSchema validates a single file against the JSON schema
func (v *Validator) validateSchema(fw FileWithPath) []ValidationError {
	var errors []ValidationError

	var raw []byte
	var err error
	if fw.doc != nil {
		raw, err = json.Marshal(fw.doc)
	} else {
		raw, err = json.Marshal(fw.File)
	}
	if err != nil {
		errors = append(errors, ValidationError{
			File:    fw.Path,
			Message: fmt.Sprintf("failed to convert to JSON: %v", err),
		})
		return errors
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		errors = append(errors, ValidationError{
			File:    fw.Path,
			Message: fmt.Sprintf("failed to convert to JSON: %v", err),
		})
		return errors
	}

	if err := v.schema.Validate(instance); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			errors = append(errors, v.extractSchemaErrors(fw.Path, validationErr)...)
		} else {
			errors = append(errors, ValidationError{
				File:    fw.Path,
				Message: err.Error(),
			})
		}
	}

	return errors
}

// extractSchemaErrors flattens a schema error tree into its leaves
func (v *Validator) extractSchemaErrors(file string, err *jsonschema.ValidationError) []ValidationError {
	if len(err.Causes) > 0 {
		var errors []ValidationError
		for _, cause := range err.Causes {
			errors = append(errors, v.extractSchemaErrors(file, cause)...)
		}
		return errors
	}

	path := instancePath(err.InstanceLocation)
	if path == "" {
		path = "(root)"
	}

	return []ValidationError{{
		File:    file,
		Path:    path,
		Message: err.ErrorKind.LocalizedString(v.printer),
	}}
}

// instancePath renders ["checks", "0", "id"] as checks[0].id
func instancePath(loc []string) string {
	var b strings.Builder
	for _, part := range loc {
		if isIndex(part) {
			b.WriteString("[" + part + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// validateExtraRules applies checks the schema cannot express
func validateExtraRules(files []FileWithPath) []ValidationError {
	var errors []ValidationError

	idSeen := make(map[string]string)
	for _, fw := range files {
		for i, rule := range fw.File.AllRules() {
			path := rulePath(fw.File, i)

			if rule.ID != "" {
				if prevFile, exists := idSeen[rule.ID]; exists {
					errors = append(errors, ValidationError{
						File:    fw.Path,
						Path:    path + ".id",
						Message: fmt.Sprintf("duplicate ID %q (also in %s)", rule.ID, filepath.Base(prevFile)),
					})
				} else {
					idSeen[rule.ID] = fw.Path
				}
			}

			if rule.Pattern != "" {
				if _, err := compilePattern(rule); err != nil {
					errors = append(errors, ValidationError{
						File:    fw.Path,
						Path:    path + ".pattern",
						Message: fmt.Sprintf("invalid pattern: %v", err),
					})
				}
			}
		}
	}

	// block_if may point at rules declared in any file
	for _, fw := range files {
		for j, id := range fw.File.DecisionPolicy.BlockIf {
			if _, ok := idSeen[id]; !ok {
				errors = append(errors, ValidationError{
					File:    fw.Path,
					Path:    fmt.Sprintf("decision_policy.block_if[%d]", j),
					Message: fmt.Sprintf("unknown rule ID %q", id),
				})
			}
		}
	}

	return errors
}

// rulePath names the i-th entry of AllRules the way it appears in the file
func rulePath(f *File, i int) string {
	if i < len(f.Checks) {
		return fmt.Sprintf("checks[%d]", i)
	}
	return fmt.Sprintf("rules[%d]", i-len(f.Checks))
}
