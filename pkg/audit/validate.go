package audit

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed ux-audit-report.schema.json
var reportSchema string

// Schema returns the JSON Schema of the audit report.
func Schema() string { return reportSchema }

var validate = validator.New()

// FieldError is one validation failure at a field path.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError collects every problem found in a report.
type ValidationError struct {
	Errors []FieldError
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation failed:\n")
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// Validate checks r against the embedded schema, the struct constraints,
// and the uniqueness of criteria scores and issue ids.
func Validate(r Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal audit report: %w", err)
	}
	return ValidateJSON(data)
}

// ValidateJSON validates a raw report document.
func ValidateJSON(data []byte) error {
	ve := &ValidationError{}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(reportSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("load audit schema: %w", err)
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		ve.Errors = append(ve.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	if len(ve.Errors) > 0 {
		return ve
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("parse audit report: %w", err)
	}
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   fe.Namespace(),
				Message: fmt.Sprintf("failed %q constraint", fe.Tag()),
			})
		}
	}

	seen := make(map[Criteria]bool)
	for i, s := range r.Scores {
		if seen[s.Criteria] {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   fmt.Sprintf("scores.%d.criteria", i),
				Message: fmt.Sprintf("duplicate criteria %s", s.Criteria),
			})
		}
		seen[s.Criteria] = true
	}
	ids := make(map[string]bool)
	for i, is := range r.Issues {
		if ids[is.ID] {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   fmt.Sprintf("issues.%d.id", i),
				Message: fmt.Sprintf("duplicate issue id %s", is.ID),
			})
		}
		ids[is.ID] = true
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}
