package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/baechuer/real-time-ressys/services/push-service/internal/domain"
)

// Render substitutes {{name}} placeholders in the template title and body.
// Scalars stringify as: string verbatim, number as its decimal literal,
// boolean as "true"/"false", null as empty. Arrays and objects are rejected.
// Rendering fails when any placeholder remains unresolved. Pure.
func Render(tmpl *domain.Template, variables map[string]json.RawMessage) (domain.TemplateContent, error) {
	title, err := substitute(tmpl.Content.Title, variables)
	if err != nil {
		return domain.TemplateContent{}, err
	}
	body, err := substitute(tmpl.Content.Body, variables)
	if err != nil {
		return domain.TemplateContent{}, err
	}
	return domain.TemplateContent{Title: title, Body: body}, nil
}

func substitute(text string, variables map[string]json.RawMessage) (string, error) {
	result := text

	for name, raw := range variables {
		replacement, err := stringify(name, raw)
		if err != nil {
			return "", err
		}
		result = strings.ReplaceAll(result, "{{"+name+"}}", replacement)
	}

	if start := strings.Index(result, "{{"); start >= 0 {
		if end := strings.Index(result[start:], "}}"); end >= 0 {
			return "", fmt.Errorf("missing variable in template: %s", result[start:start+end+2])
		}
	}

	return result, nil
}

func stringify(name string, raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return "", fmt.Errorf("invalid value for variable '%s': %w", name, err)
	}

	switch v := value.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported variable type for key '%s'", name)
	}
}
