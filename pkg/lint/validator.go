// Package lint validates remediation documents before they are persisted
// or applied. Validation combines a JSON schema pass with structural rules
// the schema cannot express, and always reports every problem found rather
// than stopping at the first.
package lint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/goodnight-ai/goodnight/pkg/models"
)

// resolutionSchema is the wire shape of a persisted remediation document.
const resolutionSchema = `{
  "type": "object",
  "required": ["resolutions"],
  "properties": {
    "metadata": {
      "type": "object",
      "properties": {
        "id": {"type": "string"},
        "created_at": {"type": "string"},
        "dreaming_run_id": {"type": "string"}
      }
    },
    "resolutions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["connector_id", "actions"],
        "properties": {
          "connector_id": {"type": "string"},
          "actions": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["type", "target", "operation", "local_change"],
              "properties": {
                "type": {"type": "string"},
                "target": {"type": "string"},
                "operation": {"type": "string", "enum": ["create", "update", "append"]},
                "content": {"type": "object"},
                "issue_refs": {"type": "array", "items": {"type": "string"}},
                "priority": {"type": "string", "enum": ["low", "medium", "high"]},
                "rationale": {"type": "string"},
                "local_change": {"type": "boolean"}
              }
            }
          }
        }
      }
    }
  }
}`

var compiledResolutionSchema = jsonschema.MustCompileString("resolution.schema.json", resolutionSchema)

// Rule inspects a decoded document and returns problem descriptions.
type Rule func(doc map[string]any) []string

// Validator checks remediation documents against the schema and a set of
// rules.
type Validator struct {
	schema *jsonschema.Schema
	rules  []Rule
}

// NewValidator returns a validator with the default rules registered.
func NewValidator() *Validator {
	return &Validator{
		schema: compiledResolutionSchema,
		rules:  []Rule{checkActionTargets, checkSkillContent},
	}
}

// AddRule registers an extra rule run on every document.
func (v *Validator) AddRule(rule Rule) {
	v.rules = append(v.rules, rule)
}

// Validate checks a decoded remediation document and returns whether it is
// valid together with every problem found.
func (v *Validator) Validate(doc map[string]any) (bool, []string) {
	// Round-trip so the schema sees JSON types regardless of how the
	// document was built.
	payload, err := json.Marshal(doc)
	if err != nil {
		return false, []string{fmt.Sprintf("Invalid JSON: %v", err)}
	}
	return v.validateJSON(payload)
}

// ValidateRemediation checks a remediation in its persisted document form.
func (v *Validator) ValidateRemediation(r *models.Remediation) (bool, []string) {
	payload, err := json.Marshal(r)
	if err != nil {
		return false, []string{fmt.Sprintf("Invalid JSON: %v", err)}
	}
	return v.validateJSON(payload)
}

// ValidateFile checks a remediation JSON file on disk.
func (v *Validator) ValidateFile(path string) (bool, []string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, []string{fmt.Sprintf("File not found: %s", path)}
		}
		return false, []string{fmt.Sprintf("Reading file: %v", err)}
	}
	return v.validateJSON(data)
}

func (v *Validator) validateJSON(payload []byte) (bool, []string) {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return false, []string{fmt.Sprintf("Invalid JSON: %v", err)}
	}

	var errs []string
	if err := v.schema.Validate(decoded); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			errs = append(errs, flattenSchemaErrors(ve)...)
		} else {
			errs = append(errs, err.Error())
		}
	}
	if doc, ok := decoded.(map[string]any); ok {
		for _, rule := range v.rules {
			errs = append(errs, rule(doc)...)
		}
	}
	return len(errs) == 0, errs
}

// flattenSchemaErrors collects leaf causes as "<path>: <message>" strings.
func flattenSchemaErrors(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		return []string{pointerPath(ve.InstanceLocation) + ": " + ve.Message}
	}
	var out []string
	for _, cause := range ve.Causes {
		out = append(out, flattenSchemaErrors(cause)...)
	}
	return out
}

// pointerPath converts a JSON pointer like /resolutions/0/actions/1 into
// resolutions[0].actions[1].
func pointerPath(ptr string) string {
	if ptr == "" {
		return "document"
	}
	var sb strings.Builder
	for _, seg := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		if _, err := strconv.Atoi(seg); err == nil {
			sb.WriteString("[" + seg + "]")
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(".")
		}
		sb.WriteString(seg)
	}
	return sb.String()
}

// walkActions visits every action object under resolutions, tolerating
// malformed intermediate nodes since the schema pass already reports them.
func walkActions(doc map[string]any, visit func(path string, action map[string]any)) {
	resolutions, _ := doc["resolutions"].([]any)
	for i, res := range resolutions {
		resMap, ok := res.(map[string]any)
		if !ok {
			continue
		}
		actions, _ := resMap["actions"].([]any)
		for j, a := range actions {
			action, ok := a.(map[string]any)
			if !ok {
				continue
			}
			visit(fmt.Sprintf("resolutions[%d].actions[%d]", i, j), action)
		}
	}
}

func checkActionTargets(doc map[string]any) []string {
	var errs []string
	walkActions(doc, func(path string, action map[string]any) {
		target, _ := action["target"].(string)
		if target == "" {
			errs = append(errs, path+".target: cannot be empty")
			return
		}
		if strings.Contains(target, "..") {
			errs = append(errs, path+".target: path traversal not allowed")
		}
	})
	return errs
}

// checkSkillContent enforces the minimum content a skill create carries. A
// missing operation means create.
func checkSkillContent(doc map[string]any) []string {
	var errs []string
	walkActions(doc, func(path string, action map[string]any) {
		kind, _ := action["type"].(string)
		if kind != "skill" && kind != "claude-skills" {
			return
		}
		if op, _ := action["operation"].(string); op != "" && op != "create" {
			return
		}
		content, _ := action["content"].(map[string]any)
		if name, _ := content["name"].(string); name == "" {
			errs = append(errs, path+".content: skill 'create' requires 'name'")
		}
		instructions, _ := content["instructions"].(string)
		description, _ := content["description"].(string)
		if instructions == "" && description == "" {
			errs = append(errs, path+".content: skill 'create' requires 'instructions' or 'description'")
		}
	})
	return errs
}
