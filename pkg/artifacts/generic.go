package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goodnight-ai/goodnight/pkg/models"
)

const maxGenericLines = 500

// GenericHandler renders definition-driven markdown artifacts for types
// without a dedicated handler.
type GenericHandler struct {
	base
}

// NewGenericHandler returns a handler for an arbitrary markdown artifact id.
func NewGenericHandler(id string) *GenericHandler {
	return &GenericHandler{base: newBase(id, "")}
}

// Name prefers the definition description over the id.
func (h *GenericHandler) Name() string {
	if h.def != nil && h.def.Description != "" {
		return h.def.Description
	}
	return titleCase(strings.ReplaceAll(h.id, "-", " "))
}

// ContentSchema comes from the definition when one declares it.
func (h *GenericHandler) ContentSchema() ContentSchema {
	return h.schemaOrDefault(ContentSchema{
		RequiredFields: map[string]string{"content": "The content to write"},
		OptionalFields: map[string]string{},
		Example:        map[string]any{"content": "Example content"},
		Hint:           "Provide content for " + h.id,
	})
}

// Apply executes one remediation action.
func (h *GenericHandler) Apply(action models.RemediationAction) (*Artifact, error) {
	return dispatch(h, action)
}

// outputPath resolves where the artifact lands. An output_path ending in
// .md is a file; anything else is a directory that gets <name>.md.
func (h *GenericHandler) outputPath(name string) string {
	if h.settings.OutputPath != "" {
		path := expandHome(h.settings.OutputPath)
		if filepath.Ext(path) == ".md" {
			return path
		}
		if name != "" {
			return filepath.Join(path, name+".md")
		}
		return path
	}
	return h.id + ".md"
}

func (h *GenericHandler) render(name string, content map[string]any) string {
	var lines []string
	if name != "" {
		lines = append(lines, "# "+name, "")
	}

	keys := make([]string, 0, len(content))
	for k := range content {
		if k == "name" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		lines = append(lines, "## "+titleCase(k))
		switch v := content[k].(type) {
		case []any:
			for _, item := range v {
				lines = append(lines, fmt.Sprintf("- %v", item))
			}
		case string:
			lines = append(lines, v)
		default:
			lines = append(lines, fmt.Sprintf("%v", v))
		}
		lines = append(lines, "")
	}
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

func (h *GenericHandler) create(name string, content map[string]any) (*Artifact, error) {
	path := h.outputPath(name)
	rendered := h.render(name, content)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating artifact directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(rendered), 0644); err != nil {
		return nil, fmt.Errorf("writing artifact: %w", err)
	}
	if name == "" {
		name = h.id
	}
	artifact := &Artifact{
		Name:     name,
		Path:     path,
		Content:  rendered,
		Metadata: map[string]any{"operation": "create"},
	}
	if errs := h.Validate(artifact); len(errs) > 0 {
		artifact.Metadata["validation_errors"] = errs
	}
	return artifact, nil
}

func (h *GenericHandler) update(path string, content map[string]any) (*Artifact, error) {
	existing, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return h.create(stem(path), content)
		}
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	rendered := h.render(stem(path), content)
	if err := os.WriteFile(path, []byte(rendered), 0644); err != nil {
		return nil, fmt.Errorf("writing artifact: %w", err)
	}
	return &Artifact{
		Name:     stem(path),
		Path:     path,
		Content:  rendered,
		Metadata: map[string]any{"operation": "update", "previous_content": string(existing)},
	}, nil
}

func (h *GenericHandler) appendTo(path string, content map[string]any) (*Artifact, error) {
	existing, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return h.create(stem(path), content)
		}
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	updated := strings.TrimRight(string(existing), "\n") + "\n\n" + h.render("", content)
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return nil, fmt.Errorf("writing artifact: %w", err)
	}
	return &Artifact{
		Name:     stem(path),
		Path:     path,
		Content:  updated,
		Metadata: map[string]any{"operation": "append", "previous_content": string(existing)},
	}, nil
}

// Validate checks a generic artifact for emptiness and size.
func (h *GenericHandler) Validate(a *Artifact) []string {
	var errs []string
	if strings.TrimSpace(a.Content) == "" {
		errs = append(errs, h.id+" is empty")
	}
	if n := lineCount(a.Content); n > maxGenericLines {
		errs = append(errs, fmt.Sprintf("Content too long (%d lines, max %d)", n, maxGenericLines))
	}
	return errs
}
