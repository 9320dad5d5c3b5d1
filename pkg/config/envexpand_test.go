package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple substitution with {{.VAR}}",
			input: "api_key_env: {{.KEY_VAR}}",
			env:   map[string]string{"KEY_VAR": "ANTHROPIC_API_KEY"},
			want:  "api_key_env: ANTHROPIC_API_KEY",
		},
		{
			name:  "literal ${VAR} is NOT expanded",
			input: "redis_url: ${REDIS_URL}",
			env:   map[string]string{"REDIS_URL": "redis://other:6379"},
			want:  "redis_url: ${REDIS_URL}",
		},
		{
			name:  "literal $ in values is preserved",
			input: "pattern: ^secret.*$",
			env:   map[string]string{},
			want:  "pattern: ^secret.*$",
		},
		{
			name:  "multiple substitutions in one line",
			input: "redis_url: redis://{{.REDIS_HOST}}:{{.REDIS_PORT}}",
			env: map[string]string{
				"REDIS_HOST": "cache.internal",
				"REDIS_PORT": "6380",
			},
			want: "redis_url: redis://cache.internal:6380",
		},
		{
			name:  "missing variable expands to empty",
			input: "region: {{.MISSING_VAR}}",
			env:   map[string]string{},
			want:  "region: ",
		},
		{
			name: "variables in nested structure",
			input: `provider:
  bedrock:
    region: {{.AWS_REGION}}
    model: {{.BEDROCK_MODEL}}`,
			env: map[string]string{
				"AWS_REGION":    "us-west-2",
				"BEDROCK_MODEL": "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
			},
			want: `provider:
  bedrock:
    region: us-west-2
    model: us.anthropic.claude-sonnet-4-5-20250929-v1:0`,
		},
		{
			name:  "no substitution when no variables",
			input: "schedule: daily",
			env:   map[string]string{"UNUSED": "value"},
			want:  "schedule: daily",
		},
		{
			name:  "special characters in expanded value",
			input: "ollama_url: {{.OLLAMA_URL}}",
			env:   map[string]string{"OLLAMA_URL": "http://localhost:11434/?x=1&y=2"},
			want:  "ollama_url: http://localhost:11434/?x=1&y=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			result := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.want, string(result))
		})
	}
}

func TestExpandEnvWithEmptyInput(t *testing.T) {
	result := ExpandEnv([]byte(""))
	assert.Equal(t, "", string(result))
}

// Malformed template syntax must be passed through unchanged so the YAML
// parser can produce the clearer error message.
func TestExpandEnvMalformedTemplates(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "unclosed template",
			input: "api_key_env: {{.KEY_VAR",
		},
		{
			name:  "only opening braces",
			input: "api_key_env: {{",
		},
		{
			name:  "missing one closing brace",
			input: "api_key_env: {{.KEY_VAR}",
		},
		{
			name:  "variable without leading dot",
			input: "api_key_env: {{KEY_VAR}}",
		},
		{
			name:  "undefined pipeline function",
			input: "api_key_env: {{.KEY_VAR | upper}}",
		},
		{
			name:  "unclosed template inside valid YAML",
			input: "host: localhost\napi_key_env: {{.KEY_VAR\nport: 7777",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("KEY_VAR", "should-not-appear")

			result := ExpandEnv([]byte(tt.input))

			assert.Equal(t, tt.input, string(result))
			assert.NotContains(t, string(result), "should-not-appear")
		})
	}
}

func TestExpandEnvPassThroughStillParsesAsYAML(t *testing.T) {
	input := `
host: localhost
api_key_env: "{{.KEY_VAR"
port: 7777
`
	expanded := ExpandEnv([]byte(input))

	var result map[string]any
	require := assert.New(t)
	require.NoError(yaml.Unmarshal(expanded, &result))
	require.Equal("localhost", result["host"])
}

func TestExpandEnvThreadSafety(t *testing.T) {
	input := []byte("model: {{.TEST_MODEL}}")
	t.Setenv("TEST_MODEL", "all-minilm")

	const goroutines = 100
	results := make([]string, goroutines)
	done := make(chan bool)

	for i := 0; i < goroutines; i++ {
		go func(index int) {
			results[index] = string(ExpandEnv(input))
			done <- true
		}(i)
	}

	for i := 0; i < goroutines; i++ {
		<-done
	}

	for i, result := range results {
		assert.Equal(t, "model: all-minilm", result, "result %d should match", i)
	}
}
