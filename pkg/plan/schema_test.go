package plan

import (
	"testing"

	"github.com/aard-ai/aard/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaCache_ValidateFunctionCall(t *testing.T) {
	c := newSchemaCache()
	fc := &models.FunctionCall{
		Name:       "send_email",
		Parameters: map[string]any{"to": "a@example.com"},
		ValidationSchema: map[string]any{
			"type":                 "object",
			"required":             []any{"to"},
			"additionalProperties": true,
			"properties": map[string]any{
				"to": map[string]any{"type": "string"},
			},
		},
	}
	require.NoError(t, c.validateFunctionCall(fc))
}

func TestSchemaCache_ValidateFunctionCall_MissingRequired(t *testing.T) {
	c := newSchemaCache()
	fc := &models.FunctionCall{
		Name:       "send_email",
		Parameters: map[string]any{},
		ValidationSchema: map[string]any{
			"type":     "object",
			"required": []any{"to"},
		},
	}
	err := c.validateFunctionCall(fc)
	assert.Error(t, err)
}

func TestSchemaCache_NilSchemaIsNoop(t *testing.T) {
	c := newSchemaCache()
	assert.NoError(t, c.validateFunctionCall(nil))
	assert.NoError(t, c.validateFunctionCall(&models.FunctionCall{Name: "x"}))
}

func TestSchemaCache_CachesCompiledSchema(t *testing.T) {
	c := newSchemaCache()
	schema := map[string]any{"type": "object"}
	s1, err := c.compile(schema)
	require.NoError(t, err)
	s2, err := c.compile(schema)
	require.NoError(t, err)
	assert.Same(t, s1, s2, "identical schema body should hit the cache")
}
