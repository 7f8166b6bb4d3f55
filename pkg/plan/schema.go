package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaCache compiles a FunctionCall.ValidationSchema once per distinct
// schema body and reuses the compiled *jsonschema.Schema on every
// subsequent validation, the way a tool registry amortizes schema
// compilation across repeated calls to the same tool rather than
// recompiling per invocation.
type schemaCache struct {
	mu    sync.Mutex
	byKey map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{byKey: make(map[string]*jsonschema.Schema)}
}

func (c *schemaCache) compile(schemaDoc map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindValidationFailed, "marshal validation_schema", err)
	}
	sum := sha256.Sum256(raw)
	key := hex.EncodeToString(sum[:])

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.byKey[key]; ok {
		return s, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apierrors.Wrap(apierrors.KindValidationFailed, "unmarshal validation_schema", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(key+".json", doc); err != nil {
		return nil, apierrors.Wrap(apierrors.KindValidationFailed, "add schema resource", err)
	}
	schema, err := compiler.Compile(key + ".json")
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindValidationFailed, "compile validation_schema", err)
	}

	c.byKey[key] = schema
	return schema, nil
}

// validateFunctionCall validates fc.Parameters against fc.ValidationSchema
// (spec §4.2 function-calling protocol: "structural type check + required
// fields"). A missing schema is treated as no-op validation.
func (c *schemaCache) validateFunctionCall(fc *models.FunctionCall) error {
	if fc == nil || len(fc.ValidationSchema) == 0 {
		return nil
	}

	schema, err := c.compile(fc.ValidationSchema)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(fc.Parameters)
	if err != nil {
		return apierrors.Wrap(apierrors.KindValidationFailed, "marshal function_call parameters", err)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return apierrors.Wrap(apierrors.KindValidationFailed, "unmarshal function_call parameters", err)
	}

	if err := schema.Validate(payload); err != nil {
		return apierrors.Wrap(apierrors.KindValidationFailed, "function_call parameters failed schema validation", err)
	}
	return nil
}
