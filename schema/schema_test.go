package schema_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quipubase/quipubase/schema"
	"github.com/quipubase/quipubase/store"
)

func doc(t *testing.T, raw string) store.Document {
	t.Helper()
	var d store.Document
	require.NoError(t, json.Unmarshal([]byte(raw), &d))
	return d
}

func TestValidateNilSchema(t *testing.T) {
	assert.NoError(t, schema.Validate(nil, doc(t, `{"anything":"goes"}`)))
	assert.NoError(t, schema.ValidatePartial(nil, doc(t, `{"anything":"goes"}`)))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		schema  string
		doc     string
		wantErr string
	}{
		{
			name:   "object type",
			schema: `{"type":"object"}`,
			doc:    `{}`,
		},
		{
			name:    "missing required",
			schema:  `{"type":"object","required":["name","age"]}`,
			doc:     `{"name":"Alice"}`,
			wantErr: `missing required field "age"`,
		},
		{
			name:   "required present",
			schema: `{"type":"object","required":["name","age"]}`,
			doc:    `{"name":"Alice","age":30}`,
		},
		{
			name:   "property types",
			schema: `{"type":"object","properties":{"name":{"type":"string"},"age":{"type":"number"}}}`,
			doc:    `{"name":"Bob","age":25}`,
		},
		{
			name:    "wrong property type",
			schema:  `{"type":"object","properties":{"name":{"type":"string"}}}`,
			doc:     `{"name":123}`,
			wantErr: `$.name: expected type "string", got "number"`,
		},
		{
			name:   "type list",
			schema: `{"properties":{"v":{"type":["string","null"]}}}`,
			doc:    `{"v":null}`,
		},
		{
			name:    "type list mismatch",
			schema:  `{"properties":{"v":{"type":["string","null"]}}}`,
			doc:     `{"v":true}`,
			wantErr: "expected one of types",
		},
		{
			name:    "additional properties",
			schema:  `{"type":"object","properties":{"name":{"type":"string"}},"additionalProperties":false}`,
			doc:     `{"name":"ok","zeta":1,"extra":"bad"}`,
			wantErr: "additional properties not allowed: extra, zeta",
		},
		{
			name:    "string too short",
			schema:  `{"properties":{"code":{"type":"string","minLength":2,"maxLength":5}}}`,
			doc:     `{"code":"A"}`,
			wantErr: "less than minLength",
		},
		{
			name:    "string too long",
			schema:  `{"properties":{"code":{"type":"string","minLength":2,"maxLength":5}}}`,
			doc:     `{"code":"ABCDEF"}`,
			wantErr: "greater than maxLength",
		},
		{
			name:   "string length counts runes",
			schema: `{"properties":{"code":{"type":"string","maxLength":2}}}`,
			doc:    `{"code":"éé"}`,
		},
		{
			name:    "below minimum",
			schema:  `{"properties":{"score":{"type":"number","minimum":0,"maximum":100}}}`,
			doc:     `{"score":-1}`,
			wantErr: "less than minimum",
		},
		{
			name:    "above maximum",
			schema:  `{"properties":{"score":{"type":"number","minimum":0,"maximum":100}}}`,
			doc:     `{"score":101}`,
			wantErr: "greater than maximum",
		},
		{
			name:    "exclusive minimum",
			schema:  `{"properties":{"score":{"exclusiveMinimum":0}}}`,
			doc:     `{"score":0}`,
			wantErr: "exclusiveMinimum",
		},
		{
			name:    "exclusive maximum",
			schema:  `{"properties":{"score":{"exclusiveMaximum":10}}}`,
			doc:     `{"score":10}`,
			wantErr: "exclusiveMaximum",
		},
		{
			name:   "enum member",
			schema: `{"properties":{"role":{"type":"string","enum":["admin","user","guest"]}}}`,
			doc:    `{"role":"admin"}`,
		},
		{
			name:    "enum non member",
			schema:  `{"properties":{"role":{"type":"string","enum":["admin","user","guest"]}}}`,
			doc:     `{"role":"superadmin"}`,
			wantErr: `value not in enum ["admin", "user", "guest"]`,
		},
		{
			name:   "enum structured member",
			schema: `{"properties":{"p":{"enum":[{"x":1},[1,2]]}}}`,
			doc:    `{"p":[1,2]}`,
		},
		{
			name:    "empty array",
			schema:  `{"properties":{"tags":{"type":"array","items":{"type":"string"},"minItems":1,"maxItems":3}}}`,
			doc:     `{"tags":[]}`,
			wantErr: "less than minItems",
		},
		{
			name:    "too many items",
			schema:  `{"properties":{"tags":{"type":"array","items":{"type":"string"},"minItems":1,"maxItems":3}}}`,
			doc:     `{"tags":["a","b","c","d"]}`,
			wantErr: "greater than maxItems",
		},
		{
			name:    "wrong item type",
			schema:  `{"properties":{"tags":{"type":"array","items":{"type":"string"}}}}`,
			doc:     `{"tags":["a",1]}`,
			wantErr: "$.tags[1]",
		},
		{
			name:   "array ok",
			schema: `{"properties":{"tags":{"type":"array","items":{"type":"string"},"minItems":1,"maxItems":3}}}`,
			doc:    `{"tags":["go","rust"]}`,
		},
		{
			name:    "nested required",
			schema:  `{"properties":{"address":{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}}}`,
			doc:     `{"address":{"zip":"12345"}}`,
			wantErr: `$.address: missing required field "city"`,
		},
		{
			name:   "nested ok",
			schema: `{"properties":{"address":{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}}}`,
			doc:    `{"address":{"city":"NY","zip":"10001"}}`,
		},
		{
			name:   "whole number is integer",
			schema: `{"properties":{"count":{"type":"integer"}}}`,
			doc:    `{"count":5}`,
		},
		{
			name:    "fraction is not integer",
			schema:  `{"properties":{"count":{"type":"integer"}}}`,
			doc:     `{"count":5.5}`,
			wantErr: `expected type "integer"`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := schema.Validate(doc(t, tc.schema), doc(t, tc.doc))
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidatePartial(t *testing.T) {
	s := doc(t, `{
		"type": "object",
		"required": ["name", "age"],
		"properties": {
			"name": {"type": "string"},
			"age": {"type": "integer", "minimum": 0},
			"address": {"type": "object", "required": ["city"], "properties": {"zip": {"type": "string"}}}
		},
		"additionalProperties": false
	}`)

	assert.NoError(t, schema.ValidatePartial(s, doc(t, `{"age":31}`)))
	assert.NoError(t, schema.ValidatePartial(s, doc(t, `{"address":{"zip":"10001"}}`)))
	assert.Error(t, schema.Validate(s, doc(t, `{"age":31}`)))

	err := schema.ValidatePartial(s, doc(t, `{"age":-1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "less than minimum")

	err = schema.ValidatePartial(s, doc(t, `{"nickname":"al"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "additional properties not allowed")
}
