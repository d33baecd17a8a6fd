// Package schema validates documents against a JSON Schema definition
// before they reach the store.
package schema

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/quipubase/quipubase/store"
)

// Validate checks doc against a JSON Schema (draft-07 subset). A nil
// schema accepts everything.
//
// Supported JSON Schema keywords:
//   - type (string, number, integer, boolean, object, array, null), or a list of them
//   - properties, required, additionalProperties
//   - items (for arrays)
//   - minimum, maximum, exclusiveMinimum, exclusiveMaximum
//   - minLength, maxLength
//   - minItems, maxItems
//   - enum
func Validate(schema, doc store.Document) error {
	if schema == nil {
		return nil
	}
	v := validator{}
	return v.value(schema, store.DocumentValue(doc), "$")
}

// ValidatePartial is Validate for merge patches: required fields are not
// enforced at any depth, everything present must still conform.
func ValidatePartial(schema, doc store.Document) error {
	if schema == nil {
		return nil
	}
	v := validator{partial: true}
	return v.value(schema, store.DocumentValue(doc), "$")
}

type validator struct {
	partial bool
}

func (v validator) value(schema store.Document, value store.Value, path string) error {
	if t, ok := schema["type"]; ok {
		if err := checkType(t, value, path); err != nil {
			return err
		}
	}

	if e, ok := schema["enum"]; ok {
		if allowed, ok := e.Array(); ok {
			if err := checkEnum(allowed, value, path); err != nil {
				return err
			}
		}
	}

	switch value.Kind() {
	case store.KindDocument:
		obj, _ := value.Document()
		return v.object(schema, obj, path)
	case store.KindArray:
		arr, _ := value.Array()
		return v.array(schema, arr, path)
	case store.KindString:
		return validateString(schema, value.Str(), path)
	case store.KindNumber:
		return validateNumber(schema, value.Number(), path)
	}
	return nil
}

func checkType(t store.Value, value store.Value, path string) error {
	var expected []string
	switch t.Kind() {
	case store.KindString:
		expected = []string{t.Str()}
	case store.KindArray:
		list, _ := t.Array()
		for _, e := range list {
			if e.Kind() == store.KindString {
				expected = append(expected, e.Str())
			}
		}
	default:
		return nil
	}
	actual := jsonType(value)
	for _, want := range expected {
		if want == actual {
			return nil
		}
		if want == "integer" && actual == "number" && value.Number() == math.Trunc(value.Number()) {
			return nil
		}
	}
	if len(expected) == 1 {
		return fmt.Errorf("%s: expected type %q, got %q", path, expected[0], actual)
	}
	return fmt.Errorf("%s: expected one of types %v, got %q", path, expected, actual)
}

func jsonType(v store.Value) string {
	return v.Kind().String()
}

func checkEnum(allowed []store.Value, value store.Value, path string) error {
	for _, a := range allowed {
		if a.Equal(value) {
			return nil
		}
	}
	names := make([]string, len(allowed))
	for i, a := range allowed {
		b, _ := a.MarshalJSON()
		names[i] = string(b)
	}
	return fmt.Errorf("%s: value not in enum [%s]", path, strings.Join(names, ", "))
}

func (v validator) object(schema, obj store.Document, path string) error {
	if !v.partial {
		if req, ok := schema["required"].Array(); ok {
			for _, r := range req {
				if r.Kind() != store.KindString {
					continue
				}
				if _, exists := obj[r.Str()]; !exists {
					return fmt.Errorf("%s: missing required field %q", path, r.Str())
				}
			}
		}
	}

	props, _ := schema["properties"].Document()
	fields := make([]string, 0, len(props))
	for field := range props {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		val, exists := obj[field]
		if !exists {
			continue
		}
		ps, ok := props[field].Document()
		if !ok {
			continue
		}
		if err := v.value(ps, val, path+"."+field); err != nil {
			return err
		}
	}

	if ap, ok := schema["additionalProperties"]; ok && ap.Kind() == store.KindBool && !ap.Bool() {
		var extra []string
		for field := range obj {
			if _, defined := props[field]; !defined {
				extra = append(extra, field)
			}
		}
		if len(extra) > 0 {
			sort.Strings(extra)
			return fmt.Errorf("%s: additional properties not allowed: %s", path, strings.Join(extra, ", "))
		}
	}

	return nil
}

func (v validator) array(schema store.Document, arr []store.Value, path string) error {
	if n, ok := number(schema["minItems"]); ok && float64(len(arr)) < n {
		return fmt.Errorf("%s: array length %d is less than minItems %v", path, len(arr), n)
	}
	if n, ok := number(schema["maxItems"]); ok && float64(len(arr)) > n {
		return fmt.Errorf("%s: array length %d is greater than maxItems %v", path, len(arr), n)
	}
	if itemSchema, ok := schema["items"].Document(); ok {
		for i, elem := range arr {
			if err := v.value(itemSchema, elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateString(schema store.Document, s string, path string) error {
	length := utf8.RuneCountInString(s)
	if n, ok := number(schema["minLength"]); ok && float64(length) < n {
		return fmt.Errorf("%s: string length %d is less than minLength %v", path, length, n)
	}
	if n, ok := number(schema["maxLength"]); ok && float64(length) > n {
		return fmt.Errorf("%s: string length %d is greater than maxLength %v", path, length, n)
	}
	return nil
}

func validateNumber(schema store.Document, n float64, path string) error {
	if v, ok := number(schema["minimum"]); ok && n < v {
		return fmt.Errorf("%s: %v is less than minimum %v", path, n, v)
	}
	if v, ok := number(schema["maximum"]); ok && n > v {
		return fmt.Errorf("%s: %v is greater than maximum %v", path, n, v)
	}
	if v, ok := number(schema["exclusiveMinimum"]); ok && n <= v {
		return fmt.Errorf("%s: %v is not greater than exclusiveMinimum %v", path, n, v)
	}
	if v, ok := number(schema["exclusiveMaximum"]); ok && n >= v {
		return fmt.Errorf("%s: %v is not less than exclusiveMaximum %v", path, n, v)
	}
	return nil
}

func number(v store.Value) (float64, bool) {
	if v.Kind() != store.KindNumber {
		return 0, false
	}
	return v.Number(), true
}
