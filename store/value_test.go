package store_test

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quipubase/quipubase/store"
)

func TestFromAnyRejects(t *testing.T) {
	cyclic := map[string]any{"a": 1}
	cyclic["self"] = cyclic

	list := []any{1, nil}
	list[1] = list

	tests := []struct {
		name string
		in   any
	}{
		{"top level scalar", "hello"},
		{"top level array", []any{1, 2}},
		{"unsupported type", map[string]any{"when": time.Now()}},
		{"channel", map[string]any{"c": make(chan int)}},
		{"nan", map[string]any{"n": math.NaN()}},
		{"inf", map[string]any{"n": math.Inf(1)}},
		{"cyclic map", cyclic},
		{"cyclic list", map[string]any{"l": list}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.DocumentFrom(tc.in)
			assert.ErrorIs(t, err, store.ErrInvalidDocument)
		})
	}
}

func TestFromAnySharedSubtreeIsNotACycle(t *testing.T) {
	shared := map[string]any{"x": 1}
	doc, err := store.DocumentFrom(map[string]any{"a": shared, "b": shared})
	require.NoError(t, err)
	assert.True(t, doc["a"].Equal(doc["b"]))
}

func TestValueEqual(t *testing.T) {
	a := store.Document{
		"n":   store.Number(1),
		"s":   store.String("x"),
		"arr": store.Array(store.Bool(true), store.Null()),
		"doc": store.DocumentValue(store.Document{"k": store.Number(2)}),
	}
	b := a.Clone()
	assert.True(t, a.Equal(b))

	b["arr"] = store.Array(store.Bool(true))
	assert.False(t, a.Equal(b))

	assert.False(t, store.Number(1).Equal(store.String("1")))
	assert.False(t, store.Null().Equal(store.Bool(false)))
	assert.True(t, store.Number(1).Equal(store.Number(1.0)))
}

func TestDocumentJSON(t *testing.T) {
	in := `{"b":[1,"two",null,{"c":false}],"a":{"nested":1.5},"z":null}`
	var doc store.Document
	require.NoError(t, json.Unmarshal([]byte(in), &doc))

	assert.Equal(t, store.KindArray, doc["b"].Kind())
	assert.Equal(t, store.KindNull, doc["z"].Kind())
	nested, ok := doc["a"].Document()
	require.True(t, ok)
	assert.Equal(t, 1.5, nested["nested"].Number())

	out, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
	assert.Equal(t, `{"a":{"nested":1.5},"b":[1,"two",null,{"c":false}],"z":null}`, string(out))

	err = json.Unmarshal([]byte(`[1,2]`), &doc)
	assert.ErrorIs(t, err, store.ErrInvalidDocument)
}

func TestValueInterface(t *testing.T) {
	doc, err := store.DocumentFrom(map[string]any{"a": []any{1, "x"}, "b": map[string]any{"c": true}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"a": []any{1.0, "x"},
		"b": map[string]any{"c": true},
	}, doc.Map())
}

func TestMerge(t *testing.T) {
	base := store.Document{
		"keep": store.String("k"),
		"obj":  store.DocumentValue(store.Document{"x": store.Number(1), "deep": store.DocumentValue(store.Document{"p": store.Number(1)})}),
		"list": store.Array(store.Number(1), store.Number(2)),
		"num":  store.Number(3),
	}
	patch := store.Document{
		"obj":  store.DocumentValue(store.Document{"y": store.Number(2), "deep": store.DocumentValue(store.Document{"q": store.Number(2)})}),
		"list": store.Array(store.Number(9)),
		"num":  store.DocumentValue(store.Document{"now": store.String("object")}),
		"new":  store.Null(),
	}
	got := store.Merge(base, patch)

	want, err := store.DocumentFrom(map[string]any{
		"keep": "k",
		"obj":  map[string]any{"x": 1, "y": 2, "deep": map[string]any{"p": 1, "q": 2}},
		"list": []any{9},
		"num":  map[string]any{"now": "object"},
		"new":  nil,
	})
	require.NoError(t, err)
	assert.True(t, want.Equal(got), "got %v", got)

	obj, _ := base["obj"].Document()
	_, hasY := obj["y"]
	assert.False(t, hasY, "base must not be modified")
	assert.Len(t, base, 4)
}

func TestMatches(t *testing.T) {
	doc := store.Document{"status": store.String("active"), "n": store.Number(2)}
	assert.True(t, store.Matches(doc, nil))
	assert.True(t, store.Matches(doc, store.Document{"status": store.String("active")}))
	assert.False(t, store.Matches(doc, store.Document{"status": store.String("inactive")}))
	assert.False(t, store.Matches(doc, store.Document{"missing": store.Null()}))
	assert.True(t, store.Matches(doc, store.Document{"n": store.Number(2), "status": store.String("active")}))
}
