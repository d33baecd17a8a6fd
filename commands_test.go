package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quipubase/quipubase/store"
)

func seed(t *testing.T, backend, path string, docs map[string]string) {
	t.Helper()
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	s, err := store.Open(path, store.WithBackend(backend), store.WithLogger(logrus.NewEntry(l)))
	require.NoError(t, err)
	defer s.Close()
	for k, raw := range docs {
		var doc store.Document
		require.NoError(t, json.Unmarshal([]byte(raw), &doc))
		require.NoError(t, s.PutDoc(k, doc))
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCountCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.json")
	seed(t, store.BackendJSON, path, map[string]string{
		"a": `{"n":1}`,
		"b": `{"n":2}`,
	})

	out, err := run(t, "count", "--backend", "json", "--path", path, "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)
}

func TestExportCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	seed(t, store.BackendSQLite, path, map[string]string{
		"b": `{"tags":["x"]}`,
		"a": `{"nested":{"ok":true}}`,
	})

	out, err := run(t, "export", "--path", path, "--log-level", "error")
	require.NoError(t, err)

	var lines []map[string]any
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, map[string]any{"key": "a", "value": map[string]any{"nested": map[string]any{"ok": true}}}, lines[0])
	assert.Equal(t, map[string]any{"key": "b", "value": map[string]any{"tags": []any{"x"}}}, lines[1])
}

func TestCommandErrors(t *testing.T) {
	_, err := run(t, "count", "--path", filepath.Join(t.TempDir(), "missing", "docs.db"), "--log-level", "error")
	assert.ErrorIs(t, err, store.ErrStorageOpen)

	_, err = run(t, "count", "--backend", "memory", "--log-level", "shout")
	assert.Error(t, err)

	_, err = run(t, "count", "--config", filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
