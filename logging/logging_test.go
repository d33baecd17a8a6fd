package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quipubase/quipubase/logging"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := logging.New("debug", "json", &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	logging.Component(l, "store").WithField("key", "k1").Info("Document stored")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "store", line["component"])
	assert.Equal(t, "k1", line["key"])
	assert.Equal(t, "Document stored", line["msg"])
	assert.Equal(t, "info", line["level"])
}

func TestNewTextFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := logging.New("warn", "text", &buf)
	require.NoError(t, err)

	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestNewErrors(t *testing.T) {
	_, err := logging.New("loud", "text", &bytes.Buffer{})
	assert.Error(t, err)

	_, err = logging.New("info", "xml", &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown log format")
}
