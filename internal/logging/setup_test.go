package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWriter_JSONEnvironments(t *testing.T) {
	for _, env := range []string{EnvDev, EnvProd} {
		t.Run(env, func(t *testing.T) {
			var buf bytes.Buffer
			logger := SetupWriter(&buf, env, false)
			logger.Info("hello", Operation("test"))

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, "hello", entry["msg"])
			assert.Equal(t, "test", entry[KeyOperation])
		})
	}
}

func TestSetupWriter_Levels(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, EnvProd, false).Debug("hidden")
	assert.Empty(t, buf.String())

	buf.Reset()
	SetupWriter(&buf, EnvProd, true).Debug("shown")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	SetupWriter(&buf, EnvLocal, false).Debug("local debug")
	assert.True(t, strings.Contains(buf.String(), "msg=\"local debug\""))
}
