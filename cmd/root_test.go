package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/sitebuild/pkg/config"
)

func TestLoggerWritesLogFile(t *testing.T) {
	settings := &config.Settings{}
	settings.Log.Level = "info"
	settings.Log.JSON = true
	settings.Log.File = filepath.Join(t.TempDir(), "build.log")

	logger, file, err := newLogger(settings)
	require.NoError(t, err)
	require.NotNil(t, file)

	logger.Info().Str("task", "html").Msg("finished")
	require.NoError(t, file.Close())

	content, err := os.ReadFile(settings.Log.File)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"message":"finished"`)
	assert.Contains(t, string(content), `"task":"html"`)
}

func TestLoggerWithoutLogFile(t *testing.T) {
	settings := &config.Settings{}
	settings.Log.Level = "info"

	_, file, err := newLogger(settings)
	require.NoError(t, err)
	assert.Nil(t, file)
}
