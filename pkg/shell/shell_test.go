package shell

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesOutput(t *testing.T) {
	result, err := Run(context.Background(), Command{Script: `echo "$1-$2"; echo "$GREETING" >&2`, Env: map[string]string{"GREETING": "hi"}}, nil, "a", "b")
	require.NoError(t, err)

	assert.Equal(t, "a-b\n", string(result.Stdout))
	assert.Equal(t, "hi\n", string(result.Stderr))
	assert.Equal(t, 0, result.ExitCode)
}

func TestRunReadsStdin(t *testing.T) {
	result, err := Run(context.Background(), Command{Script: `read line; echo "got $line"`}, []byte("input\n"))
	require.NoError(t, err)
	assert.Equal(t, "got input\n", string(result.Stdout))
}

func TestRunReportsExitStatus(t *testing.T) {
	result, err := Run(context.Background(), Command{Script: `echo broken >&2; exit 3`, Dir: t.TempDir()}, nil)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Status)
	assert.Contains(t, exitErr.Error(), "broken")
	assert.Equal(t, 3, result.ExitCode)
}

func TestRunRejectsInvalidScript(t *testing.T) {
	_, err := Run(context.Background(), Command{Script: `if then`}, nil)
	assert.Error(t, err)
}
