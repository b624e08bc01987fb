// Package shell runs external build tools (sass, eslint, ...) through an embedded POSIX shell
// so that tool commands behave the same on every platform.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/sitebuild/pkg/sitelog"
)

// Command is a shell script. Positional parameters ($1, $@, ...) are filled from the args passed to Run.
type Command struct {
	Script string
	Dir    string
	Env    map[string]string
}

// Result holds the captured output of a command
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ExitError is returned when the command ran but exited with a non-zero status
type ExitError struct {
	Script string
	Status int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", e.Script, e.Status)
	if e.Stderr != "" {
		msg += ":\n" + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func getEnv(cmd Command) expand.Environ {
	envVars := os.Environ()

	for name, value := range cmd.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, value))
	}

	return expand.ListEnviron(envVars...)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

// Run executes cmd with args as positional parameters and stdin as input
func Run(ctx context.Context, cmd Command, stdin []byte, args ...string) (*Result, error) {
	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(cmd.Script), "command")
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command %s", cmd.Script)
	}

	dir := cmd.Dir
	if dir == "" {
		dir, err = os.Getwd()
		if err != nil {
			return nil, eris.Wrap(err, "failed to determine working directory")
		}
	}

	var stdout, stderr bytes.Buffer
	params := append([]string{"-e", "--"}, args...)
	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(getEnv(cmd)),
		interp.ExecHandler(interp.DefaultExecHandler(2)),
		interp.OpenHandler(openHandler),
		interp.StdIO(bytes.NewReader(stdin), &stdout, &stderr),
		interp.Params(params...),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize runner")
	}

	sitelog.Log(ctx).Debug().
		Bool("command", true).
		Strs("args", args).
		Msg(cmd.Script)

	result := &Result{}
	err = runner.Run(ctx, file)
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()

	if err != nil {
		if status, ok := interp.IsExitStatus(err); ok {
			result.ExitCode = int(status)
			return result, &ExitError{Script: cmd.Script, Status: int(status), Stderr: stderr.String()}
		}

		return result, eris.Wrapf(err, "failed to run %s", cmd.Script)
	}

	return result, nil
}
