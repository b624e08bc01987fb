package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// ConsoleWriter turns zerolog's JSON events into short, colored lines
type ConsoleWriter struct {
	Out io.Writer
	// Debug prints every field of each event
	Debug   bool
	NoColor bool

	buffer strings.Builder
	lock   sync.Mutex
}

func NewConsoleWriter(out io.Writer, debug bool) *ConsoleWriter {
	return &ConsoleWriter{Out: out, Debug: debug}
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	switch evt["level"] {
	case "fatal":
		fallthrough
	case "error":
		w.buffer.WriteString("[red]")
	case "warn":
		w.buffer.WriteString("[yellow]")
	case "debug":
		fallthrough
	case "trace":
		w.buffer.WriteString("[blue]")
	default:
		w.buffer.WriteString("[green]")
	}

	task, ok := evt["task"].(string)
	if ok {
		w.buffer.WriteString(task + ": ")
	}

	if evt["level"] == "error" {
		w.buffer.WriteString("Error: ")
	}

	msg, _ := evt["message"].(string)

	path, ok := evt["path"].(string)
	if ok {
		// simplify the path
		relPath, err := filepath.Rel(".", path)
		if err == nil && !strings.HasPrefix(relPath, "..") {
			path = relPath
		}
		msg += " (" + path + ")"
	}

	w.buffer.WriteString(msg)

	if !w.Debug {
		if duration, ok := evt["duration"]; ok {
			w.buffer.WriteString(fmt.Sprintf(" (%vms)", duration))
		}
	}

	errorDetails, ok := evt["error"]
	if ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(fmt.Sprint(errorDetails))
	}

	if w.Debug {
		w.buffer.WriteString("\n")
		names := make([]string, 0, len(evt))
		for name := range evt {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, evt[name]))
		}
	}

	w.buffer.WriteString("[reset]\n")

	colorize := colorstring.Colorize{
		Colors:  colorstring.DefaultColors,
		Disable: w.NoColor,
		Reset:   true,
	}
	_, err = io.WriteString(w.Out, colorize.Color(w.buffer.String()))
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func setErrorMarshaler(debug bool, asJSON bool) {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		if asJSON {
			return eris.ToJSON(err, debug)
		}
		return eris.ToString(err, debug)
	}
}
