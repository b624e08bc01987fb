package scripts

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"

	"github.com/ngld/sitebuild/pkg/artifact"
	"github.com/ngld/sitebuild/pkg/shell"
)

// Violation is a single lint finding
type Violation struct {
	File    string
	Line    int
	Column  int
	Rule    string
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d:%d: %s [%s]", v.File, v.Line, v.Column, v.Message, v.Rule)
}

// LintError is returned if a lint run found at least one violation
type LintError struct {
	Violations []Violation
}

func (e *LintError) Error() string {
	lines := make([]string, 0, len(e.Violations)+1)
	lines = append(lines, fmt.Sprintf("lint found %d problem(s)", len(e.Violations)))
	for _, v := range e.Violations {
		lines = append(lines, "  "+v.String())
	}
	return strings.Join(lines, "\n")
}

// Linter checks a set of script files
type Linter interface {
	Lint(ctx context.Context, files []artifact.File) ([]Violation, error)
}

// DefaultGlobals are the browser and language globals every script may use without declaring them
var DefaultGlobals = []string{
	// language
	"Array", "ArrayBuffer", "Boolean", "DataView", "Date", "Error", "EvalError", "Float32Array",
	"Float64Array", "Function", "Infinity", "Int16Array", "Int32Array", "Int8Array", "JSON", "Map",
	"Math", "NaN", "Number", "Object", "Promise", "Proxy", "RangeError", "ReferenceError",
	"Reflect", "RegExp", "Set", "String", "Symbol", "SyntaxError", "TypeError", "URIError",
	"Uint16Array", "Uint32Array", "Uint8Array", "Uint8ClampedArray", "WeakMap", "WeakSet",
	"arguments", "decodeURI", "decodeURIComponent", "encodeURI", "encodeURIComponent", "escape",
	"eval", "globalThis", "isFinite", "isNaN", "parseFloat", "parseInt", "undefined", "unescape",
	// browser
	"Blob", "CustomEvent", "Element", "Event", "FormData", "HTMLElement", "Image", "Node",
	"XMLHttpRequest", "URL", "URLSearchParams", "WebSocket", "alert", "atob", "btoa",
	"cancelAnimationFrame", "clearInterval", "clearTimeout", "confirm", "console", "document",
	"fetch", "getComputedStyle", "history", "localStorage", "location", "matchMedia", "navigator",
	"performance", "prompt", "requestAnimationFrame", "screen", "self", "sessionStorage",
	"setInterval", "setTimeout", "top", "window",
}

// BuiltinLinter parses each file and reports syntax errors and references to undeclared globals.
// Reported file names are relative to Root.
type BuiltinLinter struct {
	Root    string
	Globals []string
}

func relName(root, file string) string {
	if root != "" {
		if rel, err := filepath.Rel(root, file); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(file)
}

var globalComment = regexp.MustCompile(`^/\*\s*globals?\s+([^*]*)\*/$`)

func (l BuiltinLinter) Lint(ctx context.Context, files []artifact.File) ([]Violation, error) {
	allowed := make(map[string]bool, len(DefaultGlobals)+len(l.Globals))
	for _, name := range DefaultGlobals {
		allowed[name] = true
	}
	for _, name := range l.Globals {
		allowed[name] = true
	}

	result := []Violation{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		src, err := os.ReadFile(file.Path)
		if err != nil {
			return nil, &artifact.IOError{Path: file.Path, Op: "read", Err: err}
		}

		result = append(result, lintSource(relName(l.Root, file.Path), src, allowed)...)
	}

	return result, nil
}

type position struct {
	line   int
	column int
}

// scanSource returns the first position of each identifier and the names listed in global comments
func scanSource(src []byte) (map[string]position, map[string]bool) {
	firstUse := map[string]position{}
	declared := map[string]bool{}
	lexer := js.NewLexer(parse.NewInputBytes(src))
	line, column := 1, 1

	for {
		tt, data := lexer.Next()
		if tt == js.ErrorToken {
			break
		}

		switch tt {
		case js.IdentifierToken:
			if _, ok := firstUse[string(data)]; !ok {
				firstUse[string(data)] = position{line, column}
			}
		case js.CommentToken, js.CommentLineTerminatorToken:
			if m := globalComment.FindSubmatch(bytes.TrimSpace(data)); m != nil {
				for _, name := range strings.Split(string(m[1]), ",") {
					// "name: writable" is accepted as well
					name = strings.TrimSpace(strings.SplitN(name, ":", 2)[0])
					if name != "" {
						declared[name] = true
					}
				}
			}
		}

		if nl := bytes.Count(data, []byte("\n")); nl > 0 {
			line += nl
			column = len(data) - bytes.LastIndexByte(data, '\n')
		} else {
			column += len(data)
		}
	}

	return firstUse, declared
}

func lintSource(name string, src []byte, allowed map[string]bool) []Violation {
	ast, err := js.Parse(parse.NewInputBytes(src), js.Options{})
	if err != nil {
		v := Violation{File: name, Line: 1, Column: 1, Rule: "parse-error", Message: err.Error()}

		var parseErr *parse.Error
		if errors.As(err, &parseErr) {
			v.Line = parseErr.Line
			v.Column = parseErr.Column
			v.Message = parseErr.Message
		}
		return []Violation{v}
	}

	firstUse, declared := scanSource(src)
	result := []Violation{}
	seen := map[string]bool{}

	for _, ref := range ast.BlockStmt.Scope.Undeclared {
		ident := string(ref.Data)
		if allowed[ident] || declared[ident] || seen[ident] {
			continue
		}
		seen[ident] = true

		pos, ok := firstUse[ident]
		if !ok {
			pos = position{1, 1}
		}
		result = append(result, Violation{
			File:    name,
			Line:    pos.line,
			Column:  pos.column,
			Rule:    "no-undef",
			Message: fmt.Sprintf("'%s' is not defined", ident),
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Line != result[j].Line {
			return result[i].Line < result[j].Line
		}
		return result[i].Column < result[j].Column
	})

	return result
}

// ShellLinter runs an external linter. The files are passed as arguments and every output line in
// the "file:line:column: message [severity/rule]" format (eslint's unix formatter) is a violation.
type ShellLinter struct {
	Command string
	Dir     string
}

var unixLine = regexp.MustCompile(`^(.+?):(\d+):(\d+):\s*(.*?)(?:\s+\[(?:\w+/)?([^\]]+)\])?$`)

func (l ShellLinter) Lint(ctx context.Context, files []artifact.File) ([]Violation, error) {
	if len(files) == 0 {
		return nil, nil
	}

	args := make([]string, len(files))
	for idx, file := range files {
		args[idx] = file.Path
	}

	result, err := shell.Run(ctx, shell.Command{Script: l.Command, Dir: l.Dir}, nil, args...)
	if err != nil {
		var exitErr *shell.ExitError
		if !errors.As(err, &exitErr) {
			return nil, eris.Wrap(err, "failed to run linter")
		}
	}

	violations := parseUnixFormat(result.Stdout)
	if err != nil && len(violations) == 0 {
		violations = append(violations, Violation{
			File:    l.Command,
			Rule:    "lint-command",
			Message: strings.TrimSpace(err.Error()),
		})
	}

	return violations, nil
}

func parseUnixFormat(output []byte) []Violation {
	result := []Violation{}
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		m := unixLine.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}

		line, _ := strconv.Atoi(m[2])
		column, _ := strconv.Atoi(m[3])
		result = append(result, Violation{
			File:    m[1],
			Line:    line,
			Column:  column,
			Rule:    m[5],
			Message: m[4],
		})
	}

	return result
}
