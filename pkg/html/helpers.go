package html

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

var markdown = goldmark.New(goldmark.WithRendererOptions(gmhtml.WithUnsafe()))

func renderMarkdown(source string) (string, error) {
	var buf bytes.Buffer
	err := markdown.Convert([]byte(source), &buf)
	if err != nil {
		return "", eris.Wrap(err, "failed to render markdown")
	}

	return buf.String(), nil
}

func builtinHelpers() map[string]interface{} {
	return map[string]interface{}{
		"ifequal":    ifEqual,
		"ifpage":     ifPage,
		"unlesspage": unlessPage,
		"repeat":     repeat,
		"markdown":   markdownBlock,
	}
}

func ifEqual(a, b interface{}, options *raymond.Options) raymond.SafeString {
	if raymond.Str(a) == raymond.Str(b) {
		return raymond.SafeString(options.Fn())
	}

	return raymond.SafeString(options.Inverse())
}

func pageMatches(pages interface{}, options *raymond.Options) bool {
	current := options.DataStr("page")
	for _, name := range strings.Split(raymond.Str(pages), ",") {
		if strings.TrimSpace(name) == current {
			return true
		}
	}

	return false
}

// ifPage renders its block if the current page is one of the comma separated names
func ifPage(pages interface{}, options *raymond.Options) raymond.SafeString {
	if pageMatches(pages, options) {
		return raymond.SafeString(options.Fn())
	}

	return raymond.SafeString(options.Inverse())
}

func unlessPage(pages interface{}, options *raymond.Options) raymond.SafeString {
	if !pageMatches(pages, options) {
		return raymond.SafeString(options.Fn())
	}

	return raymond.SafeString(options.Inverse())
}

func repeat(count interface{}, options *raymond.Options) raymond.SafeString {
	n, err := strconv.Atoi(raymond.Str(count))
	if err != nil {
		panic(eris.Errorf("repeat expects a number, got %v", count))
	}

	var out strings.Builder
	for i := 0; i < n; i++ {
		out.WriteString(options.Fn())
	}

	return raymond.SafeString(out.String())
}

func markdownBlock(options *raymond.Options) raymond.SafeString {
	out, err := renderMarkdown(options.Fn())
	if err != nil {
		panic(err)
	}

	return raymond.SafeString(out)
}
