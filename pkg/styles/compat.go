package styles

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/rotisserie/eris"
)

var engineNames = map[string]api.EngineName{
	"chrome":     api.EngineChrome,
	"and_chr":    api.EngineChrome,
	"edge":       api.EngineEdge,
	"firefox":    api.EngineFirefox,
	"ff":         api.EngineFirefox,
	"and_ff":     api.EngineFirefox,
	"ie":         api.EngineIE,
	"explorer":   api.EngineIE,
	"ios":        api.EngineIOS,
	"ios_saf":    api.EngineIOS,
	"opera":      api.EngineOpera,
	"safari":     api.EngineSafari,
	"node":       api.EngineNode,
	"samsung":    api.EngineChrome,
	"android":    api.EngineChrome,
	"op_mob":     api.EngineOpera,
	"edge_mob":   api.EngineEdge,
	"blackberry": api.EngineSafari,
}

// Engines converts browserslist style queries ("ie >= 9", "safari 6") into esbuild targets.
// Queries without a concrete version (like "last 2 versions") have no equivalent and are skipped.
// If a browser is listed more than once, the lowest version wins.
func Engines(queries []string) []api.Engine {
	lowest := map[api.EngineName]*semver.Version{}
	order := []api.EngineName{}

	for _, query := range queries {
		fields := strings.Fields(strings.ToLower(query))
		if len(fields) < 2 || len(fields) > 3 {
			continue
		}

		name, ok := engineNames[fields[0]]
		if !ok {
			continue
		}

		if len(fields) == 3 && fields[1] != ">=" && fields[1] != ">" {
			continue
		}

		version, ok := parseVersion(fields[len(fields)-1])
		if !ok {
			continue
		}

		prev, seen := lowest[name]
		if !seen {
			order = append(order, name)
			lowest[name] = version
		} else if version.LessThan(prev) {
			lowest[name] = version
		}
	}

	engines := make([]api.Engine, 0, len(order))
	for _, name := range order {
		engines = append(engines, api.Engine{Name: name, Version: lowest[name].Original()})
	}

	return engines
}

// parseVersion accepts plain dotted release numbers like "9" or "15.4"
func parseVersion(value string) (*semver.Version, bool) {
	if strings.HasPrefix(value, "v") {
		return nil, false
	}

	version, err := semver.NewVersion(value)
	if err != nil || version.Prerelease() != "" || version.Metadata() != "" {
		return nil, false
	}

	return version, true
}

func formatMessage(msg api.Message) string {
	if msg.Location == nil {
		return msg.Text
	}

	return fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text)
}

func messagesError(msgs []api.Message) error {
	lines := make([]string, len(msgs))
	for idx, msg := range msgs {
		lines[idx] = formatMessage(msg)
	}

	return eris.New(strings.Join(lines, "\n"))
}
