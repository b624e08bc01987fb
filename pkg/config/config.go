package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// PathSet names one of the logical source groups declared under "paths" in config.yml
type PathSet string

const (
	Pages       PathSet = "pages"
	Stylesheets PathSet = "stylesheets"
	Javascripts PathSet = "javascripts"
	Fonts       PathSet = "fonts"
	Images      PathSet = "images"
	Assets      PathSet = "assets"
)

// PathSets lists every path set in the order they're documented
var PathSets = []PathSet{Pages, Stylesheets, Javascripts, Fonts, Images, Assets}

// Fixed source and output layout
const (
	HTMLRoot     = "src/html/pages"
	LayoutRoot   = "src/html/layouts"
	PartialRoot  = "src/html/partials"
	HelperRoot   = "src/html/helpers"
	DataRoot     = "src/html/data"
	OutputRoot   = "dist"
	CSSDir       = "css"
	JSDir        = "js"
	FontDir      = "fonts"
	ImageDir     = "img"
	AssetDir     = "assets"
	DefaultFile  = "config.yml"
	LegacyTarget = "ie9"
)

// Error is returned for every problem with the site configuration. It's always fatal.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid configuration %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config is the parsed config.yml. It must not be modified after Load returns; use the
// accessors which hand out copies.
type Config struct {
	production    bool
	port          int
	compatibility []string
	paths         map[PathSet][]string
}

type rawConfig struct {
	Compatibility *[]string            `yaml:"compatibility"`
	Port          *int                 `yaml:"port"`
	Paths         map[string]yaml.Node `yaml:"paths"`
}

// Load reads and validates the config file at path
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: eris.Wrap(err, "failed to read file")}
	}

	cfg, err := Parse(bytes.NewReader(content))
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	return cfg, nil
}

// Parse decodes a config document. All keys are required.
func Parse(r io.Reader) (*Config, error) {
	var raw rawConfig

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	err := decoder.Decode(&raw)
	if err != nil {
		if eris.Is(err, io.EOF) {
			return nil, eris.New("document is empty")
		}
		return nil, eris.Wrap(err, "failed to parse YAML")
	}

	if raw.Compatibility == nil {
		return nil, eris.New("missing key compatibility")
	}
	if raw.Port == nil {
		return nil, eris.New("missing key port")
	}
	if *raw.Port < 1 || *raw.Port > 65535 {
		return nil, eris.Errorf("port %d is out of range", *raw.Port)
	}
	if raw.Paths == nil {
		return nil, eris.New("missing key paths")
	}

	cfg := &Config{
		port:          *raw.Port,
		compatibility: append([]string{}, (*raw.Compatibility)...),
		paths:         make(map[PathSet][]string, len(PathSets)),
	}

	known := make(map[string]bool, len(PathSets))
	for _, set := range PathSets {
		known[string(set)] = true

		node, ok := raw.Paths[string(set)]
		if !ok {
			return nil, eris.Errorf("missing key paths.%s", set)
		}

		var patterns []string
		err = node.Decode(&patterns)
		if err != nil {
			return nil, eris.Wrapf(err, "paths.%s must be a list of glob patterns", set)
		}

		cfg.paths[set] = patterns
	}

	for name := range raw.Paths {
		if !known[name] {
			return nil, eris.Errorf("unknown path set paths.%s", name)
		}
	}

	return cfg, nil
}

// WithProduction returns a copy of cfg with the production flag set to the given value
func (cfg *Config) WithProduction(production bool) *Config {
	clone := *cfg
	clone.production = production
	return &clone
}

// Production reports whether minified, map-less artifacts should be produced
func (cfg *Config) Production() bool {
	return cfg.production
}

// Port is the dev server port
func (cfg *Config) Port() int {
	return cfg.port
}

// Compatibility returns the browser targets used for prefixing and syntax lowering
func (cfg *Config) Compatibility() []string {
	return append([]string{}, cfg.compatibility...)
}

// Paths returns the glob patterns of the given set in declaration order
func (cfg *Config) Paths(set PathSet) []string {
	return append([]string{}, cfg.paths[set]...)
}
