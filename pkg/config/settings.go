package config

import (
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Settings describes how the tool itself behaves. Unlike Config, these have defaults.
type Settings struct {
	Debug bool `default:"false" usage:"Print all log fields and error stack traces"`
	Log   struct {
		Level string `default:"info"`
		File  string
		JSON  bool `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}
	Output   string `default:"dist" usage:"Directory that receives all artifacts"`
	Jobs     int    `default:"4" usage:"Maximum number of tasks running at the same time"`
	Debounce int    `default:"100" usage:"Milliseconds to wait for further changes before rebuilding"`
	Sass     struct {
		Command string `default:"sass --no-source-map --load-path=node_modules --load-path=bower_components \"$1\"" usage:"Shell command compiling $1 to stdout"`
	}
	Lint struct {
		Command string `usage:"Shell command linting all files passed as arguments; empty uses the built-in linter"`
		Globals []string
	}
	Render struct {
		Policy string `default:"best-effort" usage:"best-effort or fail-fast"`
	}
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// SettingsLoader initializes an empty settings object and returns a new Loader for it
func SettingsLoader(files ...string) (*Settings, *aconfig.Loader) {
	if len(files) == 0 {
		files = []string{"sitebuild.toml"}
	}

	settings := Settings{}
	return &settings, aconfig.LoaderFor(&settings, aconfig.Config{
		EnvPrefix: "SITEBUILD",
		SkipFlags: true,
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// LoadSettings loads and validates the tool settings
func LoadSettings(files ...string) (*Settings, error) {
	settings, loader := SettingsLoader(files...)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load settings")
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return settings, nil
}

// Validate verifies that all settings have valid values
func (s *Settings) Validate() error {
	_, ok := logLevels[s.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, s.Log.Level)
	}

	if s.Output == "" {
		return eris.New(`Invalid value for output: must not be empty`)
	}

	if s.Jobs < 1 {
		return eris.Errorf(`Invalid value for jobs: %d (must be at least 1)`, s.Jobs)
	}

	if s.Debounce < 0 {
		return eris.Errorf(`Invalid value for debounce: %d`, s.Debounce)
	}

	switch s.Render.Policy {
	case "best-effort":
	case "fail-fast":
		// valid
		break
	default:
		return eris.Errorf(`Invalid value for render.policy: %s (must be one of best-effort or fail-fast)`, s.Render.Policy)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (s *Settings) LogLevel() zerolog.Level {
	return logLevels[s.Log.Level]
}

// DebounceWindow converts .Debounce to a duration
func (s *Settings) DebounceWindow() time.Duration {
	return time.Duration(s.Debounce) * time.Millisecond
}
