// Package cmd implements the sitebuild CLI
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ngld/sitebuild/pkg/config"
	"github.com/ngld/sitebuild/pkg/site"
	"github.com/ngld/sitebuild/pkg/sitelog"
)

var rootCmd = &cobra.Command{
	Use:   "sitebuild [task...]",
	Short: "Static site build tool",
	Long: `This command reads config.yml and runs the given tasks. Without arguments it runs the
default task which builds the site, serves it and rebuilds whenever a source changes.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		ctx, s, closeLog, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer closeLog()

		dryRun, err := cmd.Flags().GetBool("dry-run")
		if err != nil {
			return err
		}

		targets := args
		if len(targets) == 0 {
			targets = []string{site.DefaultTask}
		}

		report, err := s.Runner(dryRun).Run(ctx, targets...)
		if err != nil {
			if report != nil {
				for _, name := range report.Skipped() {
					sitelog.Log(ctx).Warn().Str("task", name).Msg("skipped")
				}
			}
			return eris.Wrap(err, "build failed")
		}

		if dryRun {
			fmt.Fprintln(cmd.OutOrStdout(), "Plan:")
			for _, name := range report.Plan {
				fmt.Fprintf(cmd.OutOrStdout(), " * %s\n", name)
			}
			return nil
		}

		if s.Server() != nil {
			sitelog.Log(ctx).Info().Int("port", s.Server().Port()).Msg("serving; press Ctrl+C to stop")
		}
		return s.Wait(ctx)
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the available tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, s, closeLog, err := setup(context.Background(), cmd)
		if err != nil {
			return err
		}
		defer closeLog()

		tasks := s.Graph.Tasks()
		maxNameLen := 0
		for _, task := range tasks {
			if len(task.Name) > maxNameLen {
				maxNameLen = len(task.Name)
			}
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Available tasks:")
		lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
		for _, task := range tasks {
			if task.Hidden {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), lineFmt, task.Name+":", task.Desc)
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Bool("production", false, "minify output and drop source maps")
	flags.String("config", config.DefaultFile, "path to the site configuration")
	flags.String("settings", "sitebuild.toml", "path to the optional tool settings")
	flags.IntP("jobs", "j", 0, "maximum number of tasks running at the same time (overrides settings)")
	flags.Bool("json", false, "log JSON events instead of console messages")
	flags.Bool("debug", false, "print all log fields and error stack traces")
	rootCmd.Flags().BoolP("dry-run", "n", false, "only print the tasks that would run")

	rootCmd.AddCommand(tasksCmd)
}

// setup loads the settings and the site config. The returned func closes the log file and must
// be called once the command is done.
func setup(ctx context.Context, cmd *cobra.Command) (context.Context, *site.Site, func(), error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ctx, nil, nil, eris.Wrap(err, "failed to load .env")
	}

	flags := cmd.Flags()
	settingsPath, _ := flags.GetString("settings")
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return ctx, nil, nil, err
	}

	if flags.Changed("jobs") {
		settings.Jobs, _ = flags.GetInt("jobs")
		if err := settings.Validate(); err != nil {
			return ctx, nil, nil, err
		}
	}
	if debug, _ := flags.GetBool("debug"); debug || os.Getenv("SITEBUILD_DEBUG") != "" {
		settings.Debug = true
	}
	if asJSON, _ := flags.GetBool("json"); asJSON {
		settings.Log.JSON = true
	}

	logger, logFile, err := newLogger(settings)
	if err != nil {
		return ctx, nil, nil, err
	}
	log.Logger = logger
	ctx = sitelog.WithLogger(ctx, &logger)

	closeLog := func() {
		if logFile == nil {
			return
		}
		if err := logFile.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %s\n", err)
		}
	}

	s, err := loadSite(cmd, settings)
	if err != nil {
		closeLog()
		return ctx, nil, nil, err
	}

	if !settings.Log.JSON && os.Getenv("CI") != "true" {
		s.Copier.Progress = os.Stderr
	}

	return ctx, s, closeLog, nil
}

func loadSite(cmd *cobra.Command, settings *config.Settings) (*site.Site, error) {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")
	configPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, eris.Wrap(err, "failed to resolve config path")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	production, _ := flags.GetBool("production")
	return site.New(filepath.Dir(configPath), cfg.WithProduction(production), settings)
}

// newLogger builds the logger described by settings. The returned file is nil unless a log file
// was configured; the caller closes it.
func newLogger(settings *config.Settings) (zerolog.Logger, io.Closer, error) {
	setErrorMarshaler(settings.Debug, settings.Log.JSON)
	zerolog.SetGlobalLevel(settings.LogLevel())
	if settings.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	var out io.Writer = os.Stderr
	if !settings.Log.JSON {
		out = NewConsoleWriter(os.Stderr, settings.Debug)
	}

	var file *os.File
	if settings.Log.File != "" {
		var err error
		file, err = os.Create(settings.Log.File)
		if err != nil {
			return zerolog.Logger{}, nil, eris.Wrapf(err, "failed to open log file %s", settings.Log.File)
		}

		var fileOut io.Writer = file
		if !settings.Log.JSON {
			writer := NewConsoleWriter(file, settings.Debug)
			writer.NoColor = true
			fileOut = writer
		}

		out = zerolog.MultiLevelWriter(out, fileOut)
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	if file == nil {
		return logger, nil, nil
	}
	return logger, file, nil
}

// Execute runs the root command and exits with a non-zero code on failure
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
