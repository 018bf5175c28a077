package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/bucketsync/internal/blob"
	"github.com/openmined/bucketsync/internal/cache"
	"github.com/openmined/bucketsync/internal/config"
	"github.com/openmined/bucketsync/internal/mirror"
	"github.com/openmined/bucketsync/internal/utils"
	"github.com/openmined/bucketsync/internal/version"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const (
	exitOK       = 0
	exitError    = 1
	exitFailures = 2
)

var errFileFailures = errors.New("some files failed to sync")

// newBackend is swapped out in tests.
var newBackend = func(s *config.Settings) (blob.Backend, error) {
	return blob.NewS3BackendWithConfig(s.S3Config())
}

type runFlags struct {
	quiet     bool
	verbose   bool
	delete    bool
	dryRun    bool
	noRebuild bool
	logFile   string
}

func newRootCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:           "bucketsync [flags] SETTINGS_FILE",
		Short:         "Mirror local directories into an S3 bucket",
		Version:       version.Detailed(),
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// arguments are fine, from here on errors are not usage errors
			cmd.SilenceUsage = true

			closeLog, err := setupLogger(cmd.ErrOrStderr(), flags)
			if err != nil {
				return err
			}
			defer closeLog()

			settings, err := config.Load(args[0])
			if err != nil {
				return err
			}
			return run(cmd.Context(), settings, flags)
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "only report errors")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "report skipped files and scanned directories")
	cmd.Flags().BoolVarP(&flags.delete, "delete", "d", false, "delete remote objects whose local file is gone")
	cmd.Flags().BoolVarP(&flags.dryRun, "dry-run", "n", false, "report what would change without changing anything")
	cmd.Flags().BoolVarP(&flags.noRebuild, "no-rebuild-cache", "r", false, "do not rebuild the cache from a bucket listing")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "also append debug-level logs to this file")
	cmd.MarkFlagsMutuallyExclusive("quiet", "verbose")

	return cmd
}

func run(ctx context.Context, settings *config.Settings, flags *runFlags) error {
	slog.Debug("settings",
		"path", settings.Path,
		"bucket", settings.Bucket,
		"region", settings.Region,
		"access_key_id", utils.MaskSecret(settings.AccessKeyID),
		"roots", settings.Roots,
		"relative_paths", settings.RelativePaths,
		"cache", settings.Cache,
	)

	backend, err := newBackend(settings)
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}

	var c cache.Cache
	if settings.CacheEnabled() {
		c, err = cache.Open(settings.Cache, settings.CacheBackend)
		if err != nil {
			return err
		}
		defer c.Close()
	}

	engine := mirror.NewEngine(backend, c, afero.NewOsFs(), settings.Addressing(), settings.Rules(), mirror.Options{
		DryRun:       flags.dryRun,
		Delete:       flags.delete,
		RebuildCache: !flags.noRebuild,
		BucketACL:    settings.BucketACL,
		ObjectACL:    settings.ObjectACL,
	})

	stats, err := engine.Run(ctx)
	slog.Info("summary", "stats", stats)
	if err != nil {
		return err
	}
	if stats.Failed > 0 {
		return fmt.Errorf("%w: %d failed", errFileFailures, stats.Failed)
	}
	return nil
}

// setupLogger installs a tint handler on w and, with --log-file, a text
// handler appending every debug-level record to that file.
func setupLogger(w io.Writer, flags *runFlags) (func(), error) {
	level := slog.LevelInfo
	switch {
	case flags.quiet:
		level = slog.LevelError
	case flags.verbose:
		level = slog.LevelDebug
	}

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}

	var handler slog.Handler = tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	})
	closer := func() {}

	if flags.logFile != "" {
		path, err := utils.ResolvePath(flags.logFile)
		if err != nil {
			return nil, fmt.Errorf("log file: %w", err)
		}
		if err := utils.EnsureParent(path); err != nil {
			return nil, fmt.Errorf("log file: %w", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("log file: %w", err)
		}
		handler = utils.FanoutHandler{
			handler,
			slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}),
		}
		closer = func() { file.Close() }
	}

	slog.SetDefault(slog.New(handler))
	return closer, nil
}

// execute runs the CLI and maps the outcome to a process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errFileFailures):
		fmt.Fprintln(stderr, "Error:", err)
		return exitFailures
	default:
		fmt.Fprintln(stderr, "Error:", err)
		return exitError
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
