// Command msync provides a CLI wrapper around the msync library for mirroring one
// directory tree into another, with optional orphan deletion, periodic stats and
// a watch mode.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"msync"
)

// cliOptions holds the flag values of the root command.
type cliOptions struct {
	deleteOrphans bool
	ignores       []string
	hash          string
	bufferMiB     int
	logLevel      string
	logFormat     string
	logOutput     string
	quiet         bool
	stats         bool
	statsInterval time.Duration
	watch         bool
	debounce      time.Duration
	interactive   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:     "msync <src> <dst>",
		Short:   "Mirror a directory tree into another",
		Version: msync.Version,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("expected <src> <dst>")
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMirror(cmd, opts, args[0], args[1])
		},
	}

	flags := rootCmd.Flags()
	flags.BoolVarP(&opts.deleteOrphans, "delete-orphans", "d", false, "delete destination files and directories missing in the source")
	flags.StringArrayVar(&opts.ignores, "ignore", nil, "skip this source directory and its destination counterpart (repeatable)")
	flags.StringVar(&opts.hash, "hash", string(msync.HashAlgoMD5), "content hash: md5, sha256, sha512 or xxhash")
	flags.IntVar(&opts.bufferMiB, "buffer-size", msync.DefaultBufferSize>>20, "buffer size in MiB; files up to this size are read once")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "diagnostic log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "console", "diagnostic log format: console or json")
	flags.StringVar(&opts.logOutput, "log-file", "", "write diagnostic logs to this file instead of stderr")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "only print error messages")
	flags.BoolVar(&opts.stats, "stats", false, "print stats periodically and a summary after each run")
	flags.DurationVar(&opts.statsInterval, "stats-interval", 10*time.Second, "interval between stats tables")
	flags.BoolVarP(&opts.watch, "watch", "w", false, "keep running and mirror again whenever the source changes")
	flags.DurationVar(&opts.debounce, "debounce", msync.DefaultDebounce, "quiet period before a change triggers a run in watch mode")
	flags.BoolVarP(&opts.interactive, "interactive", "i", false, "pressing Enter pauses or resumes the run")

	return rootCmd
}

func runMirror(cmd *cobra.Command, opts *cliOptions, src, dst string) error {
	if opts.bufferMiB <= 0 {
		return fmt.Errorf("buffer-size must be >= 1")
	}
	if opts.statsInterval <= 0 {
		return fmt.Errorf("stats-interval must be positive")
	}

	logger, err := newLogger(logConfig{Level: opts.logLevel, Format: opts.logFormat, OutputPath: opts.logOutput})
	if err != nil {
		return err
	}
	defer logger.Sync()

	out := cmd.OutOrStdout()
	stats := &statsCollector{}
	callbacks := stats.attach(msync.Callbacks{
		OnMessage: func(msg msync.Message) {
			if opts.quiet && msg.Level != msync.MessageError {
				return
			}
			printMessage(out, msg)
		},
		OnPhase: func(from, to msync.Phase) {
			if from.Paused() || to.Paused() {
				printMessage(out, msync.Message{Time: time.Now(), Text: to.String()})
			}
		},
	})

	cfg := msync.Config{
		Source:        src,
		Destination:   dst,
		Ignore:        msync.NewIgnoreSet(opts.ignores...),
		DeleteOrphans: opts.deleteOrphans,
	}
	m, err := msync.NewMirror(cfg, callbacks, msync.Options{
		HashAlgo:   msync.HashAlgo(opts.hash),
		BufferSize: opts.bufferMiB << 20,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	// A signal during a paused run resumes it; a second signal terminates.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	var in io.Reader
	if opts.interactive {
		in = cmd.InOrStdin()
	}
	go forwardToggles(ctx, m, in, logger)

	rep, err := runOnce(ctx, m, stats, out, opts)
	if err != nil {
		return err
	}

	if opts.watch {
		w, err := msync.NewWatcher(m.Config().Source, cfg.Ignore, opts.debounce, logger)
		if err != nil {
			return err
		}
		defer w.Close()
		printMessage(out, msync.Message{Time: time.Now(), Text: "watching " + m.Config().Source})
		err = w.Run(ctx, func() {
			r, err := runOnce(ctx, m, stats, out, opts)
			if err != nil {
				logger.Error("run failed", zap.Error(err))
				return
			}
			rep = r
		})
		if err != nil {
			return err
		}
	}

	if err := rep.Err(); err != nil {
		return fmt.Errorf("%d operations failed", len(rep.Failures))
	}
	return nil
}

// runOnce performs one run of m, printing stats when requested.
func runOnce(ctx context.Context, m *msync.Mirror, stats *statsCollector, out io.Writer, opts *cliOptions) (*msync.Report, error) {
	stats.reset()
	start := time.Now()
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	if opts.stats {
		go runStatsPrinter(out, stats, m.Done(), start, opts.statsInterval)
	}
	rep := m.Wait()
	if opts.stats {
		printStatsTable(out, stats.snapshot(), statsSnapshot{}, start, start)
		printSummary(out, rep)
	}
	return rep, nil
}

// forwardToggles pauses or resumes m on every toggle signal and, when in is
// not nil, on every line read from in.
func forwardToggles(ctx context.Context, m *msync.Mirror, in io.Reader, logger *zap.Logger) {
	requests := make(chan struct{})

	if sigs := toggleSignals(); len(sigs) > 0 {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, sigs...)
		defer signal.Stop(sigCh)
		go func() {
			for range sigCh {
				select {
				case requests <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	if in != nil {
		go func() {
			scanner := bufio.NewScanner(in)
			for scanner.Scan() {
				select {
				case requests <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-requests:
			if err := m.Toggle(); err != nil && !errors.Is(err, msync.ErrInvalidTransition) {
				logger.Warn("cannot toggle pause", zap.Error(err))
			}
		}
	}
}

// printMessage prints a timestamped status message.
func printMessage(w io.Writer, msg msync.Message) {
	if msg.Level == msync.MessageError {
		fmt.Fprintf(w, "%s: [error] %s\n", msg.Time.Format(time.TimeOnly), msg.Text)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", msg.Time.Format(time.TimeOnly), msg.Text)
}
