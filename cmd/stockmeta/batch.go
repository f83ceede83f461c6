package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/ubuygold/stockmeta/internal/export"
	"github.com/ubuygold/stockmeta/internal/keymanager"
	"github.com/ubuygold/stockmeta/internal/model"
	"github.com/ubuygold/stockmeta/internal/runner"
	"github.com/ubuygold/stockmeta/internal/telemetry"
)

type batchOptions struct {
	userEmail string
	texts     []string
	opts      model.GenerationOptions
	sortAZ    bool
	vector    bool
	format    string
	out       string
}

// queueDir adds every regular file of dir to the queue, skipping oversized files.
func queueDir(queue *runner.Queue, dir string, maxBytes int64, warn io.Writer) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return added, err
		}
		if maxBytes > 0 && info.Size() > maxBytes {
			fmt.Fprintf(warn, "skipping %s: larger than %d bytes\n", e.Name(), maxBytes)
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return added, err
		}
		mt := mimetype.Detect(data).String()
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = mt[:i]
		}
		if _, err := queue.AddFile(e.Name(), mt, data); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// runWithProgress runs the batch and renders a progress bar until it ends.
// Cancelling ctx stops dispatch; in-flight items still finish.
func runWithProgress(ctx context.Context, r *runner.Runner, opts model.GenerationOptions, out io.Writer, total int) (runner.Summary, error) {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("generating"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	type result struct {
		summary runner.Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := r.Run(context.Background(), opts)
		done <- result{s, err}
	}()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	cancelled := ctx.Done()
	for {
		select {
		case res := <-done:
			_ = bar.Set(r.Progress().Completed)
			_ = bar.Finish()
			return res.summary, res.err
		case <-cancelled:
			r.Stop()
			cancelled = nil
		case <-ticker.C:
			if ctx.Err() != nil {
				// the run may not have started when cancellation arrived
				r.Stop()
			}
			_ = bar.Set(r.Progress().Completed)
		}
	}
}

func newBatchCommand(ctx *commandContext) *cobra.Command {
	b := batchOptions{opts: model.DefaultGenerationOptions()}

	cmd := &cobra.Command{
		Use:   "batch [dir]",
		Short: "Generate metadata for a folder of files (and --text descriptions) and write an export",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(b.texts) == 0 {
				return fmt.Errorf("give a directory or at least one --text")
			}
			format, err := export.ParseFormat(b.format)
			if err != nil {
				return err
			}
			b.opts.SortByRelevance = !b.sortAZ
			opts := b.opts.Normalize()

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return ctx.withApp(func(_ context.Context, a *app) error {
				shutdownTracer, err := telemetry.InitTracer("stockmeta-batch", a.cfg.Telemetry, cmd.ErrOrStderr(), a.log)
				if err != nil {
					return err
				}
				defer shutdownTracer()

				user, err := a.userByEmail(b.userEmail)
				if err != nil {
					return err
				}
				if keymanager.UserSource(a.keys, user.ID).EligibleCount() == 0 {
					return fmt.Errorf("%s has no eligible API key: %w", user.Email, keymanager.ErrNoEligibleCredential)
				}

				r := a.sessions.For(user.ID)
				if len(args) == 1 {
					if _, err := queueDir(r.Queue(), args[0], a.cfg.Runner.MaxUploadBytes, cmd.ErrOrStderr()); err != nil {
						return err
					}
				}
				for _, t := range b.texts {
					if _, err := r.Queue().AddText(t); err != nil {
						return err
					}
				}
				total := r.Queue().Len()
				if total == 0 {
					return fmt.Errorf("nothing to process")
				}

				summary, err := runWithProgress(sigCtx, r, opts, cmd.ErrOrStderr(), total)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Done: %d  Failed: %d  Concurrency: %d  Took: %s\n",
					summary.Done, summary.Failed, summary.Concurrency, summary.Duration.Round(time.Millisecond))
				for _, it := range r.Queue().Items() {
					if it.Status == runner.StatusError {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", it.FileName, it.Error)
					}
				}

				var rows []export.Row
				for _, it := range r.Queue().Completed() {
					rows = append(rows, export.Row{FileName: it.FileName, Result: *it.Result})
				}
				if len(rows) == 0 {
					return export.ErrNothingToExport
				}
				path := b.out
				if path == "" {
					path = export.FileName(opts.Platform, format, time.Now())
				}
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				if err := export.Write(f, export.Options{Platform: opts.Platform, Vector: b.vector, Format: format}, rows); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d rows to %s\n", len(rows), path)
				return nil
			})(sigCtx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&b.userEmail, "user", "", "Email of the user whose keys run the batch")
	flags.StringArrayVar(&b.texts, "text", nil, "Text description to generate metadata for (repeatable)")
	flags.StringVar(&b.opts.Platform, "platform", model.DefaultPlatform, "Target platform (Adobe Stock, Shutterstock, Vecteezy, ...)")
	flags.IntVar(&b.opts.TitleLength, "title-length", model.DefaultTitleLength, "Maximum title length in characters")
	flags.IntVar(&b.opts.KeywordCount, "keywords", model.DefaultKeywordCount, "Number of keywords")
	flags.StringVar(&b.opts.Prefix, "prefix", "", "Text prepended to every title and description")
	flags.BoolVar(&b.sortAZ, "sort-az", false, "Sort keywords alphabetically instead of by relevance")
	flags.BoolVar(&b.vector, "vector", false, "Export file names with the .eps extension")
	flags.StringVar(&b.format, "format", "csv", "Export format: csv or xlsx")
	flags.StringVarP(&b.out, "out", "o", "", "Export file path (default: generated name in the current directory)")
	return cmd
}
