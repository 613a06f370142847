package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/dyluth/arena/internal/config"
	"github.com/dyluth/arena/internal/filter"
	"github.com/dyluth/arena/internal/format"
	"github.com/dyluth/arena/internal/journal"
	"github.com/dyluth/arena/internal/printer"
	"github.com/dyluth/arena/internal/tuplearg"
	"github.com/dyluth/arena/pkg/tuplespace"
	"github.com/dyluth/arena/pkg/tuplespace/remote"
	"github.com/spf13/cobra"
)

var (
	watchSpace   string
	watchHistory int
	watchOutput  string
	watchOp      string
	watchMatch   string
	watchSince   time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [TEMPLATE...]",
	Short: "Follow space activity in real time",
	Long: `Follow space activity as it happens.

With a pattern, connects to the space directly and prints every tuple put
that matches it. Without one, follows the Redis journal of every space (or
only --space) of the configured journal instance.

Output Formats:
  default - Human-readable lines
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Print every roster rewrite in the host's room
  arena watch --space room playerNameList ?strs

  # Follow the journal of all spaces, starting with the last 20 lobby entries
  arena watch --space lobby --history 20

  # Only removals from spaces whose name starts with "lobby"
  arena watch --match "lobby*" --op get

  # Replay the last minute of room history, then follow
  arena watch --space room --history 100 --since 1m

  # Export journal entries as JSON
  arena watch --output=json > events.jsonl`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchSpace, "space", "s", "", "Space to follow (all spaces when following the journal)")
	watchCmd.Flags().IntVar(&watchHistory, "history", 0, "Print this many past journal entries of --space first")
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().StringVar(&watchOp, "op", "", "Only journal entries of this operation (put, get, getp, ...)")
	watchCmd.Flags().StringVar(&watchMatch, "match", "", "Only journal entries of spaces matching this glob")
	watchCmd.Flags().DurationVar(&watchSince, "since", 0, "Skip history entries older than this")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchOutput != "default" && watchOutput != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutput),
			[]string{"Valid formats: default, json"},
		)
	}

	if _, err := filepath.Match(watchMatch, ""); err != nil {
		return printer.Error("invalid --match glob", err.Error(), []string{"Quote the glob so the shell leaves it alone"})
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if len(args) > 0 {
		return watchPattern(ctx, cfg, args)
	}
	return watchJournal(ctx, cfg)
}

func watchPattern(ctx context.Context, cfg *config.ArenaConfig, args []string) error {
	p, err := tuplearg.ParsePattern(args)
	if err != nil {
		return printer.Error("invalid pattern", err.Error(), []string{literalHelp})
	}
	if err := requireHost(cfg); err != nil {
		return err
	}
	if watchSpace == "" {
		return printer.Error("space required", "A pattern watch follows one space.", []string{"Add --space room"})
	}

	c, uri, err := dialWatch(ctx, cfg)
	if err != nil {
		return dialError(uri, err)
	}
	defer c.Close()

	events, err := c.Watch(ctx, p)
	if err != nil {
		return opError(err)
	}
	printer.Step("Watching %s in %s\n", p, uri)
	for t := range events {
		if watchOutput == "json" {
			if err := format.FormatJSONL(printer.Out, []tuplespace.Tuple{t}); err != nil {
				return err
			}
			continue
		}
		printer.Printf("%s\n", t)
	}
	if ctx.Err() == nil {
		return printer.Error("watch ended", "The registry closed the subscription.", nil)
	}
	return nil
}

func watchJournal(ctx context.Context, cfg *config.ArenaConfig) error {
	j, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	criteria := filter.Criteria{SpaceGlob: watchMatch, Op: watchOp}
	if watchSince > 0 {
		criteria.Since = time.Now().Add(-watchSince)
	}

	if watchHistory > 0 {
		if watchSpace == "" {
			return printer.Error("space required", "--history reads the history of one space.", []string{"Add --space room"})
		}
		entries, err := j.History(ctx, watchSpace, watchHistory)
		if err != nil {
			return printer.Error("failed to read history", err.Error(), nil)
		}
		// History is newest first; print oldest first.
		slices.Reverse(entries)
		for _, e := range entries {
			if !criteria.Matches(&e) {
				continue
			}
			if err := printEntry(e); err != nil {
				return err
			}
		}
	}

	sub, err := j.Subscribe(ctx, watchSpace)
	if err != nil {
		return printer.Error("failed to subscribe", err.Error(), nil)
	}
	defer sub.Close()

	target := watchSpace
	if target == "" {
		target = "all spaces"
	}
	printer.Step("Following %s of instance '%s'\n", target, j.Instance())

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if !criteria.Matches(&e) {
				continue
			}
			if err := printEntry(e); err != nil {
				return err
			}
		case err, ok := <-sub.Errors():
			if !ok {
				return nil
			}
			printer.Warning("journal: %v\n", err)
		}
	}
}

func printEntry(e journal.Entry) error {
	if watchOutput == "json" {
		return format.FormatEntryJSON(printer.Out, e)
	}
	format.FormatEntry(printer.Out, e)
	return nil
}

func openJournal(ctx context.Context, cfg *config.ArenaConfig) (*journal.Journal, error) {
	if cfg.Journal == nil {
		return nil, printer.Error(
			"journal not configured",
			"Space activity is only recorded when a Redis journal is configured.",
			[]string{
				"Set journal.redis_url in arena.yml",
				"Export ARENA_REDIS_URL=redis://localhost:6379",
				"Watch one space directly with a pattern:\n  arena watch --space room name ?str",
			},
		)
	}
	j, err := journal.NewFromURL(cfg.Journal.RedisURL, cfg.Journal.Instance, journal.WithLog(logHandler()))
	if err != nil {
		return nil, printer.Error("invalid journal configuration", err.Error(), nil)
	}
	if err := j.Ping(ctx); err != nil {
		j.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", cfg.Journal.RedisURL),
			nil,
			[]string{"Check Redis is running and journal.redis_url is correct"},
		)
	}
	return j, nil
}

func dialWatch(ctx context.Context, cfg *config.ArenaConfig) (*remote.Client, string, error) {
	uri := tuplespace.SpaceURI(cfg.Network.HostAddress, *cfg.Network.Port, watchSpace)
	c, err := remote.Dial(ctx, uri, remote.WithLog(logHandler()))
	return c, uri, err
}
