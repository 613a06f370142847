package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/arena/internal/format"
	"github.com/dyluth/arena/internal/printer"
	"github.com/dyluth/arena/internal/session"
	"github.com/dyluth/arena/internal/tuplearg"
	"github.com/dyluth/arena/pkg/tuplespace"
	"github.com/dyluth/arena/pkg/tuplespace/remote"
	"github.com/spf13/cobra"
)

var (
	spaceURI     string
	spaceName    string
	spaceProbe   bool
	spaceAll     bool
	spaceTimeout time.Duration
)

const literalHelp = `Field literals:
  alice | str:alice   string
  int:42              integer
  bool:true           boolean
  blob:0aff           bytes, hex encoded
  strs:alice,bob      string list
  ints:1,2            integer list

Pattern templates are field literals or ?KIND (?str, ?int, ?bool, ?blob,
?strs, ?ints) which match any field of that kind.`

var putCmd = &cobra.Command{
	Use:   "put FIELD...",
	Short: "Put a tuple into a remote space",
	Long: `Put one tuple into a space served by a registry.

` + literalHelp + `

Examples:
  # Reset the turn register of the host's room
  arena put turn int:1

  # Write into another space by URI
  arena put --uri tcp://192.168.1.10:9001/scratch?keep note str:hello`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPut,
}

var getCmd = &cobra.Command{
	Use:   "get TEMPLATE...",
	Short: "Remove a matching tuple from a remote space",
	Long: `Remove and print a tuple matching the pattern. Blocks until one exists
unless --probe or --all is given.

` + literalHelp + `

Examples:
  # Take the turn register, waiting up to 5s
  arena get turn ?int --timeout 5s

  # Drain every pending announcement
  arena get --all name ?str`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error { return runRead(cmd, args, true) },
}

var queryCmd = &cobra.Command{
	Use:   "query TEMPLATE...",
	Short: "Read a matching tuple from a remote space",
	Long: `Print a tuple matching the pattern without removing it. Blocks until
one exists unless --probe or --all is given.

` + literalHelp + `

Examples:
  # Show the roster
  arena query playerNameList ?strs

  # Show every tractor state as JSONL
  arena query --space lobby --all -o jsonl state ?int ?blob`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error { return runRead(cmd, args, false) },
}

func init() {
	for _, c := range []*cobra.Command{putCmd, getCmd, queryCmd} {
		c.Flags().StringVar(&spaceURI, "uri", "", "Space URI (default built from --host, --port and --space)")
		c.Flags().StringVarP(&spaceName, "space", "s", session.RoomSpace, "Space name")
		c.Flags().DurationVar(&spaceTimeout, "timeout", 0, "Give up after this long (0 waits forever)")
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{getCmd, queryCmd} {
		c.Flags().BoolVar(&spaceProbe, "probe", false, "Do not block when nothing matches")
		c.Flags().BoolVar(&spaceAll, "all", false, "Return every matching tuple (never blocks)")
		c.Flags().StringVarP(&outputFormat, "output", "o", "default", "Output format: default or jsonl")
	}
}

func dialSpace(cmd *cobra.Command) (*remote.Client, context.Context, context.CancelFunc, error) {
	uri := spaceURI
	if uri == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := requireHost(cfg); err != nil {
			return nil, nil, nil, err
		}
		uri = tuplespace.SpaceURI(cfg.Network.HostAddress, *cfg.Network.Port, spaceName)
	}

	ctx, cancel := signalContext(cmd.Context())
	if spaceTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, spaceTimeout)
		prev := cancel
		cancel = func() { tcancel(); prev() }
	}

	c, err := remote.Dial(ctx, uri, remote.WithLog(logHandler()))
	if err != nil {
		cancel()
		return nil, nil, nil, dialError(uri, err)
	}
	return c, ctx, cancel, nil
}

func dialError(uri string, err error) error {
	switch {
	case errors.Is(err, tuplespace.ErrInvalidURI):
		return printer.Error("invalid space URI", err.Error(), []string{"Use the form tcp://HOST:PORT/SPACE?keep"})
	case errors.Is(err, tuplespace.ErrUnknownSpace):
		return printer.ErrorWithContext("space not found", "The registry does not serve that space.",
			map[string]string{"URI": uri},
			[]string{"Serve it first:\n  arena serve <space>"})
	default:
		return printer.ErrorWithContext("connection failed", err.Error(),
			map[string]string{"URI": uri},
			[]string{"Check the host is running 'arena serve' or hosting a room", "Check --host and --port"})
	}
}

func opError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return printer.Error("timed out", "No matching tuple appeared before the timeout.", nil)
	}
	return printer.Error("operation failed", err.Error(), nil)
}

func runPut(cmd *cobra.Command, args []string) error {
	t, err := tuplearg.ParseTuple(args)
	if err != nil {
		return printer.Error("invalid tuple", err.Error(), []string{literalHelp})
	}

	c, ctx, cancel, err := dialSpace(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()

	if err := c.Put(ctx, t); err != nil {
		return opError(err)
	}
	printer.Success("put %s\n", t)
	return nil
}

func runRead(cmd *cobra.Command, args []string, remove bool) error {
	if outputFormat != "default" && outputFormat != "jsonl" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", outputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}
	p, err := tuplearg.ParsePattern(args)
	if err != nil {
		return printer.Error("invalid pattern", err.Error(), []string{literalHelp})
	}

	c, ctx, cancel, err := dialSpace(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()

	tuples, err := read(ctx, c, p, remove)
	if err != nil {
		return opError(err)
	}

	if outputFormat == "jsonl" {
		return format.FormatJSONL(printer.Out, tuples)
	}
	format.FormatTable(printer.Out, tuples, c.URI().Space)
	return nil
}

func read(ctx context.Context, sp tuplespace.Space, p tuplespace.Pattern, remove bool) ([]tuplespace.Tuple, error) {
	switch {
	case spaceAll && remove:
		return sp.GetAll(ctx, p)
	case spaceAll:
		return sp.QueryAll(ctx, p)
	case spaceProbe:
		var (
			t   tuplespace.Tuple
			ok  bool
			err error
		)
		if remove {
			t, ok, err = sp.GetP(ctx, p)
		} else {
			t, ok, err = sp.QueryP(ctx, p)
		}
		if err != nil || !ok {
			return nil, err
		}
		return []tuplespace.Tuple{t}, nil
	}

	var (
		t   tuplespace.Tuple
		err error
	)
	if remove {
		t, err = sp.Get(ctx, p)
	} else {
		t, err = sp.Query(ctx, p)
	}
	if err != nil {
		return nil, err
	}
	return []tuplespace.Tuple{t}, nil
}
