package commands

import (
	"github.com/dyluth/arena/internal/printer"
	"github.com/spf13/cobra"
)

var spacesCmd = &cobra.Command{
	Use:   "spaces",
	Short: "List spaces recorded in the journal",
	Long: `List every space that has recorded at least one mutation in the
configured Redis journal instance.`,
	Args: cobra.NoArgs,
	RunE: runSpaces,
}

func init() {
	rootCmd.AddCommand(spacesCmd)
}

func runSpaces(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	j, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	spaces, err := j.Spaces(ctx)
	if err != nil {
		return printer.Error("failed to list spaces", err.Error(), nil)
	}
	if len(spaces) == 0 {
		printer.Printf("No spaces recorded for instance '%s'\n", j.Instance())
		return nil
	}
	printer.Printf("Spaces recorded for instance '%s':\n", j.Instance())
	for _, s := range spaces {
		printer.Printf("  %s\n", s)
	}
	return nil
}
