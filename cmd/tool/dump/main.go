package dump

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/intakehq/journalstore/journal"
)

const (
	dumpUsage     = "dump"
	dumpShortDesc = "Print every record in a journal segment file"
	dumpLongDesc  = "This command decodes a segment data file offline and prints one line per record, " +
		"stopping at the first corrupt or torn record"
	dumpFileDesc = "path to a segment .log file"
)

var (
	// Cmd is the dump command.
	Cmd = &cobra.Command{
		Use:     dumpUsage,
		Short:   dumpShortDesc,
		Long:    dumpLongDesc,
		Example: "journalstore tool dump --file /var/lib/journalstore/00000000000000000000.log",
		RunE:    executeDump,
	}
	// segmentFilePath is the path to the segment data file.
	segmentFilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&segmentFilePath, "file", "f", "", dumpFileDesc)
	if err := Cmd.MarkFlagRequired("file"); err != nil {
		panic(err)
	}
}

func executeDump(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	if err := journal.DumpSegmentFile(os.Stdout, filepath.Clean(segmentFilePath)); err != nil {
		return fmt.Errorf("dump segment: %w", err)
	}
	return nil
}
