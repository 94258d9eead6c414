package tool

import (
	"github.com/spf13/cobra"

	"github.com/intakehq/journalstore/cmd/tool/dump"
)

const (
	toolUsage     = "tool"
	toolShortDesc = "Executes tools as subcommands"
	toolLongDesc  = "This command executes the specified offline journal tool"
	toolExample   = "journalstore tool dump [flags]"
)

// Cmd is the tool command.
var Cmd = &cobra.Command{
	Use:        toolUsage,
	Short:      toolShortDesc,
	Long:       toolLongDesc,
	SuggestFor: []string{"dump"},
	Example:    toolExample,
}

func init() {
	Cmd.AddCommand(dump.Cmd)
}
