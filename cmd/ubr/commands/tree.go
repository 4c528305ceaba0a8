package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ubirescue/pkg/exporter"
)

var treeCmd = &cobra.Command{
	Use:   "tree [image]",
	Short: "Show the recoverable directory tree without writing anything",
	Long: `Scan, replay and build the directory tree, then render it to stdout.
Nothing is written to disk — this is the dry-run view before extract.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, reg, t, err := loadTree(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		exporter.PrintTree(os.Stdout, t)

		s := t.Stats()
		fmt.Printf("\n📦 %d objects (%d files, %d dirs, %d symlinks, %d hardlinked)\n",
			s.Objects, s.Files, s.Dirs, s.Symlinks, s.Hardlinks)
		if c := reg.Counts(); c.Stale > 0 {
			fmt.Printf("♻️  %d stale node versions dropped during replay\n", c.Stale)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(treeCmd)
}
