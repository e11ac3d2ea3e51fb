package gen

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/luma/beacon/internal/meta"
)

var (
	manDir     string
	manSection string
)

var ManPagesCmd = &cobra.Command{
	Use:   "man",
	Short: "Generate man pages for the beacon CLI",
	Long: `Generates up-to-date man pages for every beacon command. By
default the files are written to the "man" directory under the current
directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		header := &doc.GenManHeader{
			Section: manSection,
			Manual:  "Beacon Manual",
			Source:  fmt.Sprintf("beacon %s", meta.GetInfo().Version),
		}

		dir := filepath.Clean(manDir)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return err
		}

		cmd.Root().DisableAutoGenTag = true

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Generating man pages in", dir)

		if err := doc.GenManTree(cmd.Root(), header, dir); err != nil {
			return err
		}

		fmt.Fprintln(out, "Done.")
		return nil
	},
}

func init() {
	flags := ManPagesCmd.Flags()

	flags.StringVar(&manDir, "dir", "man", "the directory to write the man pages to")
	flags.StringVar(&manSection, "section", "1", "the man section")

	// For bash-completion
	if err := flags.SetAnnotation("dir", cobra.BashCompSubdirsInDir, []string{}); err != nil {
		panic(err)
	}
}
