package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/parley/internal/config"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write a commented default config file to the --config path
(parley.yaml unless given). An existing file is kept unless --force is set.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		// The file being written need not exist yet, so it is not loaded.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.checkFormat()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			path := rootOpts.ConfigPath
			if path == "" {
				path = config.DefaultFile
			}

			if _, err := os.Stat(path); err == nil && !force {
				return formatter.Fail(ExitFailure, ErrCodeWriteFailed,
					fmt.Sprintf("%s already exists (use --force to overwrite)", path), nil)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to check "+path, err)
			}

			if err := os.WriteFile(path, []byte(config.DefaultYAML()), 0644); err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to write "+path, err)
			}

			return formatter.Render(map[string]string{"config": path}, "", func(w io.Writer) {
				fmt.Fprintf(w, "✓ Wrote %s\n", path)
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
