// Package commands implements the subdeval command line.
package commands

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gogpu/subd"
)

// CLI is the subdeval command tree.
type CLI struct {
	rootCmd *cobra.Command
	verbose bool
}

// New creates the command tree.
func New() *CLI {
	c := &CLI{}
	rootCmd := &cobra.Command{
		Use:           "subdeval",
		Short:         "Evaluate Catmull-Clark limit surfaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if c.verbose {
				subd.SetLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log engine activity to stderr")

	rootCmd.AddCommand(c.newEvalCmd())
	rootCmd.AddCommand(c.newBenchCmd())
	rootCmd.AddCommand(c.newPatchMapCmd())

	c.rootCmd = rootCmd
	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error streams for the root command. Used for testing.
func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}
