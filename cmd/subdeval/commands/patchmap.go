package commands

import (
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/subd"
)

func (c *CLI) newPatchMapCmd() *cobra.Command {
	var (
		mf      meshFlags
		handles bool
	)
	cmd := &cobra.Command{
		Use:   "patchmap",
		Short: "Print the patch locator of a refined mesh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, r, kind, err := mf.refine(cmd)
			if err != nil {
				return err
			}
			e, err := subd.New(r, kind)
			if err != nil {
				return err
			}
			defer e.Close()

			pm := e.PatchMap()
			p := message.NewPrinter(language.English)
			out := cmd.OutOrStdout()
			_, _ = p.Fprintf(out, "faces:      %d - %d\n", pm.MinFace, pm.MaxFace)
			_, _ = p.Fprintf(out, "max depth:  %d\n", pm.MaxDepth)
			_, _ = p.Fprintf(out, "triangular: %t\n", pm.Triangular)
			_, _ = p.Fprintf(out, "handles:    %d\n", len(pm.Handles))
			_, _ = p.Fprintf(out, "nodes:      %d\n", len(pm.Nodes))
			if !handles {
				return nil
			}
			for i, h := range pm.Handles {
				_, _ = p.Fprintf(out, "%6d  array %d  patch %d  cvs %d\n", i, h.ArrayIndex, h.PatchIndex, h.VertIndex)
			}
			return nil
		},
	}
	mf.register(cmd)
	cmd.Flags().BoolVar(&handles, "handles", false, "List every patch handle")
	return cmd
}
