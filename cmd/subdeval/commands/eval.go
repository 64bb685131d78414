package commands

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/subd"
)

type evalOptions struct {
	mesh    meshFlags
	samples int
	png     string
	size    int
}

// evalResult is the limit surface sampled on every face.
type evalResult struct {
	faces   int
	n       int
	p       []float32
	du, dv  []float32
	elapsed time.Duration
}

func (c *CLI) newEvalCmd() *cobra.Command {
	var o evalOptions
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Refine a mesh and sample its limit surface on every face",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.samples < 1 {
				return fmt.Errorf("--samples must be positive, got %d", o.samples)
			}
			s, r, kind, err := o.mesh.refine(cmd)
			if err != nil {
				return err
			}
			e, err := subd.New(r, kind)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := upload(e, s); err != nil {
				return err
			}

			res := evalResult{faces: len(s.Mesh.Faces), n: o.samples}
			smp := sampleGrid(res.faces, o.samples)
			res.p = make([]float32, 3*len(smp))
			res.du = make([]float32, 3*len(smp))
			res.dv = make([]float32, 3*len(smp))
			began := time.Now()
			if err := e.EvaluateLimitBatch(smp, res.p, res.du, res.dv); err != nil {
				return err
			}
			res.elapsed = time.Since(began)

			printSummary(message.NewPrinter(language.English), cmd, kind.String(), r.NumLevels(), res)
			if o.png == "" {
				return nil
			}
			if err := writePreview(o.png, res, o.size); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "preview written to %s\n", o.png)
			return nil
		},
	}
	o.mesh.register(cmd)
	cmd.Flags().IntVarP(&o.samples, "samples", "n", 8, "Samples per face side")
	cmd.Flags().StringVar(&o.png, "png", "", "Write a normal-map preview to this PNG file")
	cmd.Flags().IntVar(&o.size, "size", 256, "Preview width in pixels")
	return cmd
}

func printSummary(p *message.Printer, cmd *cobra.Command, backendName string, levels int, res evalResult) {
	out := cmd.OutOrStdout()
	count := len(res.p) / 3
	lo, hi := bounds(res.p)
	_, _ = p.Fprintf(out, "backend:  %s\n", backendName)
	_, _ = p.Fprintf(out, "levels:   %d\n", levels)
	_, _ = p.Fprintf(out, "faces:    %d\n", res.faces)
	_, _ = p.Fprintf(out, "samples:  %d\n", count)
	_, _ = p.Fprintf(out, "bounds:   [%.4f %.4f %.4f] - [%.4f %.4f %.4f]\n", lo[0], lo[1], lo[2], hi[0], hi[1], hi[2])
	_, _ = p.Fprintf(out, "elapsed:  %v\n", res.elapsed)
	if secs := res.elapsed.Seconds(); secs > 0 {
		_, _ = p.Fprintf(out, "rate:     %.0f samples/s\n", float64(count)/secs)
	}
}

func bounds(p []float32) (lo, hi [3]float32) {
	for c := range 3 {
		lo[c], hi[c] = math.MaxFloat32, -math.MaxFloat32
	}
	for i := 0; i+2 < len(p); i += 3 {
		for c := range 3 {
			lo[c] = min(lo[c], p[i+c])
			hi[c] = max(hi[c], p[i+c])
		}
	}
	return lo, hi
}

// normal returns the unit normal of sample i, or zero where the tangents
// are parallel.
func (r evalResult) normal(i int) [3]float32 {
	du, dv := r.du[3*i:3*i+3], r.dv[3*i:3*i+3]
	n := [3]float64{
		float64(du[1]*dv[2] - du[2]*dv[1]),
		float64(du[2]*dv[0] - du[0]*dv[2]),
		float64(du[0]*dv[1] - du[1]*dv[0]),
	}
	l := math.Sqrt(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])
	if l == 0 {
		return [3]float32{}
	}
	return [3]float32{float32(n[0] / l), float32(n[1] / l), float32(n[2] / l)}
}
