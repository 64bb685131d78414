package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gogpu/subd"
	"github.com/gogpu/subd/backend"
	"github.com/gogpu/subd/mesh"
)

// meshFlags selects the mesh, its refinement and the backend.
type meshFlags struct {
	path     string
	shape    string
	level    int
	adaptive bool
	varying  bool
	backend  string
}

func (f *meshFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.path, "mesh", "m", "", "YAML mesh description")
	fs.StringVar(&f.shape, "shape", "cube", "Built-in shape when no mesh file is given (quad, grid, cube)")
	fs.IntVarP(&f.level, "level", "l", 2, "Refinement level")
	fs.BoolVarP(&f.adaptive, "adaptive", "a", false, "Feature-adaptive refinement")
	fs.BoolVar(&f.varying, "varying", false, "Build varying stencils")
	fs.StringVarP(&f.backend, "backend", "b", "cpu", "Compute backend (cpu, parallel, gpu)")
}

// load returns the shape and refinement options. Refinement flags given
// on the command line override the ones in a mesh file.
func (f *meshFlags) load(cmd *cobra.Command) (mesh.Shape, mesh.Options, error) {
	o := mesh.Options{Level: f.level, Adaptive: f.adaptive, Varying: f.varying}
	if f.path == "" {
		s, err := builtinShape(f.shape)
		return s, o, err
	}

	file, err := mesh.LoadFile(f.path)
	if err != nil {
		return mesh.Shape{}, o, err
	}
	fo := file.Refinement
	fs := cmd.Flags()
	if fs.Changed("level") {
		fo.Level = f.level
	}
	if fs.Changed("adaptive") {
		fo.Adaptive = f.adaptive
	}
	if fs.Changed("varying") {
		fo.Varying = f.varying
	}
	return file.Shape(), fo, nil
}

func builtinShape(name string) (mesh.Shape, error) {
	switch name {
	case "quad":
		return mesh.Quad(), nil
	case "grid":
		return mesh.Grid(4, 4), nil
	case "cube":
		return mesh.Cube(), nil
	default:
		return mesh.Shape{}, fmt.Errorf("unknown shape %q", name)
	}
}

// refine builds the refiner for the flags.
func (f *meshFlags) refine(cmd *cobra.Command) (mesh.Shape, *mesh.Refiner, backend.Kind, error) {
	kind, err := backend.ParseKind(f.backend)
	if err != nil {
		return mesh.Shape{}, nil, 0, err
	}
	s, o, err := f.load(cmd)
	if err != nil {
		return mesh.Shape{}, nil, 0, err
	}
	r := mesh.NewRefiner(s.Mesh, o)
	if err := r.Err(); err != nil {
		return mesh.Shape{}, nil, 0, err
	}
	return s, r, kind, nil
}

// upload sets the coarse data of s on e and refines.
func upload(e *subd.Evaluator, s mesh.Shape) error {
	if err := e.SetCoarsePositions(s.Positions, 0, e.NumCoarseVertices()); err != nil {
		return err
	}
	if e.HasVarying() {
		if err := e.SetVaryingData(s.Positions, 0, e.NumCoarseVertices()); err != nil {
			return err
		}
	}
	for ch := range e.NumFaceVaryingChannels() {
		vals := s.FaceVarying[ch]
		if err := e.SetFaceVaryingData(ch, vals, 0, len(vals)/2); err != nil {
			return err
		}
	}
	return e.Refine()
}

// sampleGrid returns n*n samples per face, row by row.
func sampleGrid(faces, n int) []subd.Sample {
	out := make([]subd.Sample, 0, faces*n*n)
	for face := range faces {
		for j := range n {
			for i := range n {
				out = append(out, subd.Sample{Face: face, U: gridParam(i, n), V: gridParam(j, n)})
			}
		}
	}
	return out
}

func gridParam(i, n int) float32 {
	if n < 2 {
		return 0.5
	}
	return float32(i) / float32(n-1)
}
