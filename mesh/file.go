package mesh

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// File is the YAML mesh description:
//
//	vertices:
//	  - [0, 0, 0]
//	  - [1, 0, 0]
//	  - [1, 1, 0]
//	  - [0, 1, 0]
//	faces:
//	  - [0, 1, 2, 3]
//	faceVarying:
//	  - name: uv
//	    values: [[0, 0], [1, 0], [1, 1], [0, 1]]
//	    faces: [[0, 1, 2, 3]]
//	refinement:
//	  level: 2
//	  adaptive: true
type File struct {
	Vertices    [][]float32   `yaml:"vertices" validate:"required,min=1,dive,len=3"`
	Faces       [][]int       `yaml:"faces" validate:"required,min=1,dive,len=4,dive,gte=0"`
	FaceVarying []FileChannel `yaml:"faceVarying" validate:"dive"`
	Refinement  Options       `yaml:"refinement"`
}

// FileChannel is one face-varying channel of a File.
type FileChannel struct {
	Name   string      `yaml:"name" validate:"required"`
	Values [][]float32 `yaml:"values" validate:"required,min=1,dive,len=2"`
	Faces  [][]int     `yaml:"faces" validate:"required,dive,len=4,dive,gte=0"`
}

var fileValidate = validator.New()

// Decode reads and validates a YAML mesh description.
func Decode(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("mesh: decode: %w", err)
	}
	if err := fileValidate.Struct(&f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMesh, err)
	}
	if err := f.Mesh().Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFile reads the mesh description at path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mesh: %w", err)
	}
	return Decode(bytes.NewReader(data))
}

// Encode writes f as YAML.
func (f *File) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("mesh: encode: %w", err)
	}
	return enc.Close()
}

// Mesh returns the topology of f.
func (f *File) Mesh() *Mesh {
	m := &Mesh{NumVertices: len(f.Vertices), Faces: f.Faces}
	for _, c := range f.FaceVarying {
		m.FaceVarying = append(m.FaceVarying, Channel{Name: c.Name, NumValues: len(c.Values), Faces: c.Faces})
	}
	return m
}

// Positions returns the packed control positions.
func (f *File) Positions() []float32 {
	out := make([]float32, 0, 3*len(f.Vertices))
	for _, v := range f.Vertices {
		out = append(out, v...)
	}
	return out
}

// FaceVaryingValues returns the packed values of channel ch.
func (f *File) FaceVaryingValues(ch int) []float32 {
	c := f.FaceVarying[ch]
	out := make([]float32, 0, 2*len(c.Values))
	for _, v := range c.Values {
		out = append(out, v...)
	}
	return out
}

// Shape returns the mesh, positions and channel values of f.
func (f *File) Shape() Shape {
	s := Shape{Mesh: f.Mesh(), Positions: f.Positions()}
	for ch := range f.FaceVarying {
		s.FaceVarying = append(s.FaceVarying, f.FaceVaryingValues(ch))
	}
	return s
}

// FileFromShape describes s with the given refinement.
func FileFromShape(s Shape, o Options) *File {
	f := &File{Faces: s.Mesh.Faces, Refinement: o}
	for i := 0; i+2 < len(s.Positions); i += 3 {
		f.Vertices = append(f.Vertices, []float32{s.Positions[i], s.Positions[i+1], s.Positions[i+2]})
	}
	for ch, c := range s.Mesh.FaceVarying {
		fc := FileChannel{Name: c.Name, Faces: c.Faces}
		vals := s.FaceVarying[ch]
		for i := 0; i+1 < len(vals); i += 2 {
			fc.Values = append(fc.Values, []float32{vals[i], vals[i+1]})
		}
		f.FaceVarying = append(f.FaceVarying, fc)
	}
	return f
}
