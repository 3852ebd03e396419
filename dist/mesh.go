package dist

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// A Mesh arranges the ranks of a Cluster in an
// N-dimensional grid, row-major, with one process group
// per dimension: the ranks that differ from this one only
// along that dimension.
type Mesh struct {
	shape  []int
	names  []string
	coords []int
	groups []*Group
}

// InitDeviceMesh builds a mesh over every rank.
//
// The product of shape must equal the world size, and
// every rank must call InitDeviceMesh with the same
// arguments. If names is nil, dimensions are named
// "dim0", "dim1", and so on.
func (p *Process) InitDeviceMesh(shape []int, names []string) (*Mesh, error) {
	if len(shape) == 0 {
		return nil, errors.New("mesh needs at least one dimension")
	}
	if names == nil {
		for i := range shape {
			names = append(names, fmt.Sprintf("dim%d", i))
		}
	}
	if len(names) != len(shape) {
		return nil, errors.Errorf("mesh shape %v has %d dimension names", shape, len(names))
	}
	total := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, errors.Errorf("mesh shape %v has a non-positive dimension", shape)
		}
		total *= d
	}
	if total != p.WorldSize() {
		return nil, errors.Errorf("mesh shape %v covers %d ranks, world size is %d",
			shape, total, p.WorldSize())
	}

	m := &Mesh{
		shape:  append([]int{}, shape...),
		names:  append([]string{}, names...),
		coords: unravel(p.rank, shape),
	}
	meshKey := fmt.Sprintf("mesh%v[%s]", shape, strings.Join(names, ","))
	for dim := range shape {
		ranks := make([]int, shape[dim])
		coords := append([]int{}, m.coords...)
		for i := range ranks {
			coords[dim] = i
			ranks[i] = ravel(coords, shape)
		}
		name := fmt.Sprintf("%s/%s@%d", meshKey, names[dim], ranks[0])
		g, err := p.NewGroup(name, ranks)
		if err != nil {
			return nil, errors.Wrapf(err, "mesh dimension %s", names[dim])
		}
		m.groups = append(m.groups, g)
	}
	return m, nil
}

// NDim is the number of mesh dimensions.
func (m *Mesh) NDim() int {
	return len(m.shape)
}

// Shape returns the size of every dimension.
func (m *Mesh) Shape() []int {
	return append([]int{}, m.shape...)
}

// Names returns the dimension names.
func (m *Mesh) Names() []string {
	return append([]string{}, m.names...)
}

// Coordinate returns this rank's position in the mesh.
func (m *Mesh) Coordinate() []int {
	return append([]int{}, m.coords...)
}

// Group returns the group along dimension dim.
func (m *Mesh) Group(dim int) *Group {
	return m.groups[dim]
}

// GroupByName returns the group along the named
// dimension.
func (m *Mesh) GroupByName(name string) (*Group, error) {
	for i, n := range m.names {
		if n == name {
			return m.groups[i], nil
		}
	}
	return nil, errors.Errorf("mesh has no dimension %q (have %v)", name, m.names)
}

// Groups returns one group per dimension.
func (m *Mesh) Groups() []*Group {
	return append([]*Group{}, m.groups...)
}

func unravel(rank int, shape []int) []int {
	coords := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		coords[i] = rank % shape[i]
		rank /= shape[i]
	}
	return coords
}

func ravel(coords, shape []int) int {
	var rank int
	for i, c := range coords {
		rank = rank*shape[i] + c
	}
	return rank
}
