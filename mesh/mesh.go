// Package mesh holds indexed triangle meshes in the vertex layout the renderer draws.
package mesh

import "github.com/go-gl/mathgl/mgl32"

// Vertex is a position, a color and a texture coordinate. Two vertices are the same vertex
// only when all three match.
type Vertex struct {
	Position mgl32.Vec3
	Color    mgl32.Vec3
	TexCoord mgl32.Vec2
}

// Mesh is a triangle list over a deduplicated vertex array.
type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
}

func (m Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// Builder accumulates vertices, storing each distinct vertex once.
type Builder struct {
	vertices []Vertex
	indices  []uint32
	unique   map[Vertex]uint32
}

func NewBuilder() *Builder {
	return &Builder{unique: make(map[Vertex]uint32)}
}

// Add appends an index for vert, adding vert to the vertex array the first time it is seen.
func (b *Builder) Add(vert Vertex) uint32 {
	index, exists := b.unique[vert]
	if !exists {
		index = uint32(len(b.vertices))
		b.vertices = append(b.vertices, vert)
		b.unique[vert] = index
	}

	b.indices = append(b.indices, index)
	return index
}

func (b *Builder) Mesh() Mesh {
	return Mesh{
		Vertices: b.vertices,
		Indices:  b.indices,
	}
}
