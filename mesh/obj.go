package mesh

import (
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"
)

var white = mgl32.Vec3{1, 1, 1}

func objVertex(decoder *obj.Decoder, face obj.Face, faceIndex int) (Vertex, error) {
	vertInd := face.Vertices[faceIndex]
	if vertInd < 0 || vertInd*3+2 >= len(decoder.Vertices) {
		return Vertex{}, errors.Newf("face references missing vertex %d", vertInd)
	}

	vert := Vertex{Position: mgl32.Vec3{
		decoder.Vertices[vertInd*3],
		decoder.Vertices[vertInd*3+1],
		decoder.Vertices[vertInd*3+2],
	}, Color: white}

	if faceIndex < len(face.Uvs) {
		uvInd := face.Uvs[faceIndex]
		if uvInd >= 0 && uvInd*2+1 < len(decoder.Uvs) {
			// OBJ puts v=0 at the bottom of the image, Vulkan samples from the top.
			vert.TexCoord = mgl32.Vec2{
				decoder.Uvs[uvInd*2],
				1.0 - decoder.Uvs[uvInd*2+1],
			}
		}
	}

	return vert, nil
}

// LoadOBJ decodes a Wavefront OBJ mesh, fan-triangulating polygons. mtl may be nil.
func LoadOBJ(objReader io.Reader, mtlReader io.Reader) (Mesh, error) {
	if mtlReader == nil {
		mtlReader = strings.NewReader("")
	}

	decoder, err := obj.DecodeReader(objReader, mtlReader)
	if err != nil {
		return Mesh{}, errors.Wrap(err, "decoding obj")
	}

	builder := NewBuilder()
	for _, decodedObj := range decoder.Objects {
		for _, face := range decodedObj.Faces {
			for i := 2; i < len(face.Vertices); i++ {
				for _, corner := range [3]int{0, i - 1, i} {
					vert, err := objVertex(decoder, face, corner)
					if err != nil {
						return Mesh{}, errors.Wrapf(err, "object %q", decodedObj.Name)
					}
					builder.Add(vert)
				}
			}
		}
	}

	return builder.Mesh(), nil
}

// LoadOBJFile reads an OBJ file and, when mtlPath is not empty, its material library.
func LoadOBJFile(objPath, mtlPath string) (Mesh, error) {
	objFile, err := os.Open(objPath)
	if err != nil {
		return Mesh{}, err
	}
	defer objFile.Close()

	var mtlReader io.Reader
	if mtlPath != "" {
		mtlFile, err := os.Open(mtlPath)
		if err != nil {
			return Mesh{}, err
		}
		defer mtlFile.Close()
		mtlReader = mtlFile
	}

	m, err := LoadOBJ(objFile, mtlReader)
	if err != nil {
		return Mesh{}, errors.Wrapf(err, "loading %s", objPath)
	}
	return m, nil
}
