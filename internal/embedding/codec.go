package embedding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/pgvector/pgvector-go"
)

// MaxDimension is the largest vector the binary form can describe.
const MaxDimension = math.MaxUint16

var (
	// ErrCorrupt reports bytes that are not a serialized vector.
	ErrCorrupt = errors.New("embedding: corrupt encoding")
	// ErrDimensionMismatch reports vectors of different lengths.
	ErrDimensionMismatch = errors.New("embedding: dimension mismatch")
)

// Encode serializes v using the pgvector binary layout.
func Encode(v []float32) ([]byte, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrCorrupt)
	}
	if len(v) > MaxDimension {
		return nil, fmt.Errorf("embedding: dimension %d exceeds %d", len(v), MaxDimension)
	}
	return pgvector.NewVector(v).EncodeBinary(nil)
}

// Decode is the inverse of Encode.
func Decode(b []byte) ([]float32, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(b))
	}
	dim := int(binary.BigEndian.Uint16(b[0:2]))
	if dim == 0 || len(b) != 4+4*dim {
		return nil, fmt.Errorf("%w: header says %d dims, have %d bytes", ErrCorrupt, dim, len(b))
	}
	var v pgvector.Vector
	if err := v.DecodeBinary(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return v.Slice(), nil
}
