// Package ragged provides the flat-buffer storage layout for ordered sets of
// independently sized numeric groups. Each Collection owns one flat device
// buffer plus per-group length and start-offset tables, which is the layout
// the kernel planner generates code against.
package ragged

import (
	"fmt"
	"unsafe"

	"github.com/notargets/gocca"
	"gonum.org/v1/gonum/mat"
)

// DataType represents the precision of numerical data
type DataType int

const (
	Float32 DataType = iota + 1
	Float64
	INT32
	INT64
)

// AlignmentType specifies memory alignment requirements for group starts
type AlignmentType int

const (
	NoAlignment    AlignmentType = 1
	CacheLineAlign AlignmentType = 64
	WarpAlign      AlignmentType = 128
	PageAlign      AlignmentType = 4096
)

// Config holds configuration for creating a Collection
type Config struct {
	IntType   DataType      // index table precision, defaults to INT64
	Alignment AlignmentType // group start alignment, defaults to NoAlignment
}

// Collection is an ordered sequence of named groups stored in one flat device
// buffer. Lengths[i] is the element count of group i, Starts[i] its offset
// into the flat buffer in value units. RowLengths[i] is 1 for vector groups;
// matrix groups built with FromMatrices carry their column count there.
type Collection struct {
	Lengths    []int
	RowLengths []int
	Starts     []int64
	Dtype      DataType
	IntType    DataType
	Alignment  AlignmentType

	device     *gocca.OCCADevice
	buf        *gocca.OCCAMemory
	startsMem  *gocca.OCCAMemory
	lengthsMem *gocca.OCCAMemory

	paddedValues int64
}

// SizeOfType returns the size in bytes of a data type
func SizeOfType(dt DataType) int64 {
	switch dt {
	case Float32, INT32:
		return 4
	default:
		return 8
	}
}

// TypeName returns the device scalar type name for a DataType
func TypeName(dt DataType) string {
	switch dt {
	case Float32:
		return "float"
	case Float64:
		return "double"
	case INT32:
		return "int"
	case INT64:
		return "long"
	default:
		return "double"
	}
}

// FromVectors builds a Collection from one host vector per group and uploads
// the data. Zero-length groups are allowed.
func FromVectors[T float32 | float64](device *gocca.OCCADevice, groups [][]T, cfg Config) (*Collection, error) {
	lengths := make([]int, len(groups))
	rowLengths := make([]int, len(groups))
	for i, g := range groups {
		lengths[i] = len(g)
		rowLengths[i] = 1
	}

	c := newCollection(device, lengths, rowLengths, dtypeOf[T](), cfg)
	for i, g := range groups {
		if err := CopyGroupFrom(c, i, g); err != nil {
			c.Free()
			return nil, err
		}
	}
	return c, nil
}

// FromMatrices builds a Collection whose groups are row-major matrices.
// Group i has Lengths[i] rows and RowLengths[i] columns. The planner rejects
// these for elementwise kernels; they exist for staging operator data.
func FromMatrices(device *gocca.OCCADevice, groups []mat.Matrix, cfg Config) (*Collection, error) {
	lengths := make([]int, len(groups))
	rowLengths := make([]int, len(groups))
	for i, m := range groups {
		r, cDim := m.Dims()
		lengths[i] = r
		rowLengths[i] = cDim
	}

	c := newCollection(device, lengths, rowLengths, Float64, cfg)
	for i, m := range groups {
		r, cDim := m.Dims()
		flat := make([]float64, r*cDim)
		for row := 0; row < r; row++ {
			for col := 0; col < cDim; col++ {
				flat[row*cDim+col] = m.At(row, col)
			}
		}
		if err := CopyGroupFrom(c, i, flat); err != nil {
			c.Free()
			return nil, err
		}
	}
	return c, nil
}

func newCollection(device *gocca.OCCADevice, lengths, rowLengths []int, dtype DataType, cfg Config) *Collection {
	if device == nil {
		panic("device cannot be nil")
	}
	if len(lengths) == 0 {
		panic("group set cannot be empty")
	}

	intType := cfg.IntType
	if intType == 0 {
		intType = INT64
	}
	alignment := cfg.Alignment
	if alignment == 0 {
		alignment = NoAlignment
	}

	c := &Collection{
		Lengths:    lengths,
		RowLengths: rowLengths,
		Dtype:      dtype,
		IntType:    intType,
		Alignment:  alignment,
		device:     device,
	}
	c.Starts, c.paddedValues = c.calculateStarts()

	valueSize := SizeOfType(dtype)
	bufBytes := c.paddedValues * valueSize
	if bufBytes == 0 {
		bufBytes = valueSize // zero-byte allocations are rejected by some backends
	}
	c.buf = device.Malloc(bufBytes, nil, nil)
	c.startsMem = mallocIndexTable(device, intType, c.Starts)

	lengths64 := make([]int64, len(lengths))
	for i, l := range lengths {
		lengths64[i] = int64(l)
	}
	c.lengthsMem = mallocIndexTable(device, intType, lengths64)

	return c
}

// calculateStarts computes per-group start offsets in value units, padding
// each group start up to the configured alignment.
func (c *Collection) calculateStarts() ([]int64, int64) {
	starts := make([]int64, len(c.Lengths))
	valueSize := SizeOfType(c.Dtype)
	alignment := int64(c.Alignment)

	currentByteOffset := int64(0)
	for i := range c.Lengths {
		if currentByteOffset%alignment != 0 {
			currentByteOffset = ((currentByteOffset + alignment - 1) / alignment) * alignment
		}
		starts[i] = currentByteOffset / valueSize

		groupValues := int64(c.Lengths[i]) * int64(c.RowLengths[i])
		currentByteOffset += groupValues * valueSize
	}
	if currentByteOffset%alignment != 0 {
		currentByteOffset = ((currentByteOffset + alignment - 1) / alignment) * alignment
	}
	return starts, currentByteOffset / valueSize
}

// mallocIndexTable uploads an int64 table at the collection's index precision
func mallocIndexTable(device *gocca.OCCADevice, intType DataType, values []int64) *gocca.OCCAMemory {
	if intType == INT32 {
		v32 := make([]int32, len(values))
		for i, v := range values {
			v32[i] = int32(v)
		}
		return device.Malloc(int64(len(v32)*4), unsafe.Pointer(&v32[0]), nil)
	}
	return device.Malloc(int64(len(values)*8), unsafe.Pointer(&values[0]), nil)
}

// NumGroups returns the number of groups
func (c *Collection) NumGroups() int {
	return len(c.Lengths)
}

// TotalElements returns the sum of all group lengths
func (c *Collection) TotalElements() int {
	total := 0
	for _, l := range c.Lengths {
		total += l
	}
	return total
}

// MaxGroupLength returns the largest group length
func (c *Collection) MaxGroupLength() int {
	max := 0
	for _, l := range c.Lengths {
		if l > max {
			max = l
		}
	}
	return max
}

// IsVectors reports whether every group is a rank-1 vector
func (c *Collection) IsVectors() bool {
	for _, rl := range c.RowLengths {
		if rl != 1 {
			return false
		}
	}
	return true
}

// EqualLengths reports whether the per-group length table matches other's
func (c *Collection) EqualLengths(other *Collection) bool {
	if len(c.Lengths) != len(other.Lengths) {
		return false
	}
	for i, l := range c.Lengths {
		if l != other.Lengths[i] {
			return false
		}
	}
	return true
}

// Buffer returns the flat data buffer
func (c *Collection) Buffer() *gocca.OCCAMemory {
	return c.buf
}

// StartsTable returns the device-resident per-group start offset table
func (c *Collection) StartsTable() *gocca.OCCAMemory {
	return c.startsMem
}

// LengthsTable returns the device-resident per-group length table
func (c *Collection) LengthsTable() *gocca.OCCAMemory {
	return c.lengthsMem
}

// Device returns the device this collection was allocated on
func (c *Collection) Device() *gocca.OCCADevice {
	return c.device
}

// Free releases all device memory held by the collection
func (c *Collection) Free() {
	for _, mem := range []*gocca.OCCAMemory{c.buf, c.startsMem, c.lengthsMem} {
		if mem != nil {
			mem.Free()
		}
	}
	c.buf, c.startsMem, c.lengthsMem = nil, nil, nil
}

// groupValues returns the value count and byte offset of group i
func (c *Collection) groupValues(i int) (int64, int64) {
	values := int64(c.Lengths[i]) * int64(c.RowLengths[i])
	return values, c.Starts[i] * SizeOfType(c.Dtype)
}

// CopyGroupFrom uploads one group's host data into its slot in the flat buffer
func CopyGroupFrom[T float32 | float64](c *Collection, i int, data []T) error {
	if i < 0 || i >= c.NumGroups() {
		return fmt.Errorf("group %d out of range [0,%d)", i, c.NumGroups())
	}
	if dtypeOf[T]() != c.Dtype {
		return fmt.Errorf("type mismatch: collection is %s, host data is %s",
			TypeName(c.Dtype), TypeName(dtypeOf[T]()))
	}
	values, offsetBytes := c.groupValues(i)
	if int64(len(data)) != values {
		return fmt.Errorf("group %d holds %d values, got %d", i, values, len(data))
	}
	if values == 0 {
		return nil
	}
	c.buf.CopyFromWithOffset(unsafe.Pointer(&data[0]), values*SizeOfType(c.Dtype), offsetBytes)
	return nil
}

// CopyGroupTo reads one group back from the device, skipping alignment padding
func CopyGroupTo[T float32 | float64](c *Collection, i int) ([]T, error) {
	if i < 0 || i >= c.NumGroups() {
		return nil, fmt.Errorf("group %d out of range [0,%d)", i, c.NumGroups())
	}
	if dtypeOf[T]() != c.Dtype {
		return nil, fmt.Errorf("type mismatch: collection is %s, requested %s",
			TypeName(c.Dtype), TypeName(dtypeOf[T]()))
	}
	values, offsetBytes := c.groupValues(i)
	result := make([]T, values)
	if values == 0 {
		return result, nil
	}
	c.buf.CopyToWithOffset(unsafe.Pointer(&result[0]), values*SizeOfType(c.Dtype), offsetBytes)
	return result, nil
}

// CopyAllTo reads every group back from the device as one vector per group
func CopyAllTo[T float32 | float64](c *Collection) ([][]T, error) {
	result := make([][]T, c.NumGroups())
	for i := range result {
		g, err := CopyGroupTo[T](c, i)
		if err != nil {
			return nil, err
		}
		result[i] = g
	}
	return result, nil
}

// Flatten concatenates all groups into one host slice in group order
func Flatten[T float32 | float64](c *Collection) ([]T, error) {
	groups, err := CopyAllTo[T](c)
	if err != nil {
		return nil, err
	}
	flat := make([]T, 0, c.TotalElements())
	for _, g := range groups {
		flat = append(flat, g...)
	}
	return flat, nil
}

func dtypeOf[T float32 | float64]() DataType {
	var z T
	switch any(z).(type) {
	case float32:
		return Float32
	default:
		return Float64
	}
}
