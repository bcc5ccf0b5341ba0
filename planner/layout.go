package planner

import (
	"fmt"

	"github.com/notargets/spikekernel/ragged"
)

// variable is one resolved kernel variable: its scalar type and the offset
// expression locating its group's data relative to the flat buffer.
type variable struct {
	Name     string
	CType    string
	IntCType string
	Offset   string
	Coll     *ragged.Collection
	IsOutput bool
}

// resolveLayout validates the union of inputs and dynamic parameters (the
// read set) and the outputs (the write set) against the reference collection
// and assigns each variable its type and start-offset expression. The
// reference is the first input. Validation failures are fatal to the build;
// nothing is generated past this point on error.
func resolveLayout(inputs, dynParams, outputs []*Binding) (reads, writes []variable, ref *ragged.Collection, err error) {
	if len(inputs) == 0 {
		return nil, nil, nil, fmt.Errorf("at least one input is required")
	}
	ref = inputs[0].coll
	if ref == nil {
		return nil, nil, nil, fmt.Errorf("input %s has no bound collection", inputs[0].name)
	}

	seen := make(map[string]bool)
	resolve := func(b *Binding, isOutput bool) (variable, error) {
		if seen[b.name] {
			return variable{}, &NameCollisionError{Name: b.name}
		}
		seen[b.name] = true

		c := b.coll
		if c == nil {
			return variable{}, fmt.Errorf("variable %s has no bound collection", b.name)
		}
		if c.NumGroups() != ref.NumGroups() {
			return variable{}, &ShapeMismatchError{
				Name:   b.name,
				Detail: fmt.Sprintf("has %d groups, reference has %d", c.NumGroups(), ref.NumGroups()),
			}
		}
		if !c.EqualLengths(ref) {
			return variable{}, &ShapeMismatchError{
				Name:   b.name,
				Detail: fmt.Sprintf("group lengths %v differ from reference %v", c.Lengths, ref.Lengths),
			}
		}
		if !c.IsVectors() {
			return variable{}, &ShapeMismatchError{
				Name:   b.name,
				Detail: "groups must be rank-1 vectors",
			}
		}

		return variable{
			Name:     b.name,
			CType:    ragged.TypeName(c.Dtype),
			IntCType: ragged.TypeName(c.IntType),
			Offset:   fmt.Sprintf("%s_starts[n]", b.name),
			Coll:     c,
			IsOutput: isOutput,
		}, nil
	}

	for _, b := range inputs {
		v, err := resolve(b, false)
		if err != nil {
			return nil, nil, nil, err
		}
		reads = append(reads, v)
	}
	for _, b := range dynParams {
		v, err := resolve(b, false)
		if err != nil {
			return nil, nil, nil, err
		}
		reads = append(reads, v)
	}
	for _, b := range outputs {
		v, err := resolve(b, true)
		if err != nil {
			return nil, nil, nil, err
		}
		writes = append(writes, v)
	}
	return reads, writes, ref, nil
}
