package planner

import "github.com/notargets/spikekernel/ragged"

// Role indicates how a bound variable participates in the generated kernel
type Role int

const (
	RoleInput Role = iota
	RoleOutput
	RoleParam
)

// Binding associates a kernel variable name with either a ragged collection
// or a scalar value. Bindings are supplied to Build in declaration order;
// that order fixes both the generated signature and the dispatch-time
// argument list, so it must be stable.
type Binding struct {
	name  string
	role  Role
	coll  *ragged.Collection
	value interface{}
}

// Input declares a read-only per-element variable
func Input(name string) *Binding {
	return &Binding{name: name, role: RoleInput}
}

// Output declares a per-element variable the kernel assigns and writes back
func Output(name string) *Binding {
	return &Binding{name: name, role: RoleOutput}
}

// Param declares an update-rule parameter. Bind a collection for a
// per-element parameter or set a Value for a source-level constant.
func Param(name string) *Binding {
	return &Binding{name: name, role: RoleParam}
}

// Bind associates a ragged collection with this variable
func (b *Binding) Bind(c *ragged.Collection) *Binding {
	b.coll = c
	return b
}

// Value associates a scalar value with this parameter. The value is coerced
// to a floating-point constant at classification time.
func (b *Binding) Value(v interface{}) *Binding {
	b.value = v
	return b
}

// Name returns the kernel variable name
func (b *Binding) Name() string {
	return b.name
}

// Role returns the binding's role
func (b *Binding) Role() Role {
	return b.role
}
