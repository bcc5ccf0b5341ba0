// Package planner turns a per-element update rule and a set of ragged
// variable bindings into a compiled, buffer-bound kernel plan. It classifies
// parameters into constants and per-element arrays, validates every bound
// collection against a reference layout, renders kernel source for the
// chosen batch strategy, compiles it, and binds arguments in a fixed order.
package planner

import (
	"fmt"

	"github.com/notargets/gocca"
	"github.com/notargets/spikekernel/ragged"
)

// UpdateRule is the caller-authored per-element computation embedded in the
// generated kernel: a scratch-variable declaration block and a statement
// sequence that reads inputs and assigns outputs by their bound names.
type UpdateRule struct {
	Name     string
	Declares string
	Body     string
}

// KernelPlan is a compiled, buffer-bound, ready-to-invoke kernel. It is
// immutable after construction and retains every collection it was bound
// with, so no buffer can be released while the plan is invocable. There is
// no partial-success state: Build either returns a fully valid plan or no
// plan at all.
type KernelPlan struct {
	Name     string
	Tag      string
	Strategy BatchStrategy
	Source   string
	GridSize []int

	device   *gocca.OCCADevice
	kernel   *gocca.OCCAKernel
	args     []interface{}
	retained []*ragged.Collection
}

// Build constructs a KernelPlan for one update rule, binding set and
// strategy. Bindings carry their role (input, output, parameter); their
// declaration order fixes the generated signature and the dispatch argument
// order. Compile failures are fatal and never retried.
func Build(device *gocca.OCCADevice, rule UpdateRule, bindings []*Binding,
	strategy BatchStrategy, tag string) (*KernelPlan, error) {
	if device == nil {
		panic("device cannot be nil")
	}

	var inputs, outputs, params []*Binding
	for _, b := range bindings {
		switch b.role {
		case RoleInput:
			inputs = append(inputs, b)
		case RoleOutput:
			outputs = append(outputs, b)
		case RoleParam:
			params = append(params, b)
		}
	}

	statics, dynParams, err := classifyParameters(params)
	if err != nil {
		return nil, err
	}

	reads, writes, ref, err := resolveLayout(inputs, dynParams, outputs)
	if err != nil {
		return nil, err
	}

	ir := kernelIR{
		Name:      rule.Name,
		NumGroups: ref.NumGroups(),
		MaxLen:    ref.MaxGroupLength(),
		Total:     ref.TotalElements(),
		Strategy:  strategy,
		Reads:     reads,
		Writes:    writes,
		Statics:   statics,
		RefCType:  ragged.TypeName(ref.Dtype),
		IntCType:  ragged.TypeName(ref.IntType),
		Declares:  rule.Declares,
		Body:      rule.Body,
	}

	// CUDA maps @inner to thread blocks, which are capped at 1024 threads
	if !strategy.IsFlattened() && device.Mode() == "CUDA" && ir.MaxLen > 1024 {
		panic(fmt.Sprintf("CUDA @inner limit exceeded: max group length %d > 1024. "+
			"Use the Flattened strategy for this group set.", ir.MaxLen))
	}

	source, err := generateSource(ir)
	if err != nil {
		return nil, err
	}

	kernel, err := buildKernel(device, source)
	if err != nil {
		return nil, &KernelCompileError{Name: rule.Name, Source: source, Diag: err}
	}

	plan := &KernelPlan{
		Name:     rule.Name,
		Tag:      tag,
		Strategy: strategy,
		Source:   source,
		GridSize: gridSize(ir),
		device:   device,
		kernel:   kernel,
	}

	// Bind arguments in the order the signature declares them: read
	// (starts, data) pairs, write (starts, data) pairs, then the reference
	// length table. Retaining the collections keeps every bound buffer
	// alive for the plan's lifetime.
	for _, v := range append(append([]variable{}, reads...), writes...) {
		plan.args = append(plan.args, v.Coll.StartsTable(), v.Coll.Buffer())
		plan.retained = append(plan.retained, v.Coll)
	}
	plan.args = append(plan.args, ref.LengthsTable())
	plan.retained = append(plan.retained, ref)

	return plan, nil
}

// buildKernel compiles the generated source on the target device
func buildKernel(device *gocca.OCCADevice, source string) (*gocca.OCCAKernel, error) {
	if device.Mode() == "OpenMP" {
		// OCCA bug workaround: OpenMP misses the default -O3 flag
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		return device.BuildKernelFromString(source, entryPoint, props)
	}
	return device.BuildKernelFromString(source, entryPoint, nil)
}

// gridSize computes the work-size tuple for the strategy: (max group length,
// group count) for Blocked, (ceil(total/chunk),) for Flattened.
func gridSize(ir kernelIR) []int {
	if ir.Strategy.IsFlattened() {
		chunk := ir.Strategy.Chunk()
		return []int{(ir.Total + chunk - 1) / chunk}
	}
	return []int{ir.MaxLen, ir.NumGroups}
}

// Invoke runs one simulation step. All buffer reads and writes for the step
// complete before Invoke returns; ordering between successive steps of the
// same plan is the caller's responsibility.
func (p *KernelPlan) Invoke() error {
	if err := p.kernel.RunWithArgs(p.args...); err != nil {
		return fmt.Errorf("kernel %s invocation failed: %w", p.Name, err)
	}
	p.device.Finish()
	return nil
}

// Retained returns the collections the plan keeps alive
func (p *KernelPlan) Retained() []*ragged.Collection {
	return p.retained
}

// Free releases the compiled kernel. Bound buffers stay owned by their
// collections and are not touched.
func (p *KernelPlan) Free() {
	if p.kernel != nil {
		p.kernel.Free()
		p.kernel = nil
	}
}
