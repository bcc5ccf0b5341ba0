package planner

import "fmt"

// ShapeMismatchError reports a variable whose per-group layout disagrees with
// the reference collection, or a group that is not a rank-1 vector.
type ShapeMismatchError struct {
	Name   string
	Detail string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch for %s: %s", e.Name, e.Detail)
}

// NameCollisionError reports a variable name used more than once across
// inputs, outputs and parameters.
type NameCollisionError struct {
	Name string
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("variable name %s declared more than once", e.Name)
}

// TypeConversionError reports a static parameter value that cannot be
// coerced to a floating-point scalar.
type TypeConversionError struct {
	Name  string
	Value interface{}
}

func (e *TypeConversionError) Error() string {
	return fmt.Sprintf("parameter %s: cannot convert %T value to float", e.Name, e.Value)
}

// SourceGenerationError reports a problem rendering kernel source, such as a
// malformed variable name or a collision with a generated identifier.
type SourceGenerationError struct {
	Name   string
	Reason string
}

func (e *SourceGenerationError) Error() string {
	return fmt.Sprintf("cannot generate source for %s: %s", e.Name, e.Reason)
}

// KernelCompileError reports a device compile failure. It carries the full
// generated source and the compiler diagnostic; compile failures indicate a
// generator or user-rule defect and are never retried.
type KernelCompileError struct {
	Name   string
	Source string
	Diag   error
}

func (e *KernelCompileError) Error() string {
	return fmt.Sprintf("kernel %s failed to compile: %v", e.Name, e.Diag)
}

func (e *KernelCompileError) Unwrap() error {
	return e.Diag
}
