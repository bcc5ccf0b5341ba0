package planner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// entryPoint is the generated kernel's function name. Dispatch binds
// arguments positionally against the signature emitted here, so the
// parameter order is load-bearing: per read variable a start-offset table
// then its data buffer, the write variables in the same pattern, then the
// shared per-group length table.
const entryPoint = "fn"

// flattenedBlockSize is the @inner width used to tile the 1-D flattened grid
const flattenedBlockSize = 128

// kernelIR is the typed intermediate representation handed to the source
// generator. Both strategies render from the same IR; a plan is functionally
// identical under either, differing only in iteration and indexing.
type kernelIR struct {
	Name      string
	NumGroups int
	MaxLen    int
	Total     int
	Strategy  BatchStrategy
	Reads     []variable
	Writes    []variable
	Statics   []staticParam
	RefCType  string // scalar type used for static constants
	IntCType  string // type of the shared lengths table
	Declares  string
	Body      string
}

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedNames are identifiers the generator itself introduces, plus the C
// keywords a variable name could legally collide with inside the kernel.
var reservedNames = map[string]bool{
	entryPoint: true, "lengths": true,
	"n": true, "m": true, "gid": true, "blk": true, "tid": true, "it": true,
	"kernel": true, "const": true, "restrict": true,
	"void": true, "char": true, "short": true, "int": true, "long": true,
	"float": true, "double": true, "signed": true, "unsigned": true,
	"if": true, "else": true, "for": true, "while": true, "do": true,
	"switch": true, "case": true, "default": true, "break": true,
	"continue": true, "return": true, "goto": true, "sizeof": true,
	"struct": true, "union": true, "enum": true, "typedef": true,
	"static": true, "extern": true, "volatile": true, "register": true,
}

// generateSource renders the kernel for the IR's strategy. It is a pure
// function of the IR, so both iteration schemes can be tested as text.
func generateSource(ir kernelIR) (string, error) {
	if err := validateNames(ir); err != nil {
		return "", err
	}

	var sb strings.Builder
	writeSignature(&sb, ir)
	if ir.Strategy.IsFlattened() {
		writeFlattenedBody(&sb, ir)
	} else {
		writeBlockedBody(&sb, ir)
	}
	sb.WriteString("}\n")
	return sb.String(), nil
}

// validateNames rejects malformed variable names and collisions with
// generated identifiers before any compile is attempted.
func validateNames(ir kernelIR) error {
	names := make([]string, 0, len(ir.Reads)+len(ir.Writes)+len(ir.Statics))
	for _, v := range ir.Reads {
		names = append(names, v.Name)
	}
	for _, v := range ir.Writes {
		names = append(names, v.Name)
	}
	for _, p := range ir.Statics {
		names = append(names, p.name)
	}

	// The signature derives in_<name> and <name>_starts identifiers; a user
	// name may not shadow one derived from another variable.
	derived := make(map[string]string)
	for _, name := range names {
		if !identifierRE.MatchString(name) {
			return &SourceGenerationError{Name: name, Reason: "not a valid identifier"}
		}
		if reservedNames[name] {
			return &SourceGenerationError{Name: name, Reason: "collides with a reserved word"}
		}
		for _, id := range []string{name, "in_" + name, name + "_starts"} {
			if prev, ok := derived[id]; ok && prev != name {
				return &SourceGenerationError{
					Name:   name,
					Reason: fmt.Sprintf("generated identifier %s collides with variable %s", id, prev),
				}
			}
			derived[id] = name
		}
	}
	return nil
}

// writeSignature emits the entry point and its fixed-order parameter list
func writeSignature(sb *strings.Builder, ir kernelIR) {
	sb.WriteString(fmt.Sprintf("// %s: %s dispatch over %d groups, %d elements\n",
		ir.Name, ir.Strategy, ir.NumGroups, ir.Total))
	sb.WriteString(fmt.Sprintf("@kernel void %s(\n", entryPoint))
	for _, v := range ir.Reads {
		sb.WriteString(fmt.Sprintf("    const %s *%s_starts,\n", v.IntCType, v.Name))
		sb.WriteString(fmt.Sprintf("    const %s *in_%s,\n", v.CType, v.Name))
	}
	for _, v := range ir.Writes {
		sb.WriteString(fmt.Sprintf("    const %s *%s_starts,\n", v.IntCType, v.Name))
		sb.WriteString(fmt.Sprintf("    %s *in_%s,\n", v.CType, v.Name))
	}
	sb.WriteString(fmt.Sprintf("    const %s *lengths\n", ir.IntCType))
	sb.WriteString(") {\n")
}

// writeStaticsAndDeclares emits the constant-folded parameters followed by
// the caller's scratch declarations.
func writeStaticsAndDeclares(sb *strings.Builder, ir kernelIR, indent string) {
	for _, p := range ir.Statics {
		sb.WriteString(fmt.Sprintf("%sconst %s %s = %s;\n",
			indent, ir.RefCType, p.name, floatLiteral(p.value, ir.RefCType)))
	}
	writeUserBlock(sb, ir.Declares, indent)
}

// writeBlockedBody emits the 2-D scheme: one work item per (group, element)
// pair, items past a group's end culled by the length guard.
func writeBlockedBody(sb *strings.Builder, ir kernelIR) {
	maxLen := ir.MaxLen
	if maxLen < 1 {
		maxLen = 1 // keep the grid non-degenerate; the guard culls everything
	}

	sb.WriteString(fmt.Sprintf("    for (int n = 0; n < %d; ++n; @outer) {\n", ir.NumGroups))
	sb.WriteString(fmt.Sprintf("        for (int m = 0; m < %d; ++m; @inner) {\n", maxLen))
	sb.WriteString("            if (m < lengths[n]) {\n")

	indent := "                "
	for _, v := range ir.Reads {
		sb.WriteString(fmt.Sprintf("%s%s %s = in_%s[%s + m];\n",
			indent, v.CType, v.Name, v.Name, v.Offset))
	}
	for _, v := range ir.Writes {
		sb.WriteString(fmt.Sprintf("%s%s %s;\n", indent, v.CType, v.Name))
	}
	writeStaticsAndDeclares(sb, ir, indent)
	writeUserBlock(sb, ir.Body, indent)
	for _, v := range ir.Writes {
		sb.WriteString(fmt.Sprintf("%sin_%s[%s + m] = %s;\n",
			indent, v.Name, v.Offset, v.Name))
	}

	sb.WriteString("            }\n")
	sb.WriteString("        }\n")
	sb.WriteString("    }\n")
}

// writeFlattenedBody emits the 1-D scheme: each work item claims a run of
// chunk consecutive elements of the logical concatenation of all groups,
// resolving its starting (group, offset) by walking the length table and
// rolling over group boundaries as it advances.
func writeFlattenedBody(sb *strings.Builder, ir kernelIR) {
	chunk := ir.Strategy.Chunk()
	numItems := (ir.Total + chunk - 1) / chunk
	numBlocks := (numItems + flattenedBlockSize - 1) / flattenedBlockSize
	if numBlocks < 1 {
		numBlocks = 1
	}

	sb.WriteString(fmt.Sprintf("    for (int blk = 0; blk < %d; ++blk; @outer) {\n", numBlocks))
	sb.WriteString(fmt.Sprintf("        for (int tid = 0; tid < %d; ++tid; @inner) {\n", flattenedBlockSize))
	sb.WriteString(fmt.Sprintf("            const int gid = blk * %d + tid;\n", flattenedBlockSize))
	sb.WriteString(fmt.Sprintf("            if (gid < %d) {\n", numItems))

	// Resolve the item's flat start index into (group n, offset m).
	sb.WriteString(fmt.Sprintf("                int m = gid * %d;\n", chunk))
	sb.WriteString("                int n = 0;\n")
	sb.WriteString(fmt.Sprintf("                while (n < %d && m >= lengths[n]) {\n", ir.NumGroups))
	sb.WriteString("                    m -= lengths[n];\n")
	sb.WriteString("                    ++n;\n")
	sb.WriteString("                }\n")
	sb.WriteString(fmt.Sprintf("                if (n < %d) {\n", ir.NumGroups))

	indent := "                    "
	for _, v := range ir.Reads {
		sb.WriteString(fmt.Sprintf("%s%s %s;\n", indent, v.CType, v.Name))
	}
	for _, v := range ir.Writes {
		sb.WriteString(fmt.Sprintf("%s%s %s;\n", indent, v.CType, v.Name))
	}
	writeStaticsAndDeclares(sb, ir, indent)

	sb.WriteString(fmt.Sprintf("%sfor (int it = 0; it < %d; ++it) {\n", indent, chunk))
	inner := indent + "    "
	for _, v := range ir.Reads {
		sb.WriteString(fmt.Sprintf("%s%s = in_%s[%s + m];\n",
			inner, v.Name, v.Name, v.Offset))
	}
	writeUserBlock(sb, ir.Body, inner)
	for _, v := range ir.Writes {
		sb.WriteString(fmt.Sprintf("%sin_%s[%s + m] = %s;\n",
			inner, v.Name, v.Offset, v.Name))
	}

	// Advance one element; on a group boundary skip to the next non-empty
	// group, stopping early once every group is consumed.
	sb.WriteString(fmt.Sprintf("%s++m;\n", inner))
	sb.WriteString(fmt.Sprintf("%sif (m >= lengths[n]) {\n", inner))
	sb.WriteString(fmt.Sprintf("%s    ++n;\n", inner))
	sb.WriteString(fmt.Sprintf("%s    while (n < %d && lengths[n] == 0) {\n", inner, ir.NumGroups))
	sb.WriteString(fmt.Sprintf("%s        ++n;\n", inner))
	sb.WriteString(fmt.Sprintf("%s    }\n", inner))
	sb.WriteString(fmt.Sprintf("%s    if (n >= %d) {\n", inner, ir.NumGroups))
	sb.WriteString(fmt.Sprintf("%s        break;\n", inner))
	sb.WriteString(fmt.Sprintf("%s    }\n", inner))
	sb.WriteString(fmt.Sprintf("%s    m = 0;\n", inner))
	sb.WriteString(fmt.Sprintf("%s}\n", inner))
	sb.WriteString(fmt.Sprintf("%s}\n", indent))

	sb.WriteString("                }\n")
	sb.WriteString("            }\n")
	sb.WriteString("        }\n")
	sb.WriteString("    }\n")
}

// writeUserBlock re-indents caller-supplied declaration or body text
func writeUserBlock(sb *strings.Builder, text, indent string) {
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			sb.WriteString("\n")
			continue
		}
		sb.WriteString(indent + line + "\n")
	}
}

// floatLiteral formats a constant so it parses back to the same value,
// suffixed for single precision.
func floatLiteral(v float64, ctype string) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	if ctype == "float" {
		s += "f"
	}
	return s
}
