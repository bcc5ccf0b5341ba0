// Package neuron supplies the leaky integrate-and-fire update rule as a
// planner payload, together with a bit-faithful host reference stepper.
package neuron

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/notargets/gocca"
	"github.com/notargets/spikekernel/planner"
	"github.com/notargets/spikekernel/ragged"
)

// VThreshold is the membrane voltage at which a neuron spikes
const VThreshold = 1.0

// StepRule builds the LIF update rule for one step of size dt. Inputs are
// j (input current), v (membrane voltage) and w (refractory counter);
// outputs ov, ow and os (spike indicator); parameters tau (membrane time
// constant) and ref (refractory period). dt, 1/dt and the threshold are
// folded into the body as source-level literals.
//
// When a spike coincides with dV == 0 the overshoot division produces a
// non-finite result. That behavior is inherited and deliberately not
// guarded; see DESIGN.md.
func StepRule(dt float64, dtype ragged.DataType) planner.UpdateRule {
	ctype := ragged.TypeName(dtype)
	lit := func(v float64) string { return literal(v, ctype) }
	dtLit := lit(dt)

	body := fmt.Sprintf(`
spiked = 0;

dV = (%s / tau) * (j - v);
v += dV;

if (v < 0 || w > 2 * %s)
    v = 0;
else if (w > %s)
    v *= 1.0 - (w - %s) * %s;

spiked = v > %s;
if (v > %s) {
    overshoot = %s * (v - %s) / dV;
    w = ref - overshoot + %s;
    v = 0.0;
} else {
    w -= %s;
}

ov = v;
ow = w;
os = (spiked) ? 1.0f : 0.0f;
`,
		dtLit, dtLit, dtLit, dtLit, lit(1.0/dt),
		lit(VThreshold), lit(VThreshold),
		dtLit, lit(VThreshold), dtLit, dtLit)

	return planner.UpdateRule{
		Name:     "lif_step",
		Declares: fmt.Sprintf("char spiked;\n%s dV, overshoot;", ctype),
		Body:     body,
	}
}

// PlanLIF builds a kernel plan advancing LIF neuron state one step per
// invocation. J, V and W are the input state, OV, OW and OS receive the
// updated state. ref and tau accept either a numeric scalar (folded into
// the source as a constant) or a *ragged.Collection (read per element).
func PlanLIF(device *gocca.OCCADevice, J, V, W, OV, OW, OS *ragged.Collection,
	ref, tau interface{}, dt float64, strategy planner.BatchStrategy, tag string) (*planner.KernelPlan, error) {

	bindings := []*planner.Binding{
		planner.Input("j").Bind(J),
		planner.Input("v").Bind(V),
		planner.Input("w").Bind(W),
		paramBinding("tau", tau),
		paramBinding("ref", ref),
		planner.Output("ov").Bind(OV),
		planner.Output("ow").Bind(OW),
		planner.Output("os").Bind(OS),
	}
	return planner.Build(device, StepRule(dt, V.Dtype), bindings, strategy, tag)
}

func paramBinding(name string, v interface{}) *planner.Binding {
	if c, ok := v.(*ragged.Collection); ok {
		return planner.Param(name).Bind(c)
	}
	return planner.Param(name).Value(v)
}

// StepHost advances the LIF law on the host in float64, element by element,
// reproducing the generated kernel's arithmetic order exactly.
func StepHost(j, v, w []float64, ref, tau, dt float64) (ov, ow, os []float64) {
	ov = make([]float64, len(j))
	ow = make([]float64, len(j))
	os = make([]float64, len(j))
	dtInv := 1.0 / dt

	for i := range j {
		dV := (dt / tau) * (j[i] - v[i])
		vv := v[i] + dV
		ww := w[i]

		if vv < 0 || ww > 2*dt {
			vv = 0
		} else if ww > dt {
			vv *= 1.0 - (ww-dt)*dtInv
		}

		spiked := vv > VThreshold
		if spiked {
			overshoot := dt * (vv - VThreshold) / dV
			ww = ref - overshoot + dt
			vv = 0.0
			os[i] = 1.0
		} else {
			ww -= dt
		}

		ov[i] = vv
		ow[i] = ww
	}
	return ov, ow, os
}

// literal formats a constant so it parses back to the same value, suffixed
// for single precision.
func literal(v float64, ctype string) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	if ctype == "float" {
		s += "f"
	}
	return s
}
