package neuron

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/gocca"
	"github.com/notargets/spikekernel/planner"
	"github.com/notargets/spikekernel/ragged"
	"github.com/notargets/spikekernel/utils"
)

const (
	testTau = 0.02
	testDt  = 0.001
	testRef = 0.002
)

// lifHarness owns the six state collections of one population and feeds
// outputs back to inputs between steps, the way the host orchestrator does.
type lifHarness struct {
	t                   *testing.T
	J, V, W, OV, OW, OS *ragged.Collection
	plan                *planner.KernelPlan
}

func newHarness(t *testing.T, device *gocca.OCCADevice, j [][]float64,
	strategy planner.BatchStrategy) *lifHarness {
	t.Helper()

	zero := make([][]float64, len(j))
	for i := range j {
		zero[i] = make([]float64, len(j[i]))
	}
	mk := func(groups [][]float64) *ragged.Collection {
		c, err := ragged.FromVectors(device, groups, ragged.Config{})
		require.NoError(t, err)
		return c
	}

	h := &lifHarness{
		t: t,
		J: mk(j), V: mk(zero), W: mk(zero),
		OV: mk(zero), OW: mk(zero), OS: mk(zero),
	}

	plan, err := PlanLIF(device, h.J, h.V, h.W, h.OV, h.OW, h.OS,
		testRef, testTau, testDt, strategy, "test")
	require.NoError(t, err)
	h.plan = plan
	return h
}

// step invokes the plan once and feeds ov, ow back into v, w
func (h *lifHarness) step() (ov, ow, os []float64) {
	h.t.Helper()
	require.NoError(h.t, h.plan.Invoke())

	ov = h.flatten(h.OV)
	ow = h.flatten(h.OW)
	os = h.flatten(h.OS)
	h.writeBack(h.V, ov)
	h.writeBack(h.W, ow)
	return ov, ow, os
}

func (h *lifHarness) flatten(c *ragged.Collection) []float64 {
	flat, err := ragged.Flatten[float64](c)
	require.NoError(h.t, err)
	return flat
}

func (h *lifHarness) writeBack(c *ragged.Collection, flat []float64) {
	pos := 0
	for i, length := range c.Lengths {
		require.NoError(h.t, ragged.CopyGroupFrom(c, i, flat[pos:pos+length]))
		pos += length
	}
}

func (h *lifHarness) free() {
	h.plan.Free()
	for _, c := range []*ragged.Collection{h.J, h.V, h.W, h.OV, h.OW, h.OS} {
		c.Free()
	}
}

func TestLIF_MatchesHostReference(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	rng := rand.New(rand.NewSource(7))
	sizes := []int{6, 0, 11, 3}
	j := make([][]float64, len(sizes))
	for i, size := range sizes {
		j[i] = make([]float64, size)
		for k := range j[i] {
			j[i][k] = 3.0 * rng.Float64()
		}
	}

	h := newHarness(t, device, j, planner.Blocked())
	defer h.free()

	jFlat := h.flatten(h.J)
	v := make([]float64, len(jFlat))
	w := make([]float64, len(jFlat))

	for step := 0; step < 50; step++ {
		ov, ow, os := h.step()
		ev, ew, es := StepHost(jFlat, v, w, testRef, testTau, testDt)

		require.True(t, floats.EqualApprox(ev, ov, 1e-12), "voltage, step %d", step)
		require.True(t, floats.EqualApprox(ew, ow, 1e-12), "refractory, step %d", step)
		require.Equal(t, es, os, "spike indicator, step %d", step)
		v, w = ev, ew
	}
}

func TestLIF_SpikeLaw(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	// Constant supra-threshold current: steady state voltage is j, so any
	// j > 1 must eventually cross the threshold.
	const jConst = 2.0
	h := newHarness(t, device, [][]float64{{jConst}}, planner.Blocked())
	defer h.free()

	prevV := 0.0
	spiked := false
	for step := 0; step < 100 && !spiked; step++ {
		ov, ow, os := h.step()

		dV := (testDt / testTau) * (jConst - prevV)
		if os[0] == 1.0 {
			spiked = true
			crossed := prevV + dV
			require.Greater(t, crossed, VThreshold,
				"spike must fire exactly at the crossing step")
			assert.Equal(t, 0.0, ov[0], "voltage resets on spike")

			overshoot := testDt * (crossed - VThreshold) / dV
			assert.InDelta(t, testRef-overshoot+testDt, ow[0], 1e-12,
				"refractory counter set from overshoot")
		} else {
			assert.Equal(t, 0.0, os[0])
			require.LessOrEqual(t, ov[0], VThreshold)
			prevV = ov[0]
		}
	}
	require.True(t, spiked, "constant j=2 must spike within 100 steps")
}

func TestLIF_RefractorySuppression(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	const jConst = 2.0
	h := newHarness(t, device, [][]float64{{jConst}}, planner.Blocked())
	defer h.free()

	// Drive to the first spike.
	var ow []float64
	spiked := false
	for step := 0; step < 100 && !spiked; step++ {
		_, ow, _ = h.step()
		spiked = h.flatten(h.OS)[0] == 1.0
	}
	require.True(t, spiked)
	require.Greater(t, ow[0], 2*testDt, "fresh refractory counter exceeds 2*dt")

	// While w > 2*dt the voltage is held at zero outright.
	ov, ow2, _ := h.step()
	assert.Equal(t, 0.0, ov[0], "voltage clamped during deep refractory")
	assert.InDelta(t, ow[0]-testDt, ow2[0], 1e-12, "counter decays by dt")

	// Once dt < w <= 2*dt the increment is scaled down, not zeroed.
	for h.flatten(h.OW)[0] > 2*testDt {
		h.step()
	}
	w := h.flatten(h.OW)[0]
	require.Greater(t, w, testDt)
	ov, _, _ = h.step()
	fullStep := (testDt / testTau) * (jConst - 0.0)
	require.Greater(t, ov[0], 0.0, "decay branch passes a scaled increment")
	require.Less(t, ov[0], fullStep, "increment is suppressed while w > dt")
}

func TestLIF_ZeroInputIdempotent(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	h := newHarness(t, device, [][]float64{{0, 0, 0}, {0}}, planner.Flattened(2))
	defer h.free()

	for step := 1; step <= 100; step++ {
		ov, ow, os := h.step()
		for i := range ov {
			require.Equal(t, 0.0, ov[i], "step %d", step)
			require.Equal(t, 0.0, os[i], "step %d", step)
			require.InDelta(t, -float64(step)*testDt, ow[i], 1e-9,
				"w decreases by dt each step")
		}
	}
}

func TestLIF_StrategyEquivalence(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	rng := rand.New(rand.NewSource(99))
	sizes := []int{3, 0, 5, 1, 8}
	j := make([][]float64, len(sizes))
	for i, size := range sizes {
		j[i] = make([]float64, size)
		for k := range j[i] {
			j[i][k] = 3.0 * rng.Float64()
		}
	}

	run := func(strategy planner.BatchStrategy) ([]float64, []float64, []float64) {
		h := newHarness(t, device, j, strategy)
		defer h.free()
		var ov, ow, os []float64
		for step := 0; step < 40; step++ {
			ov, ow, os = h.step()
		}
		return ov, ow, os
	}

	refV, refW, refS := run(planner.Blocked())
	for _, chunk := range []int{1, 4, 17} {
		ov, ow, os := run(planner.Flattened(chunk))
		// Identical update law, identical inputs: bit-identical state.
		require.Equal(t, refV, ov, "voltage, chunk=%d", chunk)
		require.Equal(t, refW, ow, "refractory, chunk=%d", chunk)
		require.Equal(t, refS, os, "spikes, chunk=%d", chunk)
	}
}

func TestLIF_DynamicParameters(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	// Per-element time constants supplied as a collection instead of a
	// folded constant.
	jHost := [][]float64{{2.0, 2.0}, {2.0}}
	tauHost := [][]float64{{0.02, 0.05}, {0.1}}

	zero := [][]float64{{0, 0}, {0}}
	mk := func(groups [][]float64) *ragged.Collection {
		c, err := ragged.FromVectors(device, groups, ragged.Config{})
		require.NoError(t, err)
		return c
	}
	J, V, W := mk(jHost), mk(zero), mk(zero)
	OV, OW, OS := mk(zero), mk(zero), mk(zero)
	tau := mk(tauHost)
	defer func() {
		for _, c := range []*ragged.Collection{J, V, W, OV, OW, OS, tau} {
			c.Free()
		}
	}()

	plan, err := PlanLIF(device, J, V, W, OV, OW, OS,
		testRef, tau, testDt, planner.Blocked(), "dynamic")
	require.NoError(t, err)
	defer plan.Free()
	require.NoError(t, plan.Invoke())

	got, err := ragged.Flatten[float64](OV)
	require.NoError(t, err)

	taus := []float64{0.02, 0.05, 0.1}
	for i, tc := range taus {
		expected := (testDt / tc) * 2.0 // dV from v=0, j=2
		assert.InDelta(t, expected, got[i], 1e-12, "element %d", i)
	}
}

func TestStepRule_Source(t *testing.T) {
	rule := StepRule(0.001, ragged.Float64)
	assert.Equal(t, "lif_step", rule.Name)
	assert.Contains(t, rule.Declares, "char spiked;")
	assert.Contains(t, rule.Declares, "double dV, overshoot;")
	assert.Contains(t, rule.Body, "dV = (0.001 / tau) * (j - v);")
	assert.Contains(t, rule.Body, "v *= 1.0 - (w - 0.001) * 1000.0;")
	assert.Contains(t, rule.Body, "os = (spiked) ? 1.0f : 0.0f;")

	single := StepRule(0.001, ragged.Float32)
	assert.Contains(t, single.Declares, "float dV, overshoot;")
	assert.Contains(t, single.Body, "(0.001f / tau)")
}
