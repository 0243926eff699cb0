package nn

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestLinearForward(t *testing.T) {
	layer, err := NewLinear("fc", 2, 2, nil)
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	layer.weight.Value = mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	layer.bias.Value = mat.NewDense(1, 2, []float64{0.5, -0.5})

	out, err := layer.Forward(mat.NewDense(1, 2, []float64{1, 1}))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	// [1 1] * [[1 2][3 4]] + [0.5 -0.5] = [4.5 5.5]
	if got := out.At(0, 0); math.Abs(got-4.5) > 1e-12 {
		t.Errorf("expected 4.5, got %f", got)
	}
	if got := out.At(0, 1); math.Abs(got-5.5) > 1e-12 {
		t.Errorf("expected 5.5, got %f", got)
	}
}

func TestLinearBackward(t *testing.T) {
	layer, err := NewLinear("fc", 2, 1, nil)
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	layer.weight.Value = mat.NewDense(2, 1, []float64{2, 3})

	input := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	if _, err := layer.Forward(input); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	grad := mat.NewDense(2, 1, []float64{1, 1})
	dx, err := layer.Backward(grad)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}

	// dW = xᵀg = [1 1]ᵀ, db = 2, dx = gWᵀ.
	if got := layer.weight.Grad.At(0, 0); got != 1 {
		t.Errorf("dW[0]: expected 1, got %f", got)
	}
	if got := layer.weight.Grad.At(1, 0); got != 1 {
		t.Errorf("dW[1]: expected 1, got %f", got)
	}
	if got := layer.bias.Grad.At(0, 0); got != 2 {
		t.Errorf("db: expected 2, got %f", got)
	}
	if got := dx.At(0, 0); got != 2 {
		t.Errorf("dx[0,0]: expected 2, got %f", got)
	}
	if got := dx.At(1, 1); got != 3 {
		t.Errorf("dx[1,1]: expected 3, got %f", got)
	}
}

func TestReLU(t *testing.T) {
	relu := NewReLU()
	out, err := relu.Forward(mat.NewDense(1, 4, []float64{-2, -0.5, 0, 3}))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	expected := []float64{0, 0, 0, 3}
	for j, want := range expected {
		if got := out.At(0, j); got != want {
			t.Errorf("col %d: expected %f, got %f", j, want, got)
		}
	}

	dx, err := relu.Backward(mat.NewDense(1, 4, []float64{1, 1, 1, 1}))
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	expectedGrad := []float64{0, 0, 0, 1}
	for j, want := range expectedGrad {
		if got := dx.At(0, j); got != want {
			t.Errorf("grad col %d: expected %f, got %f", j, want, got)
		}
	}
}

func TestWildcatPoolForward(t *testing.T) {
	// 1 class, 4 maps, k=2, alpha=0.5.
	pool, err := NewWildcatPool(1, 4, 0.5, 2)
	if err != nil {
		t.Fatalf("NewWildcatPool: %v", err)
	}

	out, err := pool.Forward(mat.NewDense(1, 4, []float64{4, 1, 3, 2}))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	// top2 mean = (4+3)/2 = 3.5, bottom2 mean = (1+2)/2 = 1.5
	expected := 3.5 + 0.5*1.5
	if got := out.At(0, 0); math.Abs(got-expected) > 1e-12 {
		t.Errorf("expected %f, got %f", expected, got)
	}
}

func TestWildcatPoolMultiClass(t *testing.T) {
	pool, err := NewWildcatPool(2, 2, 0, 1)
	if err != nil {
		t.Fatalf("NewWildcatPool: %v", err)
	}

	// class 0 maps: {1, 5}, class 1 maps: {-3, -1}.
	out, err := pool.Forward(mat.NewDense(1, 4, []float64{1, 5, -3, -1}))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if got := out.At(0, 0); got != 5 {
		t.Errorf("class 0: expected 5, got %f", got)
	}
	if got := out.At(0, 1); got != -1 {
		t.Errorf("class 1: expected -1, got %f", got)
	}
}

func TestWildcatPoolBackward(t *testing.T) {
	pool, err := NewWildcatPool(1, 4, 0.5, 1)
	if err != nil {
		t.Fatalf("NewWildcatPool: %v", err)
	}
	if _, err := pool.Forward(mat.NewDense(1, 4, []float64{4, 1, 3, 2})); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	dx, err := pool.Backward(mat.NewDense(1, 1, []float64{2}))
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}

	// Gradient routes to the selected max (col 0) and, scaled by alpha, to
	// the selected min (col 1). Unselected maps get nothing.
	expected := []float64{2, 1, 0, 0}
	for j, want := range expected {
		if got := dx.At(0, j); math.Abs(got-want) > 1e-12 {
			t.Errorf("col %d: expected %f, got %f", j, want, got)
		}
	}
}

func TestMSELoss(t *testing.T) {
	loss := NewMSELoss()
	pred := mat.NewDense(2, 1, []float64{1, 3})
	target := mat.NewDense(2, 1, []float64{0, 1})

	got, err := loss.Forward(pred, target)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	// (1 + 4) / 2 = 2.5
	if math.Abs(got-2.5) > 1e-12 {
		t.Errorf("expected 2.5, got %f", got)
	}

	grad, err := loss.Backward(pred, target)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	if g := grad.At(0, 0); math.Abs(g-1.0) > 1e-12 {
		t.Errorf("grad[0]: expected 1, got %f", g)
	}
	if g := grad.At(1, 0); math.Abs(g-2.0) > 1e-12 {
		t.Errorf("grad[1]: expected 2, got %f", g)
	}
}

func TestBCEWithLogitsLoss(t *testing.T) {
	loss := NewBCEWithLogitsLoss()
	pred := mat.NewDense(1, 1, []float64{0})
	target := mat.NewDense(1, 1, []float64{1})

	got, err := loss.Forward(pred, target)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	// BCE at logit 0 is log(2) regardless of the label.
	if math.Abs(got-math.Log(2)) > 1e-12 {
		t.Errorf("expected ln2, got %f", got)
	}

	grad, err := loss.Backward(pred, target)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	// σ(0)-1 = -0.5 for a positive label.
	if g := grad.At(0, 0); math.Abs(g+0.5) > 1e-12 {
		t.Errorf("expected -0.5, got %f", g)
	}
}

func TestWeightedBCEScalesPositiveTerm(t *testing.T) {
	weighted, err := NewWeightedBCEWithLogitsLoss([]float64{3})
	if err != nil {
		t.Fatalf("NewWeightedBCEWithLogitsLoss: %v", err)
	}
	plain := NewBCEWithLogitsLoss()

	pred := mat.NewDense(1, 1, []float64{1.5})
	positive := mat.NewDense(1, 1, []float64{1})
	negative := mat.NewDense(1, 1, []float64{0})

	wPos, _ := weighted.Forward(pred, positive)
	pPos, _ := plain.Forward(pred, positive)
	if math.Abs(wPos-3*pPos) > 1e-12 {
		t.Errorf("positive term should scale by 3: weighted %f, plain %f", wPos, pPos)
	}

	wNeg, _ := weighted.Forward(pred, negative)
	pNeg, _ := plain.Forward(pred, negative)
	if math.Abs(wNeg-pNeg) > 1e-12 {
		t.Errorf("negative term should be unweighted: weighted %f, plain %f", wNeg, pNeg)
	}
}

func TestBCELargeLogitsStable(t *testing.T) {
	loss := NewBCEWithLogitsLoss()
	pred := mat.NewDense(1, 2, []float64{500, -500})
	target := mat.NewDense(1, 2, []float64{1, 0})

	got, err := loss.Forward(pred, target)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Errorf("loss should stay finite at large logits, got %f", got)
	}
	if got > 1e-6 {
		t.Errorf("confident correct predictions should give near-zero loss, got %f", got)
	}
}

func TestNewArchitecture(t *testing.T) {
	tests := []struct {
		name    string
		spec    ArchitectureSpec
		wantErr bool
	}{
		{"mlp", ArchitectureSpec{Network: "mlp", Depth: 2, InputSize: 8, Classes: 3}, false},
		{"resnet wildcat", ArchitectureSpec{Network: "resnet", Depth: 1, InputSize: 8, Classes: 2, Wildcat: true, Maps: 4, Alpha: 0.5, K: 2}, false},
		{"unknown network", ArchitectureSpec{Network: "vgg", Depth: 1, InputSize: 8, Classes: 1}, true},
		{"zero depth", ArchitectureSpec{Network: "mlp", Depth: 0, InputSize: 8, Classes: 1}, true},
		{"zero input", ArchitectureSpec{Network: "mlp", Depth: 1, InputSize: 0, Classes: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, err := NewArchitecture(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Error("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewArchitecture: %v", err)
			}

			out, err := model.Forward(mat.NewDense(2, tt.spec.InputSize, nil))
			if err != nil {
				t.Fatalf("Forward: %v", err)
			}
			rows, cols := out.Dims()
			if rows != 2 || cols != tt.spec.Classes {
				t.Errorf("output shape: expected 2x%d, got %dx%d", tt.spec.Classes, rows, cols)
			}
		})
	}
}

func TestUnsupportedNetworkError(t *testing.T) {
	_, err := NewArchitecture(ArchitectureSpec{Network: "vgg", Depth: 1, InputSize: 4, Classes: 1})
	if !errors.Is(err, ErrUnsupportedNetwork) {
		t.Errorf("expected ErrUnsupportedNetwork, got %v", err)
	}
}

func TestPretrainedInitIsDeterministic(t *testing.T) {
	spec := ArchitectureSpec{Network: "mlp", Depth: 1, InputSize: 4, Classes: 1, Pretrained: true}

	a, err := NewArchitecture(spec)
	if err != nil {
		t.Fatalf("NewArchitecture: %v", err)
	}
	b, err := NewArchitecture(spec)
	if err != nil {
		t.Fatalf("NewArchitecture: %v", err)
	}

	pa, pb := a.Parameters(), b.Parameters()
	if len(pa) != len(pb) {
		t.Fatalf("parameter count differs: %d vs %d", len(pa), len(pb))
	}
	for i := range pa {
		if !mat.EqualApprox(pa[i].Value, pb[i].Value, 0) {
			t.Errorf("parameter %s differs between identical pretrained builds", pa[i].Name)
		}
	}
}

func TestSetRandomSeedControlsScratchInit(t *testing.T) {
	spec := ArchitectureSpec{Network: "mlp", Depth: 1, InputSize: 4, Classes: 1}

	SetRandomSeed(7)
	a, err := NewArchitecture(spec)
	if err != nil {
		t.Fatalf("NewArchitecture: %v", err)
	}
	SetRandomSeed(7)
	b, err := NewArchitecture(spec)
	if err != nil {
		t.Fatalf("NewArchitecture: %v", err)
	}
	SetRandomSeed(8)
	c, err := NewArchitecture(spec)
	if err != nil {
		t.Fatalf("NewArchitecture: %v", err)
	}

	pa, pb, pc := a.Parameters(), b.Parameters(), c.Parameters()
	for i := range pa {
		if !mat.EqualApprox(pa[i].Value, pb[i].Value, 0) {
			t.Errorf("parameter %s differs between builds with the same seed", pa[i].Name)
		}
	}
	same := true
	for i := range pa {
		if !mat.EqualApprox(pa[i].Value, pc[i].Value, 0) {
			same = false
		}
	}
	if same {
		t.Error("different seeds produced identical weights")
	}
}

func TestArchitectureGradientShapes(t *testing.T) {
	model, err := NewArchitecture(ArchitectureSpec{
		Network: "mlp", Depth: 2, InputSize: 6, Classes: 2,
		Wildcat: true, Maps: 3, Alpha: 0.7, K: 1,
	})
	if err != nil {
		t.Fatalf("NewArchitecture: %v", err)
	}

	input := mat.NewDense(3, 6, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 6; j++ {
			input.Set(i, j, float64(i*6+j)/10.0)
		}
	}
	out, err := model.Forward(input)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	grad := mat.NewDense(3, 2, nil)
	grad.Copy(out)
	dx, err := model.Backward(grad)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}

	rows, cols := dx.Dims()
	if rows != 3 || cols != 6 {
		t.Errorf("input gradient shape: expected 3x6, got %dx%d", rows, cols)
	}

	for _, p := range model.Parameters() {
		vr, vc := p.Value.Dims()
		gr, gc := p.Grad.Dims()
		if vr != gr || vc != gc {
			t.Errorf("parameter %s: value %dx%d but grad %dx%d", p.Name, vr, vc, gr, gc)
		}
	}
}
