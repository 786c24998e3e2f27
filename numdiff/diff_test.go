package numdiff

import (
	"math"
	"reflect"
	"testing"
)

func objV2(x, y []float64) {
	y[0] = x[0] * math.Sin(x[1])
	y[1] = x[1] * math.Cos(x[0])
	y[2] = math.Pow(x[0], 3) * math.Pow(x[1], -0.5)
}

func jacV2(x []float64) []float64 {
	return []float64{
		math.Sin(x[1]), x[0] * math.Cos(x[1]),
		-x[1] * math.Sin(x[0]), math.Cos(x[0]),
		3 * math.Pow(x[0], 2) * math.Pow(x[1], -0.5), -0.5 * math.Pow(x[0], 3) * math.Pow(x[1], -1.5),
	}
}

func objZero(x, y []float64) {
	y[0] = x[0] * x[1]
	y[1] = math.Cos(x[0] * x[1])
}

func jacZero(x []float64) []float64 {
	return []float64{
		x[1], x[0],
		-x[1] * math.Sin(x[0]*x[1]), -x[0] * math.Sin(x[0]*x[1]),
	}
}

// Case Sources : https://github.com/scipy/scipy/blob/main/scipy/optimize/tests/test__numdiff.py (test_absolute_step_sign)
func TestComputeAbsStp(t *testing.T) {

	x0 := []float64{1e-5, 0, 1, 1e5}
	dummy := make([]float64, 4)

	// auto select relative step
	for method, relStep := range map[Method]float64{
		Forward: sqrtEps,
		Central: cubeEps,
	} {

		expected := []float64{
			relStep,
			relStep * 1,
			relStep * 1,
			relStep * math.Abs(x0[3]),
		}

		jc := Jacobian{N: 4, M: 1, Method: method, Func: func(x, y []float64) {}}
		_ = jc.Check(x0, dummy)

		jc.absoluteStep(x0)
		if !relativeEqual(jc.absStep, expected, 1e-12) {
			t.Fatal("unexpected abs step")
		}

		negX0 := make([]float64, len(x0))
		for i, v := range x0 {
			negX0[i] = -v
			if method == Forward {
				expected[i] = math.Copysign(expected[i], -v)
			}
		}

		jc.absoluteStep(negX0)
		if !relativeEqual(jc.absStep, expected, 1e-12) {
			t.Fatal("unexpected abs step")
		}
	}

	// user-specified relative step
	for _, relStep := range []float64{0.1, 1, 10, 100} {

		expected := []float64{
			relStep * x0[0],
			sqrtEps,
			relStep * x0[2],
			relStep * x0[3],
		}

		jc := Jacobian{N: 4, M: 1, Method: Forward, RelStep: relStep}
		_ = jc.Check(x0, dummy)

		jc.absoluteStep(x0)
		if !relativeEqual(jc.absStep, expected, 1e-12) {
			t.Fatal("unexpected abs step")
		}
	}
}

func TestCheck(t *testing.T) {
	obj := func(x, y []float64) {}
	tests := []struct {
		jc   Jacobian
		x0   []float64
		diff []float64
	}{
		{Jacobian{N: 0, M: 1, Func: obj}, nil, nil},
		{Jacobian{N: 1, M: -1, Func: obj}, []float64{0}, nil},
		{Jacobian{N: -1, M: 1, Func: obj, Method: Central}, nil, nil},
		{Jacobian{N: 1, M: 2, Func: obj, Method: Method(-3)}, []float64{0}, []float64{0, 0}},
		{Jacobian{N: 1, M: 1, Func: obj, Method: Method(7)}, []float64{0}, []float64{0}},
		{Jacobian{N: 1, M: 1}, []float64{0}, []float64{0}},
		{Jacobian{N: 2, M: 1, Func: obj}, []float64{0}, []float64{0, 0}},
		{Jacobian{N: 2, M: 2, Func: obj}, []float64{0, 0}, []float64{0, 0}},
	}
	for i, tt := range tests {
		if err := tt.jc.Diff(tt.x0, tt.diff); err == nil {
			t.Fatalf("case %d: expected check error", i)
		}
	}
}

// Case Sources : https://github.com/scipy/scipy/blob/main/scipy/optimize/tests/test__numdiff.py
// (TestApproxDerivativesDense.test_check_derivative)
func TestAccuracy(t *testing.T) {

	checkDerivative := func(
		n, m int, x0 []float64, method Method,
		fun func(x, y []float64),
		jac func(x []float64) []float64) float64 {

		jacTest := jac(x0)
		jacDiff := make([]float64, n*m)

		approx := Jacobian{N: n, M: m, Method: method, Func: fun}
		if err := approx.Diff(x0, jacDiff); err != nil {
			panic(err)
		}

		maxErr := 0.0
		for i := 0; i < n*m; i++ {
			absErr := math.Abs(jacTest[i] - jacDiff[i])
			absErr /= math.Max(1, math.Abs(jacDiff[i]))
			if absErr > maxErr {
				maxErr = absErr
			}
		}
		return maxErr
	}

	x0 := []float64{-10.0, 10}
	if acc := checkDerivative(2, 3, x0, Central, objV2, jacV2); acc > 1e-9 {
		t.Fatal("central accuracy not enough")
	}
	if acc := checkDerivative(2, 3, x0, Forward, objV2, jacV2); acc > 1e-6 {
		t.Fatal("forward accuracy not enough")
	}

	x0 = []float64{0, 0}
	if acc := checkDerivative(2, 2, x0, Central, objZero, jacZero); acc > 0 {
		t.Fatal("central accuracy not enough")
	}

	// x0 must be restored after differencing
	x0 = []float64{0.3, -0.7}
	checkDerivative(2, 2, x0, Forward, objZero, jacZero)
	if !reflect.DeepEqual(x0, []float64{0.3, -0.7}) {
		t.Fatal("x0 not restored")
	}
}

func TestGradient(t *testing.T) {

	rosen := func(x []float64) float64 {
		a, b := 1-x[0], x[1]-x[0]*x[0]
		return a*a + 100*b*b
	}
	rosenGrad := func(x []float64) []float64 {
		b := x[1] - x[0]*x[0]
		return []float64{-2*(1-x[0]) - 400*x[0]*b, 200 * b}
	}

	x0 := []float64{-1.2, 1}
	for _, method := range []Method{Forward, Central} {
		grad := make([]float64, 2)
		gr := Gradient{N: 2, Func: rosen, Method: method}
		if err := gr.Diff(x0, grad); err != nil {
			t.Fatal("gradient diff failed", err)
		}
		// scratch is reused by the second call
		if err := gr.Diff(x0, grad); err != nil {
			t.Fatal("gradient diff failed", err)
		}
		if !relativeEqual(grad, rosenGrad(x0), 1e-6) {
			t.Fatal("unexpected gradient")
		}
	}

	gr := Gradient{N: 2}
	if err := gr.Diff(x0, make([]float64, 2)); err == nil {
		t.Fatal("expected missing function error")
	}
}

func relativeEqual[T float64 | []float64](a, b T, tol float64) bool {
	equalWithinRel := func(a, b float64) bool {
		if a == b {
			return true
		}
		delta := math.Abs(a - b)
		return delta/math.Max(math.Abs(a), math.Abs(b)) <= tol
	}
	switch reflect.TypeOf((*T)(nil)).Elem().Kind() {
	case reflect.Float64:
		return equalWithinRel(any(a).(float64), any(b).(float64))
	case reflect.Slice:
		a, b := any(a).([]float64), any(b).([]float64)
		if len(a) != len(b) {
			return false
		}
		for i, a := range a {
			if !equalWithinRel(a, b[i]) {
				return false
			}
		}
		return true
	default:
		panic("unknown type")
	}
}
