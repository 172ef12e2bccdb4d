// Package testfuncs provides benchmark objective functions from
// http://en.wikipedia.org/wiki/Test_functions_for_optimization.
package testfuncs

import (
	"fmt"
	"math"
	"sort"

	"github.com/cwbudde/diffevo/internal/de"
)

var (
	sin  = math.Sin
	cos  = math.Cos
	abs  = math.Abs
	exp  = math.Exp
	sqrt = math.Sqrt
)

// Function is a named benchmark with default bounds and a known optimum.
type Function struct {
	Name  string
	Arity int // 0 when any dimension is accepted
	Min   float64
	Max   float64
	// Optimum is the global minimum value, per dimension when PerDimension
	// is set.
	Optimum      float64
	PerDimension bool
	Eval         func(x []float64) float64
}

// Objective adapts the function for the optimizer.
func (f Function) Objective() de.ObjectiveFunction {
	return de.NewObjective(f.Name, f.Arity, f.Eval)
}

// Constraints returns the default bounds for dims dimensions.
func (f Function) Constraints(dims int) de.Constraints {
	return de.Uniform(dims, f.Min, f.Max)
}

// OptimumFor returns the global minimum for dims dimensions.
func (f Function) OptimumFor(dims int) float64 {
	if f.PerDimension {
		return f.Optimum * float64(dims)
	}
	return f.Optimum
}

// Dimensions returns the fixed arity, or fallback for variadic functions.
func (f Function) Dimensions(fallback int) int {
	if f.Arity > 0 {
		return f.Arity
	}
	return fallback
}

var catalog = map[string]Function{}

func register(f Function) {
	catalog[f.Name] = f
}

// Lookup returns the function registered under name.
func Lookup(name string) (Function, error) {
	f, ok := catalog[name]
	if !ok {
		return Function{}, fmt.Errorf("unknown function %q (available: %v)", name, Names())
	}
	return f, nil
}

// Names returns the sorted catalog names.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every function in name order.
func All() []Function {
	fs := make([]Function, 0, len(catalog))
	for _, name := range Names() {
		fs = append(fs, catalog[name])
	}
	return fs
}

func init() {
	register(Function{Name: "sphere", Min: -5.12, Max: 5.12, Eval: Sphere})
	register(Function{Name: "rastrigin", Min: -5.12, Max: 5.12, Eval: Rastrigin})
	register(Function{Name: "rosenbrock", Min: -5, Max: 10, Eval: Rosenbrock})
	register(Function{Name: "ackley", Min: -32.768, Max: 32.768, Eval: Ackley})
	register(Function{Name: "griewank", Min: -600, Max: 600, Eval: Griewank})
	register(Function{Name: "schwefel", Min: -500, Max: 500, Eval: Schwefel})
	register(Function{Name: "styblinski-tang", Min: -5, Max: 5, Optimum: -39.16617, PerDimension: true, Eval: StyblinskiTang})
	register(Function{Name: "eggholder", Arity: 2, Min: -512, Max: 512, Optimum: -959.6407, Eval: Eggholder})
	register(Function{Name: "himmelblau", Arity: 2, Min: -5, Max: 5, Eval: Himmelblau})
	register(Function{Name: "beale", Arity: 2, Min: -4.5, Max: 4.5, Eval: Beale})
	register(Function{Name: "booth", Arity: 2, Min: -10, Max: 10, Eval: Booth})
	register(Function{Name: "easom", Arity: 2, Min: -100, Max: 100, Optimum: -1, Eval: Easom})
}

func Sphere(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

func Rastrigin(x []float64) float64 {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*cos(2*math.Pi*v)
	}
	return sum
}

func Rosenbrock(x []float64) float64 {
	var sum float64
	for i := 0; i < len(x)-1; i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		sum += 100*a*a + b*b
	}
	return sum
}

func Ackley(x []float64) float64 {
	n := float64(len(x))
	var sq, cs float64
	for _, v := range x {
		sq += v * v
		cs += cos(2 * math.Pi * v)
	}
	return -20*exp(-0.2*sqrt(sq/n)) - exp(cs/n) + 20 + math.E
}

func Griewank(x []float64) float64 {
	sum, prod := 0.0, 1.0
	for i, v := range x {
		sum += v * v / 4000
		prod *= cos(v / sqrt(float64(i+1)))
	}
	return sum - prod + 1
}

func Schwefel(x []float64) float64 {
	sum := 418.9829 * float64(len(x))
	for _, v := range x {
		sum -= v * sin(sqrt(abs(v)))
	}
	return sum
}

// StyblinskiTang has its minimum of about -39.166 per dimension at -2.9035.
func StyblinskiTang(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v*v*v*v - 16*v*v + 5*v
	}
	return sum / 2
}

func Eggholder(v []float64) float64 {
	x, y := v[0], v[1]
	return -(y+47)*sin(sqrt(abs(y+x/2+47))) - x*sin(sqrt(abs(x-(y+47))))
}

func Himmelblau(v []float64) float64 {
	x, y := v[0], v[1]
	a := x*x + y - 11
	b := x + y*y - 7
	return a*a + b*b
}

func Beale(v []float64) float64 {
	x, y := v[0], v[1]
	a := 1.5 - x + x*y
	b := 2.25 - x + x*y*y
	c := 2.625 - x + x*y*y*y
	return a*a + b*b + c*c
}

func Booth(v []float64) float64 {
	x, y := v[0], v[1]
	a := x + 2*y - 7
	b := 2*x + y - 5
	return a*a + b*b
}

func Easom(v []float64) float64 {
	x, y := v[0], v[1]
	return -cos(x) * cos(y) * exp(-((x-math.Pi)*(x-math.Pi) + (y-math.Pi)*(y-math.Pi)))
}
