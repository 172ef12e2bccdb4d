package de

// ObjectiveFunction maps a gene vector to a scalar cost.
//
// Implementations must be deterministic and safe to call from several
// goroutines at once; Evaluate must not modify genes. Arity is the expected
// gene count, or 0 when any length is accepted.
type ObjectiveFunction interface {
	Name() string
	Arity() int
	Evaluate(genes []float64) (float64, error)
}

type objective struct {
	name  string
	arity int
	fn    func([]float64) (float64, error)
}

func (o *objective) Name() string { return o.name }

func (o *objective) Arity() int { return o.arity }

func (o *objective) Evaluate(genes []float64) (float64, error) { return o.fn(genes) }

// NewObjective wraps an infallible cost function.
func NewObjective(name string, arity int, fn func([]float64) float64) ObjectiveFunction {
	return &objective{
		name:  name,
		arity: arity,
		fn:    func(g []float64) (float64, error) { return fn(g), nil },
	}
}

// NewFallibleObjective wraps a cost function that may fail. A returned error
// marks only the individual being evaluated as invalid.
func NewFallibleObjective(name string, arity int, fn func([]float64) (float64, error)) ObjectiveFunction {
	return &objective{name: name, arity: arity, fn: fn}
}
