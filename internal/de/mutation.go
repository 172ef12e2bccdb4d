package de

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// MutationStrategy builds the trial individual competing with slot target.
//
// Mutate must be a pure function of its arguments and the random source: it
// must not modify the population, and the returned individual must lie within
// the constraints. best is the best individual found so far.
type MutationStrategy interface {
	Mutate(pop Population, target int, best *Individual, c Constraints, rng *rand.Rand) *Individual
	// MinPopulation is the smallest population the strategy can draw its
	// distinct donors from.
	MinPopulation() int
}

// Mutation holds the parameters shared by the built-in strategies.
type Mutation struct {
	Weight    float64
	Crossover float64
	Repair    RepairPolicy
}

// RandOneBin is DE/rand/1/bin: donor = r1 + F*(r2 - r3) with binomial
// crossover. It is the default strategy.
type RandOneBin struct{ Mutation }

func (s RandOneBin) MinPopulation() int { return 4 }

func (s RandOneBin) Mutate(pop Population, target int, _ *Individual, c Constraints, rng *rand.Rand) *Individual {
	r := pickDistinct(rng, len(pop), target, 3)
	donor := randOne(pop, r, s.Weight)
	return s.finish(binomial(pop[target].Genes, donor, s.Crossover, rng), c, rng)
}

// RandOneExp is DE/rand/1/exp: the DE/rand/1 donor with exponential
// crossover, which copies a contiguous run of dimensions.
type RandOneExp struct{ Mutation }

func (s RandOneExp) MinPopulation() int { return 4 }

func (s RandOneExp) Mutate(pop Population, target int, _ *Individual, c Constraints, rng *rand.Rand) *Individual {
	r := pickDistinct(rng, len(pop), target, 3)
	donor := randOne(pop, r, s.Weight)
	return s.finish(exponential(pop[target].Genes, donor, s.Crossover, rng), c, rng)
}

// BestOneBin is DE/best/1/bin: donor = best + F*(r1 - r2).
type BestOneBin struct{ Mutation }

func (s BestOneBin) MinPopulation() int { return 3 }

func (s BestOneBin) Mutate(pop Population, target int, best *Individual, c Constraints, rng *rand.Rand) *Individual {
	r := pickDistinct(rng, len(pop), target, 2)
	base := pop[target].Genes
	if best != nil {
		base = best.Genes
	}
	donor := make([]float64, len(base))
	floats.SubTo(donor, pop[r[0]].Genes, pop[r[1]].Genes)
	floats.AddScaledTo(donor, base, s.Weight, donor)
	return s.finish(binomial(pop[target].Genes, donor, s.Crossover, rng), c, rng)
}

// CurrentToBestOneBin is DE/current-to-best/1/bin:
// donor = x + F*(best - x) + F*(r1 - r2).
type CurrentToBestOneBin struct{ Mutation }

func (s CurrentToBestOneBin) MinPopulation() int { return 3 }

func (s CurrentToBestOneBin) Mutate(pop Population, target int, best *Individual, c Constraints, rng *rand.Rand) *Individual {
	r := pickDistinct(rng, len(pop), target, 2)
	x := pop[target].Genes
	bestGenes := x
	if best != nil {
		bestGenes = best.Genes
	}
	donor := make([]float64, len(x))
	diff := make([]float64, len(x))
	floats.SubTo(diff, bestGenes, x)
	floats.AddScaledTo(donor, x, s.Weight, diff)
	floats.SubTo(diff, pop[r[0]].Genes, pop[r[1]].Genes)
	floats.AddScaled(donor, s.Weight, diff)
	return s.finish(binomial(x, donor, s.Crossover, rng), c, rng)
}

// RandTwoBin is DE/rand/2/bin: donor = r1 + F*(r2 - r3) + F*(r4 - r5).
type RandTwoBin struct{ Mutation }

func (s RandTwoBin) MinPopulation() int { return 6 }

func (s RandTwoBin) Mutate(pop Population, target int, _ *Individual, c Constraints, rng *rand.Rand) *Individual {
	r := pickDistinct(rng, len(pop), target, 5)
	donor := randOne(pop, r, s.Weight)
	diff := make([]float64, len(donor))
	floats.SubTo(diff, pop[r[3]].Genes, pop[r[4]].Genes)
	floats.AddScaled(donor, s.Weight, diff)
	return s.finish(binomial(pop[target].Genes, donor, s.Crossover, rng), c, rng)
}

// DitherRandOneBin is DE/rand/1/bin with the weight drawn per trial
// uniformly from [Weight, 1].
type DitherRandOneBin struct{ Mutation }

func (s DitherRandOneBin) MinPopulation() int { return 4 }

func (s DitherRandOneBin) Mutate(pop Population, target int, _ *Individual, c Constraints, rng *rand.Rand) *Individual {
	weight := s.Weight + rng.Float64()*(1-s.Weight)
	r := pickDistinct(rng, len(pop), target, 3)
	donor := randOne(pop, r, weight)
	return s.finish(binomial(pop[target].Genes, donor, s.Crossover, rng), c, rng)
}

func (m Mutation) finish(genes []float64, c Constraints, rng *rand.Rand) *Individual {
	c.Repair(genes, m.Repair, rng)
	return newIndividual(genes)
}

var mutations = map[string]func(Mutation) MutationStrategy{
	"rand1bin":            func(m Mutation) MutationStrategy { return RandOneBin{m} },
	"rand1exp":            func(m Mutation) MutationStrategy { return RandOneExp{m} },
	"best1bin":            func(m Mutation) MutationStrategy { return BestOneBin{m} },
	"current-to-best1bin": func(m Mutation) MutationStrategy { return CurrentToBestOneBin{m} },
	"rand2bin":            func(m Mutation) MutationStrategy { return RandTwoBin{m} },
	"dither-rand1bin":     func(m Mutation) MutationStrategy { return DitherRandOneBin{m} },
}

// MutationNames lists the names accepted by MutationByName.
func MutationNames() []string {
	names := make([]string, 0, len(mutations))
	for name := range mutations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MutationByName returns the built-in strategy registered under name.
func MutationByName(name string, m Mutation) (MutationStrategy, error) {
	build, ok := mutations[name]
	if !ok {
		return nil, configErrorf("Mutation", "unknown strategy %q (available: %v)", name, MutationNames())
	}
	return build(m), nil
}

// randOne returns pop[r0] + weight*(pop[r1] - pop[r2]).
func randOne(pop Population, r []int, weight float64) []float64 {
	donor := make([]float64, pop[r[0]].Len())
	floats.SubTo(donor, pop[r[1]].Genes, pop[r[2]].Genes)
	floats.AddScaledTo(donor, pop[r[0]].Genes, weight, donor)
	return donor
}

// binomial takes each dimension from donor with probability cr and from
// target otherwise. One randomly chosen dimension always comes from donor.
func binomial(target, donor []float64, cr float64, rng *rand.Rand) []float64 {
	trial := make([]float64, len(target))
	forced := rng.Intn(len(target))
	for j := range trial {
		if rng.Float64() < cr || j == forced {
			trial[j] = donor[j]
		} else {
			trial[j] = target[j]
		}
	}
	return trial
}

// exponential copies donor dimensions starting at a random position and
// continuing while draws stay below cr, wrapping around. At least one
// dimension is copied.
func exponential(target, donor []float64, cr float64, rng *rand.Rand) []float64 {
	n := len(target)
	trial := make([]float64, n)
	copy(trial, target)
	j := rng.Intn(n)
	for l := 0; l < n; l++ {
		trial[j] = donor[j]
		j = (j + 1) % n
		if rng.Float64() >= cr {
			break
		}
	}
	return trial
}

// pickDistinct draws k distinct indices in [0, n) that differ from exclude.
func pickDistinct(rng *rand.Rand, n, exclude, k int) []int {
	if n-1 < k {
		panic(fmt.Sprintf("de: cannot pick %d distinct donors from a population of %d", k, n))
	}
	picked := make([]int, 0, k)
	for len(picked) < k {
		r := rng.Intn(n)
		if r == exclude || contains(picked, r) {
			continue
		}
		picked = append(picked, r)
	}
	return picked
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
