package de

// SelectionStrategy decides whether an evaluated trial replaces the
// incumbent of its slot.
type SelectionStrategy interface {
	Select(incumbent, trial *Individual, minimize bool) bool
}

// Greedy replaces the incumbent only when the trial is strictly better.
// Ties keep the incumbent.
type Greedy struct{}

func (Greedy) Select(incumbent, trial *Individual, minimize bool) bool {
	return Better(trial, incumbent, minimize)
}

// GreedyAcceptEqual also accepts a trial whose cost equals the incumbent's,
// which lets the population move across flat regions.
type GreedyAcceptEqual struct{}

func (GreedyAcceptEqual) Select(incumbent, trial *Individual, minimize bool) bool {
	if Better(trial, incumbent, minimize) {
		return true
	}
	return trial.Comparable() && incumbent.Comparable() && trial.Cost == incumbent.Cost
}

// SelectionByName returns a built-in selection strategy: "greedy" or
// "greedy-equal".
func SelectionByName(name string) (SelectionStrategy, error) {
	switch name {
	case "greedy", "":
		return Greedy{}, nil
	case "greedy-equal":
		return GreedyAcceptEqual{}, nil
	}
	return nil, configErrorf("Selection", "unknown strategy %q", name)
}

// SelectionNames lists the names accepted by SelectionByName.
func SelectionNames() []string {
	return []string{"greedy", "greedy-equal"}
}
