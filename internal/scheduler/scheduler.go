// Package scheduler implements the Manager's capacity scheduler: a pure
// function from per-type task backlog and total worker capacity to a
// target worker-type distribution. It holds no state of its own beyond
// what the caller passes in and out on each dispatch tick, so the
// dispatch loop is the only thing that decides when it runs.
package scheduler

import "sort"

// rawType mirrors internal/task.RawType without importing that package,
// keeping scheduler free of a dependency on the task-queue representation
// so it can be unit tested against bare backlog maps.
const rawType = "RAW"

// Schedule computes the target worker-type distribution for one dispatch
// tick.
//
// backlog is real (non-KILL) task count per type; capacity is the total
// worker slot budget; prevPlan is the previous tick's output (nil on the
// first tick). If the newly computed plan is equal to prevPlan, prevPlan
// itself is returned so callers can cheaply detect "no change" by
// pointer identity as well as by value.
func Schedule(backlog map[string]int, capacity int, prevPlan map[string]int) map[string]int {
	total := 0
	for _, b := range backlog {
		total += b
	}

	var plan map[string]int
	if total == 0 {
		plan = allIdlePlan(backlog)
	} else {
		plan = proportionalPlan(backlog, capacity, total)
	}

	if plansEqual(plan, prevPlan) {
		return prevPlan
	}
	return plan
}

// allIdlePlan is the target distribution when every queue is empty: zero
// for every type except RAW, which gets a floor of one so the Manager
// always retains capacity for default work.
func allIdlePlan(backlog map[string]int) map[string]int {
	plan := make(map[string]int, len(backlog)+1)
	for t := range backlog {
		plan[t] = 0
	}
	plan[rawType] = 1
	return plan
}

// proportionalPlan assigns capacity in proportion to each type's share
// of total backlog, floored at a minimum of one per known type (so a
// type whose backlog just drained to zero keeps one live worker rather
// than dropping to zero in a single tick), with any leftover or
// overflow from flooring resolved by largest fractional remainder and
// ties broken lexicographically.
//
// Every type ever seen participates, not only ones with positive
// backlog right now: a type's queue is created once and never removed,
// so a type that has gone idle this tick still has a floor entitlement
// until the dispatch loop's spin_down/get_next_worker_q drains it down.
func proportionalPlan(backlog map[string]int, capacity, total int) map[string]int {
	types := make([]string, 0, len(backlog))
	for t := range backlog {
		types = append(types, t)
	}
	sort.Strings(types)

	plan := make(map[string]int, len(backlog))

	type share struct {
		typ   string
		value int
		rem   int64
	}
	shares := make([]share, 0, len(types))

	assigned := 0
	for _, t := range types {
		b := backlog[t]
		num := int64(capacity) * int64(b)
		v := int(num / int64(total))
		if v < 1 {
			v = 1
		}
		plan[t] = v
		assigned += v
		shares = append(shares, share{typ: t, value: v, rem: num % int64(total)})
	}

	leftover := capacity - assigned
	switch {
	case leftover > 0:
		// Distribute slack to the types with the largest fractional
		// remainder first, lexicographic order breaking ties.
		sort.SliceStable(shares, func(i, j int) bool {
			if shares[i].rem != shares[j].rem {
				return shares[i].rem > shares[j].rem
			}
			return shares[i].typ < shares[j].typ
		})
		for i := 0; i < leftover && i < len(shares); i++ {
			plan[shares[i].typ]++
		}
	case leftover < 0:
		// Forcing every type's floor to at least one can push the sum
		// past capacity. Claw back from the types with the largest
		// assigned share first so real demand absorbs the shortfall
		// before any type's floor-of-one guarantee is touched.
		sort.SliceStable(shares, func(i, j int) bool {
			if shares[i].value != shares[j].value {
				return shares[i].value > shares[j].value
			}
			return shares[i].typ < shares[j].typ
		})
		need := -leftover
		for need > 0 {
			progressed := false
			for i := range shares {
				if need == 0 {
					break
				}
				if plan[shares[i].typ] > 1 {
					plan[shares[i].typ]--
					need--
					progressed = true
				}
			}
			if !progressed {
				// Capacity is smaller than the number of known types;
				// every type is already pinned at its floor of one.
				break
			}
		}
	}

	return plan
}

func plansEqual(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for t, v := range a {
		if b[t] != v {
			return false
		}
	}
	return true
}
