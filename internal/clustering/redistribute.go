package clustering

// redistribute places every leftover attendee, in order, into the group
// with the highest affinity among groups still below maxSize. When every
// group is full the leftover is merged into the last group, relaxing the
// ceiling rather than dropping or isolating the attendee. It returns the
// updated groups and how many placements went over maxSize.
func redistribute(p *pool, drafts []draft, leftovers []int, maxSize int) ([]draft, int) {
	overflow := 0
	for _, idx := range leftovers {
		target, bestScore := -1, -1.0
		for gi := range drafts {
			if len(drafts[gi].members) >= maxSize {
				continue
			}
			if score := p.affinity(idx, drafts[gi].members); score > bestScore {
				target, bestScore = gi, score
			}
		}

		if target < 0 {
			if len(drafts) == 0 {
				drafts = append(drafts, draft{})
			} else {
				overflow++
			}
			target = len(drafts) - 1
		}

		drafts[target].members = append(drafts[target].members, idx)
	}
	return drafts, overflow
}
