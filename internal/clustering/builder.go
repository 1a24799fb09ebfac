package clustering

// draft is a group under construction, as member indices into the pool.
type draft struct {
	members []int
}

// buildGroups runs greedy seeding and growth. It returns the groups formed
// and the attendees that could not start another group of minSize.
//
// Attendee order is the only tie-break: seeds are taken from the front of
// the unassigned list and, among equally scored candidates, the first one
// found wins.
func buildGroups(p *pool, minSize, maxSize int) ([]draft, []int) {
	n := len(p.attendees)
	if n < minSize {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return []draft{{members: all}}, nil
	}

	unassigned := make([]int, n)
	for i := range unassigned {
		unassigned[i] = i
	}

	var drafts []draft
	for len(unassigned) >= minSize {
		members := []int{unassigned[0]}
		unassigned = unassigned[1:]

		for len(members) < maxSize && len(unassigned) > 0 {
			// Leave a remainder too small for its own group to the
			// redistributor instead of absorbing it here.
			if len(members) >= minSize && len(unassigned) < minSize {
				break
			}

			best, bestScore := -1, -1.0
			for i, idx := range unassigned {
				if score := p.affinity(idx, members); score > bestScore {
					best, bestScore = i, score
				}
			}

			members = append(members, unassigned[best])
			unassigned = append(unassigned[:best], unassigned[best+1:]...)
		}

		drafts = append(drafts, draft{members: members})
	}

	return drafts, unassigned
}
