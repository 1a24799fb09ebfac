package clustering

// interestSet is an attendee's interests in lookup form.
type interestSet map[string]struct{}

func newInterestSet(interests []string) interestSet {
	set := make(interestSet, len(interests))
	for _, tag := range interests {
		set[tag] = struct{}{}
	}
	return set
}

// jaccard returns |a ∩ b| / |a ∪ b|, or 0 when both sets are empty.
func jaccard(a, b interestSet) float64 {
	if len(a) > len(b) {
		a, b = b, a
	}
	intersection := 0
	for tag := range a {
		if _, ok := b[tag]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// affinity is the mean Jaccard similarity of candidate against members.
func affinity(candidate interestSet, members []interestSet) float64 {
	if len(members) == 0 {
		return 0
	}
	var sum float64
	for _, m := range members {
		sum += jaccard(candidate, m)
	}
	return sum / float64(len(members))
}

// PairSimilarity is the Jaccard similarity of two attendees' interests. It
// is symmetric, lies in [0, 1], and is 0 when neither has any interest.
func PairSimilarity(a, b Attendee) float64 {
	return jaccard(newInterestSet(a.Interests), newInterestSet(b.Interests))
}

// CandidateAffinity is the mean PairSimilarity of candidate against every
// member of group. An empty group scores 0.
func CandidateAffinity(candidate Attendee, group []Attendee) float64 {
	members := make([]interestSet, len(group))
	for i, m := range group {
		members[i] = newInterestSet(m.Interests)
	}
	return affinity(newInterestSet(candidate.Interests), members)
}

// pool holds the attendees of one run with their interest sets resolved
// once, so the greedy scans work on indices.
type pool struct {
	attendees []Attendee
	sets      []interestSet
}

func newPool(attendees []Attendee) *pool {
	p := &pool{
		attendees: attendees,
		sets:      make([]interestSet, len(attendees)),
	}
	for i, a := range attendees {
		p.sets[i] = newInterestSet(a.Interests)
	}
	return p
}

// affinity scores attendee idx against the members of a draft group.
func (p *pool) affinity(idx int, members []int) float64 {
	sets := make([]interestSet, len(members))
	for i, m := range members {
		sets[i] = p.sets[m]
	}
	return affinity(p.sets[idx], sets)
}

func (p *pool) resolve(members []int) []Attendee {
	out := make([]Attendee, len(members))
	for i, idx := range members {
		out[i] = p.attendees[idx]
	}
	return out
}
