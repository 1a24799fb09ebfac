package clustering

// Result is the outcome of one clustering run.
type Result struct {
	Groups []Group
	// Leftovers is how many attendees the greedy pass could not seat.
	Leftovers int
	// Overflow is how many leftovers were merged into a full group.
	Overflow int
}

// Run validates the request and partitions its attendees: greedy group
// building, then leftover redistribution, then labeling. It is pure and
// deterministic for a given attendee order and size bounds.
func Run(req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	p := newPool(req.Attendees)
	drafts, leftovers := buildGroups(p, req.MinSize, req.MaxSize)
	drafts, overflow := redistribute(p, drafts, leftovers, req.MaxSize)

	groups := make([]Group, len(drafts))
	for i, d := range drafts {
		groups[i] = Group{Members: p.resolve(d.members)}
	}

	return Result{
		Groups:    LabelGroups(groups),
		Leftovers: len(leftovers),
		Overflow:  overflow,
	}, nil
}

// Compute returns the labeled breakout groups for req.
func Compute(req Request) ([]Group, error) {
	res, err := Run(req)
	if err != nil {
		return nil, err
	}
	return res.Groups, nil
}
