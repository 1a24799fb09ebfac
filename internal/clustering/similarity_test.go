package clustering

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func attendee(id string, interests ...string) Attendee {
	return Attendee{ID: id, DisplayName: "user " + id, Interests: interests}
}

func TestPairSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []string
		expected float64
	}{
		{"identical sets", []string{"yoga", "hiking"}, []string{"hiking", "yoga"}, 1.0},
		{"disjoint sets", []string{"yoga"}, []string{"coding"}, 0.0},
		{"partial overlap", []string{"a", "b", "c"}, []string{"b", "c", "d"}, 0.5},
		{"both empty", nil, nil, 0.0},
		{"one empty", []string{"yoga"}, nil, 0.0},
		{"case sensitive", []string{"Yoga"}, []string{"yoga"}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := attendee("a", tt.a...)
			b := attendee("b", tt.b...)
			assert.InDelta(t, tt.expected, PairSimilarity(a, b), 1e-9)
			assert.InDelta(t, PairSimilarity(b, a), PairSimilarity(a, b), 1e-9, "must be symmetric")
		})
	}
}

func TestPairSimilarity_Bounds(t *testing.T) {
	people := randomAttendees(40, 8, 42)
	for i := range people {
		for j := range people {
			s := PairSimilarity(people[i], people[j])
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		}
	}
}

func TestCandidateAffinity(t *testing.T) {
	candidate := attendee("c", "yoga", "hiking")
	group := []Attendee{
		attendee("m1", "yoga", "hiking"),   // 1.0
		attendee("m2", "coding"),           // 0.0
		attendee("m3", "yoga", "climbing"), // 1/3
	}

	assert.InDelta(t, (1.0+0.0+1.0/3.0)/3.0, CandidateAffinity(candidate, group), 1e-9)
	assert.Equal(t, 0.0, CandidateAffinity(candidate, nil), "empty group scores 0")
}

func TestPoolAffinityMatchesCandidateAffinity(t *testing.T) {
	people := randomAttendees(12, 6, 7)
	p := newPool(people)
	members := []int{1, 4, 7}

	want := CandidateAffinity(people[0], p.resolve(members))
	assert.InDelta(t, want, p.affinity(0, members), 1e-12)
}
