package clustering

import (
	"fmt"
	"sort"
	"strings"
)

// SharedInterests returns the interests held by at least two of members,
// ranked by holder count descending and then by first appearance (member
// order, then each member's interest order). At most MaxSharedInterests
// are returned; the result is empty, never nil, when nothing qualifies.
func SharedInterests(members []Attendee) []string {
	counts := make(map[string]int)
	var seen []string
	for _, m := range members {
		mine := make(map[string]struct{}, len(m.Interests))
		for _, tag := range m.Interests {
			if _, dup := mine[tag]; dup {
				continue
			}
			mine[tag] = struct{}{}
			if counts[tag] == 0 {
				seen = append(seen, tag)
			}
			counts[tag]++
		}
	}

	shared := make([]string, 0, MaxSharedInterests)
	for _, tag := range seen {
		if counts[tag] >= 2 {
			shared = append(shared, tag)
		}
	}
	sort.SliceStable(shared, func(i, j int) bool {
		return counts[shared[i]] > counts[shared[j]]
	})
	if len(shared) > MaxSharedInterests {
		shared = shared[:MaxSharedInterests]
	}
	return shared
}

// GroupName names a group after its top shared interests, or by its
// 1-based position when it has none.
func GroupName(shared []string, position int) string {
	if len(shared) == 0 {
		return fmt.Sprintf("Group %d", position)
	}
	if len(shared) > nameInterests {
		shared = shared[:nameInterests]
	}
	return strings.Join(shared, " & ")
}

// LabelGroups returns a copy of groups with SharedInterests recomputed from
// the members and Name set accordingly.
func LabelGroups(groups []Group) []Group {
	out := make([]Group, len(groups))
	for i, g := range groups {
		shared := SharedInterests(g.Members)
		out[i] = Group{
			Members:         g.Members,
			SharedInterests: shared,
			Name:            GroupName(shared, i+1),
		}
	}
	return out
}
