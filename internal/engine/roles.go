package engine

import "math/rand/v2"

// AssignRoles picks k impostors out of ids. The ids are permuted with a
// Fisher-Yates shuffle and the first k become impostors, so every id is
// equally likely. k must already be clamped to [1, floor(n/2)]; it is clamped
// again here so a bad caller can never produce an all-impostor round.
//
// A nil r uses the global source; a seeded r makes the result reproducible.
func AssignRoles(ids []string, k int, r *rand.Rand) map[string]Role {
	order := make([]string, len(ids))
	copy(order, ids)

	swap := func(i, j int) { order[i], order[j] = order[j], order[i] }
	if r == nil {
		rand.Shuffle(len(order), swap)
	} else {
		r.Shuffle(len(order), swap)
	}

	k = ClampImpostors(k, len(order))
	if k > len(order)/2 {
		k = len(order) / 2
	}

	roles := make(map[string]Role, len(order))
	for i, id := range order {
		if i < k {
			roles[id] = RoleImpostor
		} else {
			roles[id] = RoleInnocent
		}
	}
	return roles
}
