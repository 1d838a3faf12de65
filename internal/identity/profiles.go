package identity

import (
	"sort"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/storage"
)

// buildProfiles collapses the identity link graph into unified profiles: one
// profile per connected component of size 2+, canonical member the lexically
// smallest agent ID. The profile table is replaced wholesale so memberships
// follow the current link graph exactly.
func (r *Resolver) buildProfiles(rn *run) (int, int, error) {
	links, err := r.db.ListIdentityLinks()
	if err != nil {
		return 0, 0, err
	}

	adj := make(map[string][]string)
	for i := range links {
		l := &links[i]
		adj[l.SourceID] = append(adj[l.SourceID], l.TargetID)
		adj[l.TargetID] = append(adj[l.TargetID], l.SourceID)
	}

	var rows []storage.ProfileMember
	profiles := 0
	for _, component := range connectedComponents(adj, maxProfileDepth) {
		if len(component) < 2 {
			continue
		}
		profiles++
		canonical := component[0] // components are sorted
		profileType := profileTypeFor(len(component))
		for _, member := range component {
			rows = append(rows, storage.ProfileMember{
				CanonicalID: canonical,
				MemberID:    member,
				ProfileType: profileType,
				MemberCount: len(component),
				UpdatedAt:   rn.now,
			})
		}
	}

	if err := r.db.ReplaceUnifiedProfiles(rows); err != nil {
		return 0, 0, err
	}
	return profiles, len(rows), nil
}

func profileTypeFor(size int) string {
	switch {
	case size >= 5:
		return storage.ProfileNetwork
	case size >= 3:
		return storage.ProfileMultiAccount
	default:
		return storage.ProfileLinked
	}
}

// connectedComponents returns the connected components of the undirected
// adjacency map, each sorted, in order of their smallest member. Traversal
// is bounded at maxDepth hops from the seed; nodes beyond the bound stay
// unvisited and seed their own component later.
func connectedComponents(adj map[string][]string, maxDepth int) [][]string {
	seeds := make([]string, 0, len(adj))
	for id := range adj {
		seeds = append(seeds, id)
	}
	sort.Strings(seeds)

	visited := make(map[string]bool, len(adj))
	var components [][]string
	for _, seed := range seeds {
		if visited[seed] {
			continue
		}
		component := []string{seed}
		visited[seed] = true
		frontier := []string{seed}
		for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
			var next []string
			for _, id := range frontier {
				for _, nb := range adj[id] {
					if visited[nb] {
						continue
					}
					visited[nb] = true
					component = append(component, nb)
					next = append(next, nb)
				}
			}
			frontier = next
		}
		sort.Strings(component)
		components = append(components, component)
	}
	return components
}
