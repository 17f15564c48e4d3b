package tools

import "github.com/recondrone/drone/pkg/deps"

// Requirements returns the dependency checks for every binary in the set,
// each binary listed once, in role order.
func (s Set) Requirements() []deps.Requirement {
	seen := make(map[string]bool)
	var reqs []deps.Requirement
	for _, r := range Roles {
		t, ok := s[r]
		if !ok || seen[t.Binary] {
			continue
		}
		seen[t.Binary] = true
		reqs = append(reqs, deps.Requirement{
			Name:        t.Name,
			Binary:      t.Binary,
			VersionArgs: t.VersionArgs,
		})
	}
	return reqs
}
