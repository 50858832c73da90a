// Copyright 2021 DigitalOcean
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

// hostLookup resolves an OSD to the name of the machine (or other CRUSH
// bucket) it lives in.
type hostLookup interface {
	hostForOsd(osd int) (string, bool)
}

// osdHosts is the hostname of each OSD as reported by 'ceph osd metadata'.
type osdHosts map[int]string

func (h osdHosts) hostForOsd(osd int) (string, bool) {
	host, ok := h[osd]
	return host, ok
}

// crushLocations resolves OSDs to their nearest CRUSH ancestor of the given
// bucket type (e.g. "host" or "rack").
type crushLocations struct {
	tree       *parsedOsdTree
	bucketType string
}

func (c *crushLocations) hostForOsd(osd int) (string, bool) {
	node, ok := c.tree.IDToNode[osd]
	if !ok || node.Type != "osd" {
		return "", false
	}
	parent := node.getNearestParentOfType(c.bucketType)
	if parent == nil {
		return "", false
	}
	return parent.Name, true
}

type pgFilter func(*pgStat) bool

// withState matches PGs with a state token containing s.
func withState(s string) pgFilter {
	return func(pg *pgStat) bool {
		return pg.hasStateToken(s)
	}
}

// withOsdsIn matches PGs that have any of the given OSDs in their up or
// acting set. An empty set matches everything.
func withOsdsIn(osds map[int]struct{}) pgFilter {
	return func(pg *pgStat) bool {
		if len(osds) == 0 {
			return true
		}
		for _, osd := range append(pg.members(actingSet), pg.members(upSet)...) {
			if _, ok := osds[osd]; ok {
				return true
			}
		}
		return false
	}
}

func pfAnd(filters ...pgFilter) pgFilter {
	return func(pg *pgStat) bool {
		for _, f := range filters {
			if !f(pg) {
				return false
			}
		}
		return true
	}
}

// setDifference returns the members of a not in b. Both must be sorted, as
// returned by osdSet; so is the result.
func setDifference(a, b []int) []int {
	diff := []int{}
	j := 0
	for _, v := range a {
		for j < len(b) && b[j] < v {
			j++
		}
		if j < len(b) && b[j] == v {
			continue
		}
		diff = append(diff, v)
	}
	return diff
}

// movement returns the OSDs the PG's data is leaving (acting but not up)
// and arriving at (up but not acting).
func (pgs *pgStat) movement() (leaving, arriving []int) {
	acting := pgs.members(actingSet)
	up := pgs.members(upSet)
	return setDifference(acting, up), setDifference(up, acting)
}

// settled is true when the PG's data is already where CRUSH wants it,
// whatever its state says.
func (pgs *pgStat) settled() bool {
	leaving, arriving := pgs.movement()
	return len(leaving) == 0 && len(arriving) == 0
}

type pgMovement struct {
	PgID          string   `json:"pgid"`
	Acting        []int    `json:"acting"`
	Leaving       []int    `json:"leaving"`
	LeavingHosts  []string `json:"leaving_hosts"`
	Up            []int    `json:"up"`
	Arriving      []int    `json:"arriving"`
	ArrivingHosts []string `json:"arriving_hosts"`
	State         string   `json:"state"`
}

// pgMovements lists the PGs matching filter along with the OSDs (and hosts)
// their data moves from and to. Settled PGs are left out unless
// includeSettled is set.
//
// Every moving OSD must resolve to a host. If one doesn't, the snapshots
// disagree with each other and no movements are returned at all.
func pgMovements(pgs []*pgStat, filter pgFilter, includeSettled bool, hosts hostLookup) ([]pgMovement, error) {
	movements := []pgMovement{}
	for _, pg := range pgs {
		if !filter(pg) {
			continue
		}

		leaving, arriving := pg.movement()
		if !includeSettled && len(leaving) == 0 && len(arriving) == 0 {
			continue
		}

		leavingHosts, err := resolveHosts(pg.PgID, leaving, hosts)
		if err != nil {
			return nil, err
		}
		arrivingHosts, err := resolveHosts(pg.PgID, arriving, hosts)
		if err != nil {
			return nil, err
		}

		movements = append(movements, pgMovement{
			PgID:          pg.PgID,
			Acting:        pg.Acting,
			Leaving:       leaving,
			LeavingHosts:  leavingHosts,
			Up:            pg.Up,
			Arriving:      arriving,
			ArrivingHosts: arrivingHosts,
			State:         pg.stateString(),
		})
	}
	return movements, nil
}

func resolveHosts(pgid string, osds []int, hosts hostLookup) ([]string, error) {
	names := make([]string, 0, len(osds))
	for _, osd := range osds {
		host, ok := hosts.hostForOsd(osd)
		if !ok {
			return nil, &unresolvedOsdError{pgid: pgid, osd: osd}
		}
		names = append(names, host)
	}
	return names, nil
}
