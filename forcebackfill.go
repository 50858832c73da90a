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

import (
	"log/slog"
	"sort"

	"github.com/pkg/errors"
)

// osdsOver returns the OSDs whose reported utilization is above
// minUtilization (a percentage), fullest first. At most count OSDs are
// returned; count <= 0 means no limit. OSDs with equal utilization keep
// their df order.
func osdsOver(df *osdDf, minUtilization float64, count int) []*osdDfNode {
	over := []*osdDfNode{}
	for _, n := range df.Nodes {
		if n.Utilization > minUtilization {
			over = append(over, n)
		}
	}

	sort.SliceStable(over, func(i, j int) bool {
		return over[i].Utilization > over[j].Utilization
	})
	if count <= 0 || count >= len(over) {
		return over
	}
	return over[:count]
}

func containsOsd(osds []int, osd int) bool {
	for _, o := range osds {
		if o == osd {
			return true
		}
	}
	return false
}

// relieves is true if backfilling this PG will move data off osd.
func (pgs *pgStat) relieves(osd int) bool {
	return containsOsd(pgs.members(actingSet), osd) && !containsOsd(pgs.members(upSet), osd)
}

// awaitingForce is true for PGs queued for (or in) backfill that haven't
// been forced yet.
func (pgs *pgStat) awaitingForce() bool {
	return pgs.hasStateToken("backfill") && !pgs.hasStateToken("forced_backfill")
}

type backfillCandidate struct {
	PgID   string `json:"pgid"`
	Osds   []int  `json:"osds"`
	Acting []int  `json:"acting"`
	Up     []int  `json:"up"`
	State  string `json:"state"`
}

// importantBackfills picks the PGs whose backfill moves data off any of the
// given OSDs, in PG dump order, stopping once maxPgs have been picked. This
// is first-found rather than best-found: a later PG relieving more OSDs
// never displaces an earlier one. Each PG is picked at most once, listing
// every given OSD it relieves.
func importantBackfills(pgs []*pgStat, osds []*osdDfNode, maxPgs int) []backfillCandidate {
	candidates := []backfillCandidate{}
	seen := make(map[string]struct{})

	for _, pg := range pgs {
		if len(candidates) >= maxPgs {
			break
		}
		if _, ok := seen[pg.PgID]; ok {
			continue
		}
		if !pg.awaitingForce() {
			continue
		}

		relieved := []int{}
		for _, n := range osds {
			if pg.relieves(n.ID) {
				relieved = append(relieved, n.ID)
			}
		}
		if len(relieved) == 0 {
			continue
		}

		seen[pg.PgID] = struct{}{}
		candidates = append(candidates, backfillCandidate{
			PgID:   pg.PgID,
			Osds:   relieved,
			Acting: pg.Acting,
			Up:     pg.Up,
			State:  pg.stateString(),
		})
	}
	return candidates
}

// forceBackfills asks Ceph to prioritize each candidate's backfill, one at
// a time and in order. The first failure stops the run; re-running is safe
// since forced PGs are no longer candidates.
func forceBackfills(candidates []backfillCandidate) error {
	for _, c := range candidates {
		slog.Debug("forcing backfill", "pgid", c.PgID, "osds", c.Osds)
		if _, err := runForceBackfill(c.PgID); err != nil {
			return errors.Wrapf(err, "pg %s: force-backfill failed", c.PgID)
		}
	}
	return nil
}
