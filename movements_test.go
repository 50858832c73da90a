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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestMovement(t *testing.T) {
	pg := &pgStat{PgID: "1.1", Up: []int{2, 3, 4}, Acting: []int{1, 2, 3}}
	leaving, arriving := pg.movement()
	require.Equal(t, []int{1}, leaving)
	require.Equal(t, []int{4}, arriving)
	require.False(t, pg.settled())

	// Replicated pools may reorder without moving anything.
	pg = &pgStat{PgID: "1.2", Up: []int{3, 1, 2}, Acting: []int{1, 2, 3}}
	leaving, arriving = pg.movement()
	require.Empty(t, leaving)
	require.Empty(t, arriving)
	require.True(t, pg.settled())
}

func TestSetDifference(t *testing.T) {
	require.Equal(t, []int{1, 5}, setDifference([]int{1, 2, 3, 5}, []int{2, 3, 4}))
	require.Equal(t, []int{}, setDifference([]int{1, 2}, []int{1, 2}))
	require.Equal(t, []int{1, 2}, setDifference([]int{1, 2}, nil))
}

func TestPgMovements(t *testing.T) {
	pgs := []*pgStat{
		{PgID: "1.1", State: []string{"active", "clean"}, Up: []int{1, 2, 3}, Acting: []int{1, 2, 3}},
		{PgID: "1.2", State: []string{"active", "remapped", "backfill_wait"}, Up: []int{2, 3, 4}, Acting: []int{1, 2, 3}},
		{PgID: "1.3", State: []string{"active", "remapped", "backfilling"}, Up: []int{5, 6}, Acting: []int{3, 4}},
		// Remapped but not backfilling yet.
		{PgID: "1.4", State: []string{"active", "remapped"}, Up: []int{1, 6}, Acting: []int{1, 5}},
	}
	hosts := osdHosts{1: "node1", 2: "node1", 3: "node2", 4: "node2", 5: "node3", 6: "node3"}

	mv12 := pgMovement{
		PgID: "1.2", Acting: []int{1, 2, 3}, Leaving: []int{1}, LeavingHosts: []string{"node1"},
		Up: []int{2, 3, 4}, Arriving: []int{4}, ArrivingHosts: []string{"node2"},
		State: "active+remapped+backfill_wait",
	}
	mv13 := pgMovement{
		PgID: "1.3", Acting: []int{3, 4}, Leaving: []int{3, 4}, LeavingHosts: []string{"node2", "node2"},
		Up: []int{5, 6}, Arriving: []int{5, 6}, ArrivingHosts: []string{"node3", "node3"},
		State: "active+remapped+backfilling",
	}
	mv14 := pgMovement{
		PgID: "1.4", Acting: []int{1, 5}, Leaving: []int{5}, LeavingHosts: []string{"node3"},
		Up: []int{1, 6}, Arriving: []int{6}, ArrivingHosts: []string{"node3"},
		State: "active+remapped",
	}
	mv11 := pgMovement{
		PgID: "1.1", Acting: []int{1, 2, 3}, Leaving: []int{}, LeavingHosts: []string{},
		Up: []int{1, 2, 3}, Arriving: []int{}, ArrivingHosts: []string{},
		State: "active+clean",
	}

	tests := []struct {
		name           string
		filter         pgFilter
		includeSettled bool
		expected       []pgMovement
	}{
		{
			name:     "all moving PGs",
			filter:   withState(""),
			expected: []pgMovement{mv12, mv13, mv14},
		},
		{
			name:           "settled included",
			filter:         withState(""),
			includeSettled: true,
			expected:       []pgMovement{mv11, mv12, mv13, mv14},
		},
		{
			name:     "state substring",
			filter:   withState("backfill"),
			expected: []pgMovement{mv12, mv13},
		},
		{
			name:     "exact state token",
			filter:   withState("backfilling"),
			expected: []pgMovement{mv13},
		},
		{
			name:           "settled PG must still match the state",
			filter:         withState("clean"),
			includeSettled: true,
			expected:       []pgMovement{mv11},
		},
		{
			name:     "compound state",
			filter:   withState("active+remapped"),
			expected: []pgMovement{mv12, mv13, mv14},
		},
		{
			name:     "compound state across tokens",
			filter:   withState("remapped+backfill"),
			expected: []pgMovement{mv12, mv13},
		},
		{
			name:     "no match",
			filter:   withState("degraded"),
			expected: []pgMovement{},
		},
		{
			name:     "pgs including",
			filter:   pfAnd(withState("remapped"), withOsdsIn(map[int]struct{}{5: {}})),
			expected: []pgMovement{mv13, mv14},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			movements, err := pgMovements(pgs, tt.filter, tt.includeSettled, hosts)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.expected, movements); diff != "" {
				t.Fatalf("unexpected movements (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPgMovementsUnresolvedOsd(t *testing.T) {
	pgs := []*pgStat{
		{PgID: "1.1", State: []string{"backfill_wait"}, Up: []int{2}, Acting: []int{1}},
		{PgID: "1.2", State: []string{"backfill_wait"}, Up: []int{9}, Acting: []int{1}},
		{PgID: "1.3", State: []string{"backfill_wait"}, Up: []int{2}, Acting: []int{1}},
	}
	hosts := osdHosts{1: "node1", 2: "node2"}

	movements, err := pgMovements(pgs, withState(""), false, hosts)
	require.Nil(t, movements)
	var uoe *unresolvedOsdError
	require.True(t, errors.As(err, &uoe))
	require.Equal(t, "1.2", uoe.pgid)
	require.Equal(t, 9, uoe.osd)

	// Settled PGs never need a lookup.
	pgs = []*pgStat{{PgID: "1.4", Up: []int{42}, Acting: []int{42}}}
	movements, err = pgMovements(pgs, withState(""), true, hosts)
	require.NoError(t, err)
	require.Len(t, movements, 1)
}

func TestCrushLocations(t *testing.T) {
	tree, err := parseOsdTree(testOsdTreeOut)
	require.NoError(t, err)

	hosts := &crushLocations{tree: tree, bucketType: "host"}
	host, ok := hosts.hostForOsd(4)
	require.True(t, ok)
	require.Equal(t, "host2", host)

	_, ok = hosts.hostForOsd(42)
	require.False(t, ok)
	// Buckets aren't OSDs.
	_, ok = hosts.hostForOsd(-2)
	require.False(t, ok)

	racks := &crushLocations{tree: tree, bucketType: "rack"}
	rack, ok := racks.hostForOsd(0)
	require.True(t, ok)
	require.Equal(t, "rack1", rack)

	dcs := &crushLocations{tree: tree, bucketType: "datacenter"}
	_, ok = dcs.hostForOsd(0)
	require.False(t, ok)
}
