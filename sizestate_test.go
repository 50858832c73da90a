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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func testPgs() []*pgStat {
	return []*pgStat{
		{PgID: "1.1", Up: []int{1, 2, 3}, Acting: []int{1, 2, 3}, numBytes: 100},
		{PgID: "1.2", Up: []int{2, 3, 4}, Acting: []int{1, 2, 3}, numBytes: 200},
		{PgID: "1.3", Up: []int{5, 4}, Acting: []int{4, 5}, numBytes: 50},
		{PgID: "1.4", Up: []int{6, 7, 8}, Acting: []int{6, invalidOSD, 8}, numBytes: 10},
		{PgID: "1.5", Up: []int{1}, Acting: []int{1}},
	}
}

func TestAggregateSizes(t *testing.T) {
	pgs := testPgs()

	require.Equal(t, sizeTotals{1: 300, 2: 300, 3: 300, 4: 50, 5: 50, 6: 10, 8: 10}, aggregateSizes(pgs, actingSet))
	require.Equal(t, sizeTotals{1: 100, 2: 300, 3: 300, 4: 250, 5: 50, 6: 10, 7: 10, 8: 10}, aggregateSizes(pgs, upSet))
	require.Empty(t, aggregateSizes(nil, actingSet))
}

func TestAggregateSizesConservesBytes(t *testing.T) {
	pgs := testPgs()

	for _, r := range []setRelation{actingSet, upSet} {
		var expected int64
		for _, pg := range pgs {
			expected += pg.Bytes() * int64(len(pg.members(r)))
		}
		require.Equal(t, expected, aggregateSizes(pgs, r).sum(), "relation %s", r)
	}
}

func TestAggregateSizesOrderIndependent(t *testing.T) {
	pgs := testPgs()
	expectedActing := aggregateSizes(pgs, actingSet)
	expectedUp := aggregateSizes(pgs, upSet)

	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		rnd.Shuffle(len(pgs), func(i, j int) { pgs[i], pgs[j] = pgs[j], pgs[i] })
		require.Equal(t, expectedActing, aggregateSizes(pgs, actingSet))
		require.Equal(t, expectedUp, aggregateSizes(pgs, upSet))
	}
}

func TestOsdSet(t *testing.T) {
	require.Equal(t, []int{1, 2, 3}, osdSet([]int{3, 1, 2}))
	require.Equal(t, []int{1, 4}, osdSet([]int{1, 4, 4, invalidOSD}))
	require.Equal(t, []int{}, osdSet(nil))
}

func TestSizeState(t *testing.T) {
	ss := makeSizeState(testPgs())

	require.Equal(t, int64(300), ss.current(1))
	require.Equal(t, int64(100), ss.projected(1))
	require.Equal(t, int64(-200), ss.change(1))
	require.Equal(t, int64(200), ss.change(4))
	require.True(t, ss.unchanged(2))
	require.False(t, ss.unchanged(7))
	// Never seen in any PG.
	require.Equal(t, int64(0), ss.current(99))
	require.True(t, ss.unchanged(99))

	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, ss.osds())
}
