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
	"math"
	"sort"
)

const (
	// Ceph fills holes in degraded up/acting sets with this value.
	invalidOSD = math.MaxInt32
)

// setRelation selects which of a PG's OSD sets a computation looks at.
type setRelation int

const (
	// actingSet is where the PG's data is served from right now.
	actingSet setRelation = iota
	// upSet is where the PG's data will live once backfill completes.
	upSet
)

func (r setRelation) String() string {
	if r == upSet {
		return "up"
	}
	return "acting"
}

// osdSet returns the distinct, valid OSDs of a PG's up or acting list in
// ascending order.
func osdSet(list []int) []int {
	seen := make(map[int]struct{}, len(list))
	set := make([]int, 0, len(list))
	for _, osd := range list {
		if osd == invalidOSD {
			continue
		}
		if _, ok := seen[osd]; ok {
			continue
		}
		seen[osd] = struct{}{}
		set = append(set, osd)
	}
	sort.Ints(set)
	return set
}

func (pgs *pgStat) members(r setRelation) []int {
	if r == upSet {
		return osdSet(pgs.Up)
	}
	return osdSet(pgs.Acting)
}

// sizeTotals maps OSD ID to the bytes of all PGs that OSD holds under one
// set relation.
type sizeTotals map[int]int64

// aggregateSizes adds every PG's full size to each OSD of the chosen set.
// Replicas are not divided out: a 3x replicated PG counts three times.
func aggregateSizes(pgs []*pgStat, r setRelation) sizeTotals {
	totals := make(sizeTotals)
	for _, pg := range pgs {
		for _, osd := range pg.members(r) {
			totals[osd] += pg.Bytes()
		}
	}
	return totals
}

func (st sizeTotals) sum() int64 {
	var sum int64
	for _, v := range st {
		sum += v
	}
	return sum
}

// sizeState holds the acting and up totals computed from one PG dump.
type sizeState struct {
	acting sizeTotals
	up     sizeTotals
}

func makeSizeState(pgs []*pgStat) *sizeState {
	return &sizeState{
		acting: aggregateSizes(pgs, actingSet),
		up:     aggregateSizes(pgs, upSet),
	}
}

// current is the bytes an OSD holds now. OSDs without PGs hold nothing.
func (ss *sizeState) current(osd int) int64 {
	return ss.acting[osd]
}

// projected is the bytes an OSD will hold after backfill.
func (ss *sizeState) projected(osd int) int64 {
	return ss.up[osd]
}

func (ss *sizeState) change(osd int) int64 {
	return ss.projected(osd) - ss.current(osd)
}

func (ss *sizeState) unchanged(osd int) bool {
	return ss.current(osd) == ss.projected(osd)
}

// osds returns every OSD with a total under either relation, sorted. Only
// used for display.
func (ss *sizeState) osds() []int {
	seen := make(map[int]struct{})
	for osd := range ss.acting {
		seen[osd] = struct{}{}
	}
	for osd := range ss.up {
		seen[osd] = struct{}{}
	}

	osds := make([]int, 0, len(seen))
	for osd := range seen {
		osds = append(osds, osd)
	}
	sort.Ints(osds)
	return osds
}
