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
	"github.com/stretchr/testify/require"
)

func TestUtilizationReport(t *testing.T) {
	// osd 0: 100 now, 100 later
	// osd 1: 100 now, 200 later
	// osd 2: 200 now, 500 later
	// osd 3: 100 now, nothing later, no capacity
	// osd 4: nothing now, 100 later, unknown to df
	ss := &sizeState{
		acting: sizeTotals{0: 100, 1: 100, 2: 200, 3: 100},
		up:     sizeTotals{0: 100, 1: 200, 2: 500, 4: 100},
	}
	df := newOsdDf(
		&osdDfNode{ID: 0, CapacityBytes: 1000, Utilization: 10, Reweight: 1},
		&osdDfNode{ID: 1, CapacityBytes: 1000, Utilization: 11, Reweight: 1},
		&osdDfNode{ID: 2, CapacityBytes: 1000, Utilization: 21, Reweight: 0.5},
		&osdDfNode{ID: 3, CapacityBytes: 0},
	)

	rowA := utilizationRow{
		Osd: 0, CapacityBytes: 1000, ReportedUtilization: 10,
		CurrentBytes: 100, CurrentUtilization: 0.1,
		ProjectedBytes: 100, ProjectedUtilization: 0.1,
		Reweight: 1,
	}
	rowB := utilizationRow{
		Osd: 1, CapacityBytes: 1000, ReportedUtilization: 11,
		CurrentBytes: 100, CurrentUtilization: 0.1,
		ProjectedBytes: 200, ProjectedUtilization: 0.2,
		ChangeBytes: 100, Reweight: 1,
	}
	rowC := utilizationRow{
		Osd: 2, CapacityBytes: 1000, ReportedUtilization: 21,
		CurrentBytes: 200, CurrentUtilization: 0.2,
		ProjectedBytes: 500, ProjectedUtilization: 0.5,
		ChangeBytes: 300, Reweight: 0.5,
	}

	tests := []struct {
		name          string
		osds          []int
		showUnchanged bool
		expected      []utilizationRow
	}{
		{
			name:     "default omits unchanged",
			expected: []utilizationRow{rowB, rowC, {Osd: 3, NotFound: true}},
		},
		{
			name:          "show unchanged",
			showUnchanged: true,
			expected:      []utilizationRow{rowA, rowB, rowC, {Osd: 3, NotFound: true}},
		},
		{
			name:     "explicit OSDs keep request order",
			osds:     []int{4, 2, 0, 1},
			expected: []utilizationRow{{Osd: 4, NotFound: true}, rowC, rowB},
		},
		{
			name:     "requested unknown OSD is not found even if unchanged",
			osds:     []int{9, 1},
			expected: []utilizationRow{{Osd: 9, NotFound: true}, rowB},
		},
		{
			name:     "requested OSD without capacity",
			osds:     []int{3, 0},
			expected: []utilizationRow{{Osd: 3, NotFound: true}},
		},
		{
			name:          "unchanged unknown OSD is not found with show unchanged",
			osds:          []int{9, 1},
			showUnchanged: true,
			expected:      []utilizationRow{{Osd: 9, NotFound: true}, rowB},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := utilizationReport(ss, df, tt.osds, tt.showUnchanged)
			if diff := cmp.Diff(tt.expected, rows); diff != "" {
				t.Fatalf("unexpected rows (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUtilizationReportFromPgs(t *testing.T) {
	pgs := []*pgStat{
		{PgID: "1.1", Up: []int{0, 1}, Acting: []int{0, 1}, numBytes: 200},
		{PgID: "1.2", Up: []int{0, 1}, Acting: []int{1, 2}, numBytes: 300},
	}
	df := newOsdDf(
		&osdDfNode{ID: 0, CapacityBytes: 1000},
		&osdDfNode{ID: 1, CapacityBytes: 1000},
		&osdDfNode{ID: 2, CapacityBytes: 1000},
	)

	rows := utilizationReport(makeSizeState(pgs), df, nil, false)
	require.Len(t, rows, 2)

	require.Equal(t, 0, rows[0].Osd)
	require.Equal(t, int64(200), rows[0].CurrentBytes)
	require.Equal(t, int64(500), rows[0].ProjectedBytes)
	require.InDelta(t, 0.2, rows[0].CurrentUtilization, 1e-9)
	require.InDelta(t, 0.5, rows[0].ProjectedUtilization, 1e-9)

	require.Equal(t, 2, rows[1].Osd)
	require.Equal(t, int64(300), rows[1].CurrentBytes)
	require.Equal(t, int64(0), rows[1].ProjectedBytes)
	require.Equal(t, int64(-300), rows[1].ChangeBytes)
}

func TestSizeChangeReport(t *testing.T) {
	ss := &sizeState{
		acting: sizeTotals{0: 100, 1: 100, 3: 0},
		up:     sizeTotals{0: 100, 2: 50, 3: 0},
	}

	rows := sizeChangeReport(ss, nil, false)
	require.Equal(t, []sizeChangeRow{
		{Osd: 1, CurrentBytes: 100, ProjectedBytes: 0, ChangeBytes: -100},
		{Osd: 2, CurrentBytes: 0, ProjectedBytes: 50, ChangeBytes: 50},
	}, rows)

	rows = sizeChangeReport(ss, []int{3, 2, 0, 7}, true)
	require.Equal(t, []sizeChangeRow{
		{Osd: 2, CurrentBytes: 0, ProjectedBytes: 50, ChangeBytes: 50},
		{Osd: 0, CurrentBytes: 100, ProjectedBytes: 100, ChangeBytes: 0},
	}, rows)
}
