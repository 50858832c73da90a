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

// utilizationRow compares an OSD's size now (acting) with its size once
// backfill has finished (up). Utilizations are fractions of capacity, except
// ReportedUtilization which is Ceph's own percentage.
type utilizationRow struct {
	Osd      int  `json:"osd"`
	NotFound bool `json:"not_found,omitempty"`

	CapacityBytes        int64   `json:"capacity_bytes"`
	ReportedUtilization  float64 `json:"reported_utilization"`
	CurrentBytes         int64   `json:"current_bytes"`
	CurrentUtilization   float64 `json:"current_utilization"`
	ProjectedBytes       int64   `json:"projected_bytes"`
	ProjectedUtilization float64 `json:"projected_utilization"`
	ChangeBytes          int64   `json:"change_bytes"`
	Reweight             float64 `json:"reweight"`
}

// utilizationReport builds one row per requested OSD, in request order. With
// no OSDs requested, every OSD of the df output is reported in its order.
//
// OSDs whose size won't change are skipped unless showUnchanged is set. An
// OSD missing from df, or one with no capacity, gets a NotFound row; the
// remaining OSDs are still reported. Explicitly requested OSDs are checked
// against df first, so a mistyped ID is never silently dropped.
func utilizationReport(ss *sizeState, df *osdDf, osds []int, showUnchanged bool) []utilizationRow {
	requested := len(osds) > 0
	if !requested {
		osds = df.osds()
	}

	rows := make([]utilizationRow, 0, len(osds))
	for _, osd := range osds {
		node, ok := df.node(osd)
		found := ok && node.CapacityBytes != 0
		if requested && !found {
			rows = append(rows, utilizationRow{Osd: osd, NotFound: true})
			continue
		}

		if !showUnchanged && ss.unchanged(osd) {
			continue
		}
		if !found {
			rows = append(rows, utilizationRow{Osd: osd, NotFound: true})
			continue
		}

		capacity := float64(node.CapacityBytes)
		rows = append(rows, utilizationRow{
			Osd:                  osd,
			CapacityBytes:        node.CapacityBytes,
			ReportedUtilization:  node.Utilization,
			CurrentBytes:         ss.current(osd),
			CurrentUtilization:   float64(ss.current(osd)) / capacity,
			ProjectedBytes:       ss.projected(osd),
			ProjectedUtilization: float64(ss.projected(osd)) / capacity,
			ChangeBytes:          ss.change(osd),
			Reweight:             node.Reweight,
		})
	}
	return rows
}

type sizeChangeRow struct {
	Osd            int   `json:"osd"`
	CurrentBytes   int64 `json:"current_bytes"`
	ProjectedBytes int64 `json:"projected_bytes"`
	ChangeBytes    int64 `json:"change_bytes"`
}

// sizeChangeReport is the capacity-free variant of utilizationReport: it
// only needs the PG dump. OSDs that hold nothing now and won't hold anything
// later are never reported.
func sizeChangeReport(ss *sizeState, osds []int, showUnchanged bool) []sizeChangeRow {
	if len(osds) == 0 {
		osds = ss.osds()
	}

	rows := make([]sizeChangeRow, 0, len(osds))
	for _, osd := range osds {
		if !showUnchanged && ss.unchanged(osd) {
			continue
		}
		if ss.current(osd) == 0 && ss.projected(osd) == 0 {
			continue
		}

		rows = append(rows, sizeChangeRow{
			Osd:            osd,
			CurrentBytes:   ss.current(osd),
			ProjectedBytes: ss.projected(osd),
			ChangeBytes:    ss.change(osd),
		})
	}
	return rows
}
