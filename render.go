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
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

// jsonOutput switches every report from a table to a JSON array of rows.
var jsonOutput bool

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator("")
	table.SetCenterSeparator("")
	table.SetRowSeparator("")
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetHeaderAlignment(tablewriter.ALIGN_RIGHT)
	table.SetHeader(header)
	return table
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatBytes is humanize.IBytes for signed values.
func formatBytes(v int64) string {
	if v < 0 {
		return "-" + humanize.IBytes(uint64(-v))
	}
	return humanize.IBytes(uint64(v))
}

func formatFraction(f float64) string {
	return fmt.Sprintf("%.2f%%", f*100)
}

func formatOsdList(osds []int) string {
	strs := make([]string, len(osds))
	for i, osd := range osds {
		strs[i] = strconv.Itoa(osd)
	}
	return "[" + strings.Join(strs, ",") + "]"
}

func formatHostList(hosts []string) string {
	return "[" + strings.Join(hosts, ",") + "]"
}

func renderUtilization(w, errW io.Writer, rows []utilizationRow) error {
	if jsonOutput {
		return writeJSON(w, rows)
	}

	notFound := color.New(color.FgRed).SprintfFunc()
	table := newTable(w, []string{
		"OSD", "SIZE", "USE", "ACTING SIZE", "ACTING USE", "->", "UP SIZE", "UP USE", "CHANGE", "REWEIGHT",
	})
	for _, r := range rows {
		if r.NotFound {
			fmt.Fprintln(errW, notFound("osd.%d not found", r.Osd))
			continue
		}
		table.Append([]string{
			strconv.Itoa(r.Osd),
			formatBytes(r.CapacityBytes),
			fmt.Sprintf("%.2f%%", r.ReportedUtilization),
			formatBytes(r.CurrentBytes),
			formatFraction(r.CurrentUtilization),
			"->",
			formatBytes(r.ProjectedBytes),
			formatFraction(r.ProjectedUtilization),
			formatBytes(r.ChangeBytes),
			fmt.Sprintf("%.6f", r.Reweight),
		})
	}
	table.Render()
	return nil
}

func renderSizeChange(w io.Writer, rows []sizeChangeRow) error {
	if jsonOutput {
		return writeJSON(w, rows)
	}

	table := newTable(w, []string{"OSD", "ACTING SIZE", "UP SIZE", "CHANGE"})
	for _, r := range rows {
		table.Append([]string{
			strconv.Itoa(r.Osd),
			formatBytes(r.CurrentBytes),
			formatBytes(r.ProjectedBytes),
			formatBytes(r.ChangeBytes),
		})
	}
	table.Render()
	return nil
}

func renderMovements(w io.Writer, movements []pgMovement) error {
	if jsonOutput {
		return writeJSON(w, movements)
	}

	table := newTable(w, []string{
		"PGID", "ACTING", "MOVING FROM", "HOSTS MOVING FROM", "->", "UP", "MOVING TO", "HOSTS MOVING TO", "STATE",
	})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	for _, m := range movements {
		table.Append([]string{
			m.PgID,
			formatOsdList(m.Acting),
			formatOsdList(m.Leaving),
			formatHostList(m.LeavingHosts),
			"->",
			formatOsdList(m.Up),
			formatOsdList(m.Arriving),
			formatHostList(m.ArrivingHosts),
			m.State,
		})
	}
	table.Render()
	return nil
}

func renderBackfillCandidates(w io.Writer, candidates []backfillCandidate) error {
	if jsonOutput {
		return writeJSON(w, candidates)
	}

	table := newTable(w, []string{"PGID", "ON OSDS", "ACTING", "->", "UP", "STATE"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	for _, c := range candidates {
		table.Append([]string{
			c.PgID,
			formatOsdList(c.Osds),
			formatOsdList(c.Acting),
			"->",
			formatOsdList(c.Up),
			c.State,
		})
	}
	table.Render()
	return nil
}
