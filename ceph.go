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
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

const (
	pgDumpPgsSnapshot   = "ceph pg dump pgs"
	pgDumpOsdsSnapshot  = "ceph pg dump osds"
	osdDfSnapshot       = "ceph osd df"
	osdMetadataSnapshot = "ceph osd metadata"
	osdTreeSnapshot     = "ceph osd tree"
)

var (
	runPgDumpPgs     = func() (string, error) { return runCeph("pg", "dump", "pgs", "-f", "json") }
	runPgDumpOsds    = func() (string, error) { return runCeph("pg", "dump", "osds", "-f", "json") }
	runOsdDf         = func() (string, error) { return runCeph("osd", "df", "-f", "json") }
	runOsdMetadata   = func() (string, error) { return runCeph("osd", "metadata", "-f", "json") }
	runOsdTree       = func() (string, error) { return runCeph("osd", "tree", "-f", "json") }
	runForceBackfill = func(pgid string) (string, error) { return runCeph("pg", "force-backfill", pgid) }
)

type pgStatOut struct {
	PgID    *string `json:"pgid"`
	State   string  `json:"state"`
	Up      []int   `json:"up"`
	Acting  []int   `json:"acting"`
	StatSum struct {
		NumBytes int64 `json:"num_bytes"`
	} `json:"stat_sum"`
}

// pgDumpEnvelope is the pre-Nautilus shape of 'ceph pg dump'. The lists are
// kept raw so that nothing is extracted before pg_ready has been checked.
type pgDumpEnvelope struct {
	PgReady  *bool           `json:"pg_ready"`
	PgStats  json.RawMessage `json:"pg_stats"`
	OsdStats json.RawMessage `json:"osd_stats"`
}

type pgStat struct {
	PgID   string
	State  []string
	Up     []int
	Acting []int

	numBytes int64
}

type osdStatOut struct {
	Osd *int `json:"osd"`
}

type osdDfOut struct {
	Nodes []struct {
		ID          *int    `json:"id"`
		Name        string  `json:"name"`
		KB          int64   `json:"kb"`
		Utilization float64 `json:"utilization"`
		Reweight    float64 `json:"reweight"`
	} `json:"nodes"`
}

type osdDfNode struct {
	ID            int
	Name          string
	CapacityBytes int64
	// Utilization is the cluster-reported fullness in percent (0-100), not
	// anything we've computed ourselves.
	Utilization float64
	Reweight    float64
}

type osdDf struct {
	Nodes []*osdDfNode

	byID map[int]*osdDfNode
}

type osdMetadataOut []struct {
	ID       *int   `json:"id"`
	Hostname string `json:"hostname"`
}

type osdTreeOutNode struct {
	ID       int     `json:"id"`
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Reweight float64 `json:"reweight"`
	Children []int   `json:"children"`
}

type osdTreeOut struct {
	Nodes []*osdTreeOutNode `json:"nodes"`
}

type osdTreeNode struct {
	ID       int
	Name     string
	Type     string
	Reweight float64

	Parent   *osdTreeNode
	Children []*osdTreeNode
}

type parsedOsdTree struct {
	IDToNode   map[int]*osdTreeNode
	NameToNode map[string]*osdTreeNode
}

// Bytes is the logical size of the PG. It is attributed in full to every
// OSD in whichever set is being summed.
func (pgs *pgStat) Bytes() int64 {
	return pgs.numBytes
}

// hasStateToken reports whether any of the PG's state tokens contains s, so
// "backfill" matches both "backfill_wait" and "backfilling". A compound s
// such as "active+remapped" is matched against the whole state instead. An
// empty s matches everything.
func (pgs *pgStat) hasStateToken(s string) bool {
	if s == "" {
		return true
	}
	if strings.Contains(s, "+") {
		return strings.Contains(pgs.stateString(), s)
	}
	for _, tok := range pgs.State {
		if strings.Contains(tok, s) {
			return true
		}
	}
	return false
}

func (pgs *pgStat) stateString() string {
	return strings.Join(pgs.State, "+")
}

func newOsdDf(nodes ...*osdDfNode) *osdDf {
	df := &osdDf{
		Nodes: nodes,
		byID:  make(map[int]*osdDfNode, len(nodes)),
	}
	for _, n := range nodes {
		df.byID[n.ID] = n
	}
	return df
}

func (df *osdDf) node(osd int) (*osdDfNode, bool) {
	n, ok := df.byID[osd]
	return n, ok
}

func (df *osdDf) osds() []int {
	osds := make([]int, 0, len(df.Nodes))
	for _, n := range df.Nodes {
		osds = append(osds, n.ID)
	}
	return osds
}

func (otn *osdTreeNode) getNearestParentOfType(t string) *osdTreeNode {
	parent := otn.Parent
	for parent != nil {
		if parent.Type == t {
			break
		}
		parent = parent.Parent
	}
	return parent
}

// isEnvelope tells the old {"pg_ready": ..., "pg_stats": [...]} form apart
// from the bare list newer releases emit.
func isEnvelope(out []byte) bool {
	trimmed := bytes.TrimSpace(out)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// unwrapPgDump returns the list held by a 'ceph pg dump' snapshot, taking
// field from the envelope if the old format is in use.
func unwrapPgDump(snapshot, out, field string) (json.RawMessage, error) {
	if !isEnvelope([]byte(out)) {
		return json.RawMessage(out), nil
	}

	var env pgDumpEnvelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		return nil, errors.Wrapf(err, "%s: can't decode envelope", snapshot)
	}
	if env.PgReady == nil || !*env.PgReady {
		return nil, &notReadyError{snapshot: snapshot}
	}

	list := env.PgStats
	if field == "osd_stats" {
		list = env.OsdStats
	}
	if len(list) == 0 {
		return json.RawMessage("[]"), nil
	}
	return list, nil
}

func parsePgDumpPgs(out string) ([]*pgStat, error) {
	list, err := unwrapPgDump(pgDumpPgsSnapshot, out, "pg_stats")
	if err != nil {
		return nil, err
	}

	var raw []*pgStatOut
	if err := json.Unmarshal(list, &raw); err != nil {
		return nil, errors.Wrapf(err, "%s: can't decode PG list", pgDumpPgsSnapshot)
	}

	pgs := make([]*pgStat, 0, len(raw))
	for i, r := range raw {
		if r == nil || r.PgID == nil {
			return nil, &malformedSnapshotError{pgDumpPgsSnapshot, fmt.Sprintf("entry %d", i), "pgid"}
		}
		entity := fmt.Sprintf("pg %s", *r.PgID)
		if r.Up == nil {
			return nil, &malformedSnapshotError{pgDumpPgsSnapshot, entity, "up"}
		}
		if r.Acting == nil {
			return nil, &malformedSnapshotError{pgDumpPgsSnapshot, entity, "acting"}
		}

		var state []string
		if r.State != "" {
			state = strings.Split(r.State, "+")
		}
		pgs = append(pgs, &pgStat{
			PgID:     *r.PgID,
			State:    state,
			Up:       r.Up,
			Acting:   r.Acting,
			numBytes: r.StatSum.NumBytes,
		})
	}
	return pgs, nil
}

func parsePgDumpOsds(out string) ([]int, error) {
	list, err := unwrapPgDump(pgDumpOsdsSnapshot, out, "osd_stats")
	if err != nil {
		return nil, err
	}

	var raw []*osdStatOut
	if err := json.Unmarshal(list, &raw); err != nil {
		return nil, errors.Wrapf(err, "%s: can't decode OSD list", pgDumpOsdsSnapshot)
	}

	osds := make([]int, 0, len(raw))
	for i, r := range raw {
		if r == nil || r.Osd == nil {
			return nil, &malformedSnapshotError{pgDumpOsdsSnapshot, fmt.Sprintf("entry %d", i), "osd"}
		}
		osds = append(osds, *r.Osd)
	}
	return osds, nil
}

func parseOsdDf(out string) (*osdDf, error) {
	var raw osdDfOut
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, errors.Wrapf(err, "%s: can't decode", osdDfSnapshot)
	}

	nodes := make([]*osdDfNode, 0, len(raw.Nodes))
	for i, n := range raw.Nodes {
		if n.ID == nil {
			return nil, &malformedSnapshotError{osdDfSnapshot, fmt.Sprintf("node %d", i), "id"}
		}
		nodes = append(nodes, &osdDfNode{
			ID:            *n.ID,
			Name:          n.Name,
			CapacityBytes: n.KB * 1024,
			Utilization:   n.Utilization,
			Reweight:      n.Reweight,
		})
	}
	return newOsdDf(nodes...), nil
}

func parseOsdMetadata(out string) (osdHosts, error) {
	var raw osdMetadataOut
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, errors.Wrapf(err, "%s: can't decode", osdMetadataSnapshot)
	}

	hosts := make(osdHosts)
	for i, m := range raw {
		if m.ID == nil {
			return nil, &malformedSnapshotError{osdMetadataSnapshot, fmt.Sprintf("entry %d", i), "id"}
		}
		hosts[*m.ID] = m.Hostname
	}
	return hosts, nil
}

func parseOsdTree(out string) (*parsedOsdTree, error) {
	var raw osdTreeOut
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, errors.Wrapf(err, "%s: can't decode", osdTreeSnapshot)
	}

	tree := &parsedOsdTree{
		IDToNode:   make(map[int]*osdTreeNode),
		NameToNode: make(map[string]*osdTreeNode),
	}

	// First, build direct lookup mappings.
	for _, n := range raw.Nodes {
		node := &osdTreeNode{
			ID:       n.ID,
			Name:     n.Name,
			Type:     n.Type,
			Reweight: n.Reweight,
		}
		tree.IDToNode[n.ID] = node
		tree.NameToNode[n.Name] = node
	}

	// Now, use the ID mapping from above to fill out parent/child links.
	for _, n := range raw.Nodes {
		treeNode := tree.IDToNode[n.ID]
		for _, c := range n.Children {
			child, ok := tree.IDToNode[c]
			if !ok {
				return nil, errors.Errorf("%s: bucket %s has unknown child %d", osdTreeSnapshot, n.Name, c)
			}

			child.Parent = treeNode
			treeNode.Children = append(treeNode.Children, child)
		}
	}

	return tree, nil
}

var savedParsedOsdTree *parsedOsdTree

func cachedOsdTree() (*parsedOsdTree, error) {
	if savedParsedOsdTree != nil {
		return savedParsedOsdTree, nil
	}

	out, err := readSnapshot(osdTreeSnapshot, osdTreeFile, runOsdTree)
	if err != nil {
		return nil, err
	}
	tree, err := parseOsdTree(out)
	if err != nil {
		return nil, err
	}
	savedParsedOsdTree = tree
	return tree, nil
}

func getOsdsForBucket(bucket string) ([]int, error) {
	tree, err := cachedOsdTree()
	if err != nil {
		return nil, err
	}

	bucketNode, ok := tree.NameToNode[bucket]
	if !ok || bucketNode.Type == "osd" {
		return nil, errors.Errorf("'%s' is not a CRUSH bucket known to this cluster", bucket)
	}

	return osdsUnder(bucketNode), nil
}

func osdsUnder(bucketNode *osdTreeNode) []int {
	osds := []int{}
	for _, c := range bucketNode.Children {
		if c.Type != "osd" {
			osds = append(osds, osdsUnder(c)...)
			continue
		}
		if c.Reweight == 0 {
			// This OSD is 'out' - exclude it.
			continue
		}
		osds = append(osds, c.ID)
	}
	sort.Ints(osds)
	return osds
}
