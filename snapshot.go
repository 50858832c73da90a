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
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Paths of pre-captured snapshots. When empty, the snapshot is taken from
// the cluster with the matching ceph command.
var (
	pgDumpPgsFile   string
	pgDumpOsdsFile  string
	osdDfFile       string
	osdMetadataFile string
	osdTreeFile     string
)

type snapshotKind int

const (
	pgDumpPgsKind snapshotKind = 1 << iota
	pgDumpOsdsKind
	osdDfKind
	osdMetadataKind
)

// snapshots holds whatever a command asked loadSnapshots for; fields for
// kinds that weren't requested are left nil.
type snapshots struct {
	pgs      []*pgStat
	osdStats []int
	df       *osdDf
	hosts    osdHosts
}

func readSnapshot(name, file string, runner func() (string, error)) (string, error) {
	if file == "" {
		return runner()
	}

	slog.Debug("reading snapshot from file", "snapshot", name, "file", file)
	b, err := os.ReadFile(file)
	if err != nil {
		return "", errors.Wrapf(err, "can't read %s snapshot", name)
	}
	return string(b), nil
}

// loadSnapshots fetches and decodes the requested snapshot kinds. Fetches
// run in parallel since each may be a slow ceph command; everything is
// decoded before any report is computed.
func loadSnapshots(kinds snapshotKind) (*snapshots, error) {
	s := &snapshots{}
	var g errgroup.Group

	if kinds&pgDumpPgsKind != 0 {
		g.Go(func() error {
			out, err := readSnapshot(pgDumpPgsSnapshot, pgDumpPgsFile, runPgDumpPgs)
			if err != nil {
				return err
			}
			s.pgs, err = parsePgDumpPgs(out)
			return err
		})
	}
	if kinds&pgDumpOsdsKind != 0 {
		g.Go(func() error {
			out, err := readSnapshot(pgDumpOsdsSnapshot, pgDumpOsdsFile, runPgDumpOsds)
			if err != nil {
				return err
			}
			s.osdStats, err = parsePgDumpOsds(out)
			return err
		})
	}
	if kinds&osdDfKind != 0 {
		g.Go(func() error {
			out, err := readSnapshot(osdDfSnapshot, osdDfFile, runOsdDf)
			if err != nil {
				return err
			}
			s.df, err = parseOsdDf(out)
			return err
		})
	}
	if kinds&osdMetadataKind != 0 {
		g.Go(func() error {
			out, err := readSnapshot(osdMetadataSnapshot, osdMetadataFile, runOsdMetadata)
			if err != nil {
				return err
			}
			s.hosts, err = parseOsdMetadata(out)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s, nil
}
