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

import "fmt"

// malformedSnapshotError is returned when a snapshot entry lacks a field we
// can't sensibly default, e.g. a PG without an up set.
type malformedSnapshotError struct {
	snapshot string
	entity   string
	field    string
}

func (e *malformedSnapshotError) Error() string {
	return fmt.Sprintf("%s: %s is missing required field '%s'", e.snapshot, e.entity, e.field)
}

// notReadyError is returned for old-style dumps whose envelope says the PG
// map isn't ready yet.
type notReadyError struct {
	snapshot string
}

func (e *notReadyError) Error() string {
	return fmt.Sprintf("%s: pg_ready is not true, refusing to use a partial dump", e.snapshot)
}

// unresolvedOsdError means an OSD in a PG's up or acting set has no location.
// This only happens when the PG dump and the location source were taken at
// different times (or from different clusters).
type unresolvedOsdError struct {
	pgid string
	osd  int
}

func (e *unresolvedOsdError) Error() string {
	return fmt.Sprintf("pg %s: can't find a location for osd.%d; are the snapshots from the same cluster?", e.pgid, e.osd)
}
