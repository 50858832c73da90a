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
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var gitCommit string

var (
	verbose bool

	rootCmd = &cobra.Command{
		Use:   "pgforecast",
		Short: "Project the outcome of pending backfill and expedite the backfills that matter",
		Long: `Project the outcome of pending backfill and expedite the backfills that matter

Reports compare each PG's acting set (where its data is served from now) with
its up set (where its data will be once backfill completes). Snapshots are
taken from the cluster with the ceph CLI unless a pre-captured JSON file is
given with the --ceph-* flags. Set PGFORECAST_CEPH to use a different ceph
binary.

For any commands that take an osdspec, one of the following can be given:
* An OSD ID (e.g. '54').
* A CRUSH bucket (e.g. 'bucket:rack1' or 'bucket:host04').
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogger(cmd.ErrOrStderr(), verbose)
		},
	}

	utilizationCmd = &cobra.Command{
		Use:   "utilization [osdspec...]",
		Short: "Show how OSD utilization will have changed once backfill is done.",
		Long: `Show how OSD utilization will have changed once backfill is done.

For each OSD, the bytes of all PGs in whose acting set it is are compared with
the bytes of all PGs in whose up set it is, relative to the OSD's capacity as
reported by 'ceph osd df'. A PG's full size is counted on every OSD holding a
replica or shard of it. OSDs with no change are omitted unless --no-change is
given; OSDs unknown to 'ceph osd df' are reported as not found.
`,
		Args: validateOsdSpecArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			osds, err := parseOsdSpecs(args)
			if err != nil {
				return err
			}
			return runUtilization(cmd.OutOrStdout(), cmd.ErrOrStderr(), osds, mustGetBool(cmd, "no-change"))
		},
	}

	sizeChangeCmd = &cobra.Command{
		Use:   "size-change [osdspec...]",
		Short: "Show how much data each OSD will gain or lose once backfill is done.",
		Long: `Show how much data each OSD will gain or lose once backfill is done.

Like 'utilization', but only needs the PG dump; the OSD list defaults to the
OSDs from 'ceph pg dump osds'.
`,
		Args: validateOsdSpecArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			osds, err := parseOsdSpecs(args)
			if err != nil {
				return err
			}
			return runSizeChange(cmd.OutOrStdout(), osds, mustGetBool(cmd, "no-change"))
		},
	}

	pgMovementsCmd = &cobra.Command{
		Use:   "pg-movements [state]",
		Short: "List PGs whose up and acting sets differ.",
		Long: `List PGs whose up and acting sets differ.

For each PG, show the OSDs its data is moving from (acting but not up) and to
(up but not acting), along with the hosts of those OSDs. The optional state
filter is matched against each part of the PG state, so 'backfill' finds both
'backfill_wait' and 'backfilling'.
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state := ""
			if len(args) == 1 {
				state = args[0]
			}
			pgsIncluding, err := getOsdSpecSliceMap(cmd, "pgs-including")
			if err != nil {
				return err
			}
			return runPgMovements(cmd.OutOrStdout(), movementOptions{
				state:          state,
				includeSettled: mustGetBool(cmd, "empty"),
				pgsIncluding:   pgsIncluding,
				locationBucket: mustGetString(cmd, "location-bucket"),
			})
		},
	}

	forceBackfillsCmd = &cobra.Command{
		Use:   "force-backfills",
		Short: "Force the backfills that move data off the fullest OSDs.",
		Long: `Force the backfills that move data off the fullest OSDs.

Select the fullest OSDs above --min-utilization (at most --osd-count of them),
then walk the PG dump in order and run 'ceph pg force-backfill' for PGs that
are waiting on or in backfill, aren't forced yet, and are moving data off one
of those OSDs, up to --pg-count PGs. Earlier PGs in the dump always win over
later ones. Re-running is safe; PGs already forced are skipped.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runForceBackfills(cmd.OutOrStdout(), cmd.ErrOrStderr(), forceOptions{
				minUtilization: mustGetFloat64(cmd, "min-utilization"),
				osdCount:       mustGetInt(cmd, "osd-count"),
				pgCount:        mustGetInt(cmd, "pg-count"),
				dry:            mustGetBool(cmd, "dry"),
				quiet:          mustGetBool(cmd, "quiet"),
			})
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print version information",

		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "git sha %s\n", gitCommit)
		},
	}
)

func mustGetBool(cmd *cobra.Command, arg string) bool {
	ret, err := cmd.Flags().GetBool(arg)
	if err != nil {
		panic(errors.WithStack(err))
	}
	return ret
}

func mustGetInt(cmd *cobra.Command, arg string) int {
	ret, err := cmd.Flags().GetInt(arg)
	if err != nil {
		panic(errors.WithStack(err))
	}
	return ret
}

func mustGetFloat64(cmd *cobra.Command, arg string) float64 {
	ret, err := cmd.Flags().GetFloat64(arg)
	if err != nil {
		panic(errors.WithStack(err))
	}
	return ret
}

func mustGetString(cmd *cobra.Command, arg string) string {
	ret, err := cmd.Flags().GetString(arg)
	if err != nil {
		panic(errors.WithStack(err))
	}
	return ret
}

func mustGetStringSlice(cmd *cobra.Command, arg string) []string {
	ret, err := cmd.Flags().GetStringSlice(arg)
	if err != nil {
		panic(errors.WithStack(err))
	}
	return ret
}

func getOsdSpecSliceMap(cmd *cobra.Command, arg string) (map[int]struct{}, error) {
	list, err := parseOsdSpecs(mustGetStringSlice(cmd, arg))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid --%s", arg)
	}

	ret := make(map[int]struct{})
	for _, v := range list {
		ret[v] = struct{}{}
	}
	return ret, nil
}

func validateOsdSpecArgs(cmd *cobra.Command, args []string) error {
	for _, arg := range args {
		if _, err := parseOsdSpec(arg); err != nil {
			return err
		}
	}
	return nil
}

func parseOsdSpecs(specs []string) ([]int, error) {
	var osds []int
	for _, s := range specs {
		osdSpecOsds, err := parseOsdSpec(s)
		if err != nil {
			return nil, err
		}
		osds = append(osds, osdSpecOsds...)
	}
	return osds, nil
}

func parseOsdSpec(s string) ([]int, error) {
	errResponse := func(s string) ([]int, error) {
		return nil, errors.Errorf("'%s' is not a valid osdspec - see root command --help", s)
	}

	osd, err := strconv.Atoi(s)
	if err == nil {
		return []int{osd}, nil
	}

	spl := strings.SplitN(s, ":", 2)
	if len(spl) != 2 {
		return errResponse(s)
	}

	if spl[0] != "bucket" {
		return errResponse(s)
	}

	return getOsdsForBucket(spl[1])
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "display ceph commands being run and debug output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print reports as JSON instead of tables")
	rootCmd.PersistentFlags().StringVar(&pgDumpPgsFile, "ceph-pg-dump-pgs", "", "output of `ceph pg dump pgs -f json`; the command is run if omitted")
	rootCmd.PersistentFlags().StringVar(&pgDumpOsdsFile, "ceph-pg-dump-osds", "", "output of `ceph pg dump osds -f json`; the command is run if omitted")
	rootCmd.PersistentFlags().StringVar(&osdDfFile, "ceph-osd-df", "", "output of `ceph osd df -f json`; the command is run if omitted")
	rootCmd.PersistentFlags().StringVar(&osdMetadataFile, "ceph-osd-metadata", "", "output of `ceph osd metadata -f json`; the command is run if omitted")
	rootCmd.PersistentFlags().StringVar(&osdTreeFile, "ceph-osd-tree", "", "output of `ceph osd tree -f json`, used for bucket osdspecs and --location-bucket; the command is run if omitted")

	utilizationCmd.Flags().Bool("no-change", false, "do not omit OSDs whose size won't change")
	rootCmd.AddCommand(utilizationCmd)

	sizeChangeCmd.Flags().Bool("no-change", false, "do not omit OSDs whose size won't change")
	rootCmd.AddCommand(sizeChangeCmd)

	pgMovementsCmd.Flags().Bool("empty", false, "also list PGs whose up and acting sets are identical")
	pgMovementsCmd.Flags().StringSlice("pgs-including", []string{}, "only list PGs that include the given osdspecs in their up or acting set")
	pgMovementsCmd.Flags().String("location-bucket", "", "resolve OSDs to their nearest CRUSH bucket of this type (e.g. 'rack') instead of the hostname from 'ceph osd metadata'")
	rootCmd.AddCommand(pgMovementsCmd)

	forceBackfillsCmd.Flags().Float64("min-utilization", 85, "only consider OSDs above this utilization (percent)")
	forceBackfillsCmd.Flags().Int("osd-count", 3, "only consider the n fullest OSDs; 0 means all")
	forceBackfillsCmd.Flags().Int("pg-count", 20, "max number of PGs to force")
	forceBackfillsCmd.Flags().Bool("dry", false, "only print the PGs that would be forced")
	forceBackfillsCmd.Flags().Bool("quiet", false, "don't print the PGs being forced")
	rootCmd.AddCommand(forceBackfillsCmd)

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if verbose {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func runUtilization(w, errW io.Writer, osds []int, showUnchanged bool) error {
	s, err := loadSnapshots(pgDumpPgsKind | osdDfKind)
	if err != nil {
		return err
	}

	rows := utilizationReport(makeSizeState(s.pgs), s.df, osds, showUnchanged)
	return renderUtilization(w, errW, rows)
}

func runSizeChange(w io.Writer, osds []int, showUnchanged bool) error {
	kinds := pgDumpPgsKind
	if len(osds) == 0 {
		kinds |= pgDumpOsdsKind
	}
	s, err := loadSnapshots(kinds)
	if err != nil {
		return err
	}
	if len(osds) == 0 {
		osds = s.osdStats
	}

	rows := sizeChangeReport(makeSizeState(s.pgs), osds, showUnchanged)
	return renderSizeChange(w, rows)
}

type movementOptions struct {
	state          string
	includeSettled bool
	pgsIncluding   map[int]struct{}
	// locationBucket selects a CRUSH bucket type to resolve OSDs to. If
	// empty, hostnames from 'ceph osd metadata' are used.
	locationBucket string
}

func runPgMovements(w io.Writer, opts movementOptions) error {
	kinds := pgDumpPgsKind
	if opts.locationBucket == "" {
		kinds |= osdMetadataKind
	}
	s, err := loadSnapshots(kinds)
	if err != nil {
		return err
	}

	var hosts hostLookup = s.hosts
	if opts.locationBucket != "" {
		tree, err := cachedOsdTree()
		if err != nil {
			return err
		}
		hosts = &crushLocations{tree: tree, bucketType: opts.locationBucket}
	}

	movements, err := pgMovements(
		s.pgs,
		pfAnd(withState(opts.state), withOsdsIn(opts.pgsIncluding)),
		opts.includeSettled,
		hosts,
	)
	if err != nil {
		return err
	}
	return renderMovements(w, movements)
}

type forceOptions struct {
	minUtilization float64
	osdCount       int
	pgCount        int
	dry            bool
	quiet          bool
}

func runForceBackfills(w, errW io.Writer, opts forceOptions) error {
	s, err := loadSnapshots(pgDumpPgsKind | osdDfKind)
	if err != nil {
		return err
	}

	osds := osdsOver(s.df, opts.minUtilization, opts.osdCount)
	for _, n := range osds {
		slog.Debug("selected OSD", "osd", n.ID, "utilization", n.Utilization)
	}

	candidates := importantBackfills(s.pgs, osds, opts.pgCount)
	if len(candidates) == 0 {
		fmt.Fprintf(errW, "nothing to do\n")
		return nil
	}

	if !opts.quiet {
		if err := renderBackfillCandidates(w, candidates); err != nil {
			return err
		}
	}
	if opts.dry {
		fmt.Fprintf(errW, "No changes made - dry run.\n")
		return nil
	}

	return forceBackfills(candidates)
}

func cephCommand() string {
	if bin := os.Getenv("PGFORECAST_CEPH"); bin != "" {
		return bin
	}
	return "ceph"
}

func runCeph(args ...string) (string, error) {
	return run(append([]string{cephCommand()}, args...)...)
}

func run(command ...string) (string, error) {
	slog.Debug("executing", "command", strings.Join(command, " "))

	cmd := exec.Command(command[0], command[1:]...)
	stdout, err := cmd.Output()

	if err != nil {
		stderr := ""
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = fmt.Sprintf("\nstderr:\n%s", ee.Stderr)
		}
		return "", errors.Wrapf(err, "failed to execute command: %s%s",
			strings.Join(command, " "), stderr)
	}

	return string(stdout), nil
}
