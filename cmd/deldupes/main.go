// Package main provides the entry point for the deldupes CLI (§10): a thin
// front-end over the scan pipeline, duplicate query, and deletion planner.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jgaa/deldupes/internal/common/config"
	derrors "github.com/jgaa/deldupes/internal/common/errors"
	"github.com/jgaa/deldupes/internal/common/logger"
	"github.com/jgaa/deldupes/internal/fsops"
	"github.com/jgaa/deldupes/internal/hashing"
	"github.com/jgaa/deldupes/internal/lifecycle"
	"github.com/jgaa/deldupes/internal/model"
	"github.com/jgaa/deldupes/internal/pathnorm"
	"github.com/jgaa/deldupes/internal/pipeline"
	"github.com/jgaa/deldupes/internal/planner"
	"github.com/jgaa/deldupes/internal/query"

	"go.uber.org/zap"
)

const exitCoreError = 2

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitCoreError
	}
	if err := logger.Init(logger.Config(cfg.Logger)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return exitCoreError
	}
	defer logger.Sync()

	if len(args) < 2 {
		usage()
		return exitCoreError
	}

	cmd, dbDir, rest := args[0], args[1], args[2:]
	switch cmd {
	case "scan":
		return cmdScan(cfg, dbDir, rest)
	case "dupes":
		return cmdDupes(dbDir, rest)
	case "potential":
		return cmdPotential(dbDir)
	case "check":
		return cmdCheck(dbDir, rest)
	case "delete":
		return cmdDelete(dbDir, rest)
	default:
		usage()
		return exitCoreError
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  deldupes scan <db-dir> <root>...
  deldupes dupes <db-dir> [--scope path...]
  deldupes potential <db-dir>
  deldupes check <db-dir> (--path p | --hash h)
  deldupes delete <db-dir> [--scope path...] [--strategy name] [--apply]`)
}

func openDB(op, dbDir string) (*lifecycle.Database, int, bool) {
	db, err := lifecycle.Open(dbDir)
	if err != nil {
		logger.WithComponent("cli").Error(op+" failed to open database", zap.Error(err))
		return nil, exitCoreError, false
	}
	return db, 0, true
}

func cmdScan(cfg *config.Config, dbDir string, roots []string) int {
	if len(roots) == 0 {
		usage()
		return exitCoreError
	}

	db, code, ok := openDB("scan", dbDir)
	if !ok {
		return code
	}
	defer db.Close()

	fs := fsops.NewOSFilesystem()
	hasher := hashing.NewBlake3SHA1()
	opts := pipeline.Options{
		Parallelism:      cfg.Scan.Parallelism,
		JobQueueSize:     cfg.Scan.JobQueueSize,
		ResultQueueSize:  cfg.Scan.ResultQueueSize,
		BatchMaxCount:    cfg.Scan.BatchMaxCount,
		BatchMaxInterval: cfg.Scan.BatchMaxInterval,
	}

	var total pipeline.Stats
	for _, root := range roots {
		stats, err := pipeline.Scan(context.Background(), db.Repo, fs, fs, hasher, root, opts)
		if err != nil {
			logger.WithComponent("cli").Error("scan failed", zap.String("root", root), zap.Error(err))
			return exitCoreError
		}
		total.Visited += stats.Visited
		total.Hashed += stats.Hashed
		total.Skipped += stats.Skipped
		total.Errors += stats.Errors
		total.Created += stats.Created
	}

	fmt.Printf("visited=%d hashed=%d skipped=%d errors=%d new_versions=%d\n",
		total.Visited, total.Hashed, total.Skipped, total.Errors, total.Created)
	return 0
}

func cmdDupes(dbDir string, rest []string) int {
	fset := flag.NewFlagSet("dupes", flag.ExitOnError)
	var scope scopeFlag
	fset.Var(&scope, "scope", "restrict to this path prefix (repeatable)")
	_ = fset.Parse(rest)

	normScope, err := normalizeScope(scope)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCoreError
	}

	db, code, ok := openDB("dupes", dbDir)
	if !ok {
		return code
	}
	defer db.Close()

	q := query.New(db.Repo, nil, nil)
	groups, err := q.ExactDuplicates(normScope)
	if err != nil {
		logger.WithComponent("cli").Error("dupes failed", zap.Error(err))
		return exitCoreError
	}
	printGroups(groups)
	return 0
}

func cmdPotential(dbDir string) int {
	db, code, ok := openDB("potential", dbDir)
	if !ok {
		return code
	}
	defer db.Close()

	q := query.New(db.Repo, nil, nil)
	groups, err := q.PotentialDuplicates()
	if err != nil {
		logger.WithComponent("cli").Error("potential failed", zap.Error(err))
		return exitCoreError
	}
	printGroups(groups)
	return 0
}

func cmdCheck(dbDir string, rest []string) int {
	fset := flag.NewFlagSet("check", flag.ExitOnError)
	path := fset.String("path", "", "check the current facts known about this path")
	hashHex := fset.String("hash", "", "list every member of this content hash")
	_ = fset.Parse(rest)

	db, code, ok := openDB("check", dbDir)
	if !ok {
		return code
	}
	defer db.Close()

	fs := fsops.NewOSFilesystem()
	q := query.New(db.Repo, fs, hashing.NewBlake3SHA1())

	switch {
	case *path != "":
		fact, err := q.CheckByPath(*path)
		if err != nil {
			logger.WithComponent("cli").Error("check failed", zap.Error(err))
			return exitCoreError
		}
		fmt.Printf("path_id=%d has_current=%v current_file_id=%d state=%s on_disk=%v identity_stale=%v\n",
			fact.PathID, fact.HasCurrent, fact.CurrentFileID, fact.State, fact.OnDisk, fact.IdentityStale)
		return 0
	case *hashHex != "":
		h, err := parseHash(*hashHex)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitCoreError
		}
		members, err := q.CheckByHash(h)
		if err != nil {
			logger.WithComponent("cli").Error("check failed", zap.Error(err))
			return exitCoreError
		}
		for _, m := range members {
			fmt.Printf("%d\t%s\n", m.FileID, m.Path)
		}
		return 0
	default:
		usage()
		return exitCoreError
	}
}

func cmdDelete(dbDir string, rest []string) int {
	fset := flag.NewFlagSet("delete", flag.ExitOnError)
	var scope scopeFlag
	fset.Var(&scope, "scope", "restrict deletions to this path prefix (repeatable)")
	strategyName := fset.String("strategy", string(planner.DefaultStrategy), "preserve strategy")
	apply := fset.Bool("apply", false, "actually unlink files (default: dry-run)")
	_ = fset.Parse(rest)

	normScope, err := normalizeScope(scope)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCoreError
	}

	db, code, ok := openDB("delete", dbDir)
	if !ok {
		return code
	}
	defer db.Close()

	q := query.New(db.Repo, nil, nil)
	groups, err := q.ExactDuplicates(normScope)
	if err != nil {
		logger.WithComponent("cli").Error("delete failed", zap.Error(err))
		return exitCoreError
	}

	plan, err := planner.Plan(groups, normScope, planner.Strategy(*strategyName))
	if err != nil {
		logger.WithComponent("cli").Error("delete failed", zap.Error(err))
		return exitCoreError
	}

	if len(plan.Entries) == 0 {
		if plan.ScopeEmpty {
			fmt.Println("scope matches no live duplicate files")
		} else {
			fmt.Println("nothing to delete")
		}
		return 0
	}

	if !*apply {
		printPlan(plan)
		return 0
	}

	fs := fsops.NewOSFilesystem()
	outcomes, err := planner.Apply(db.Repo, fs, plan)
	if err != nil {
		logger.WithComponent("cli").Error("delete apply failed", zap.Error(err))
		return exitCoreError
	}

	failed := 0
	for _, o := range outcomes {
		switch {
		case o.Deleted:
			fmt.Printf("deleted\t%s\n", o.Member.Path)
		case o.Skipped:
			fmt.Printf("skipped\t%s\t%s\n", o.Member.Path, o.Reason)
		default:
			failed++
			fmt.Printf("failed\t%s\t%s\n", o.Member.Path, o.Reason)
		}
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func printPlan(plan planner.PlanResult) {
	for _, e := range plan.Entries {
		fmt.Printf("hash=%s\n", hex.EncodeToString(e.Hash256[:]))
		for _, k := range e.Keepers {
			fmt.Printf("  keep\t%s\n", k.Path)
		}
		for _, d := range e.Deletes {
			fmt.Printf("  delete\t%s\n", d.Path)
		}
	}
}

func printGroups(groups []query.Group) {
	for _, g := range groups {
		fmt.Printf("hash=%s\n", hex.EncodeToString(g.Hash256[:]))
		for _, m := range g.Members {
			fmt.Printf("  %d\t%s\n", m.FileID, m.Path)
		}
	}
}

func parseHash(s string) (model.Hash256, error) {
	var h model.Hash256
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return h, derrors.E("main.parseHash", derrors.ErrInvalidInput, err, s)
	}
	if len(b) != model.HashSize {
		return h, derrors.E("main.parseHash", derrors.ErrInvalidInput, nil,
			fmt.Sprintf("hash must be %d bytes hex-encoded, got %d", model.HashSize, len(b)))
	}
	copy(h[:], b)
	return h, nil
}

// normalizeScope normalizes every --scope prefix the same way the indexed
// paths themselves are normalized, so a relative or unclean scope argument
// still matches the absolute, lexically-cleaned paths stored in the
// database instead of silently matching nothing.
func normalizeScope(scope []string) ([]string, error) {
	if len(scope) == 0 {
		return nil, nil
	}
	out := make([]string, len(scope))
	for i, s := range scope {
		norm, err := pathnorm.Normalize(s)
		if err != nil {
			return nil, err
		}
		out[i] = norm
	}
	return out, nil
}

// scopeFlag collects repeated --scope flags into a slice.
type scopeFlag []string

func (s *scopeFlag) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *scopeFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}
