// Package pipeline implements the Scan Pipeline (§4.E): one producer, N
// hash workers, and one writer, connected by bounded channels and torn
// down cleanly on completion or cancellation.
package pipeline

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	derrors "github.com/jgaa/deldupes/internal/common/errors"
	"github.com/jgaa/deldupes/internal/common/logger"
	"github.com/jgaa/deldupes/internal/fsops"
	"github.com/jgaa/deldupes/internal/hashing"
	"github.com/jgaa/deldupes/internal/model"
	"github.com/jgaa/deldupes/internal/pathnorm"
	"github.com/jgaa/deldupes/internal/repo"

	"go.uber.org/zap"
)

// Options configures the scan pipeline's channel capacities and commit
// batching.
type Options struct {
	Parallelism      int // 0 = GOMAXPROCS
	JobQueueSize     int
	ResultQueueSize  int
	BatchMaxCount    int
	BatchMaxInterval time.Duration
}

const (
	defaultJobQueueSize     = 256
	defaultResultQueueSize  = 256
	defaultBatchMaxCount    = 2000
	defaultBatchMaxInterval = time.Second
)

func (o Options) withDefaults() Options {
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.GOMAXPROCS(0)
	}
	if o.JobQueueSize <= 0 {
		o.JobQueueSize = defaultJobQueueSize
	}
	if o.ResultQueueSize <= 0 {
		o.ResultQueueSize = defaultResultQueueSize
	}
	if o.BatchMaxCount <= 0 {
		o.BatchMaxCount = defaultBatchMaxCount
	}
	if o.BatchMaxInterval <= 0 {
		o.BatchMaxInterval = defaultBatchMaxInterval
	}
	return o
}

// Stats summarizes one Scan run.
type Stats struct {
	Visited int
	Hashed  int
	Skipped int
	Errors  int
	Created int
}

type job struct {
	path      string
	pathID    model.PathID
	size      uint64
	mtimeSecs uint64
}

type result struct {
	pathID     model.PathID
	path       string
	size       uint64
	mtimeSecs  uint64
	hash256    model.Hash256
	hasPrefix  bool
	sha1Prefix model.Prefix20
	skip       bool
	err        error
}

// Scan walks root with walker, hashing changed files with hasher and
// recording observations into r, applying the writer's batching policy
// from opts.
func Scan(ctx context.Context, r *repo.Repo, fs fsops.Filesystem, walker fsops.Walker, hasher hashing.Hasher, root string, opts Options) (Stats, error) {
	opts = opts.withDefaults()
	log := logger.WithComponent("pipeline")

	jobCh := make(chan job, opts.JobQueueSize)
	resultCh := make(chan result, opts.ResultQueueSize)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return produce(gctx, r, walker, root, jobCh, resultCh, log)
	})

	var workersWG sync.WaitGroup
	for i := 0; i < opts.Parallelism; i++ {
		workersWG.Add(1)
		g.Go(func() error {
			defer workersWG.Done()
			return hashWorker(gctx, fs, hasher, jobCh, resultCh)
		})
	}
	go func() {
		workersWG.Wait()
		close(resultCh)
	}()

	var stats Stats
	g.Go(func() error {
		return writeLoop(r, resultCh, opts, log, &stats)
	})

	if err := g.Wait(); err != nil {
		return stats, derrors.Wrap("pipeline.Scan", err)
	}
	return stats, nil
}

// produce is the main producer: it enumerates root, normalizes and interns
// each path, and either confirms an unchanged identity directly (the
// identity shortcut) or dispatches a HashJob. It closes jobCh on
// completion so hash workers know to exit once drained.
func produce(ctx context.Context, r *repo.Repo, walker fsops.Walker, root string, jobCh chan<- job, resultCh chan<- result, log *zap.Logger) error {
	defer close(jobCh)

	seen := make(map[string]struct{})

	return walker.Walk(root, func(info fsops.Info, walkErr error) error {
		if walkErr != nil {
			log.Warn("walk error", zap.Error(walkErr))
			return nil
		}
		if info.IsDir {
			return nil
		}

		norm, err := pathnorm.Normalize(info.Path)
		if err != nil {
			log.Warn("normalize failed", zap.String("path", info.Path), zap.Error(err))
			return nil
		}
		if _, dup := seen[norm]; dup {
			return nil
		}
		seen[norm] = struct{}{}

		pathID, err := r.InternPath(norm)
		if err != nil {
			log.Warn("intern_path failed", zap.String("path", norm), zap.Error(err))
			return nil
		}

		size := uint64(info.Size)
		mtimeSecs := uint64(info.MtimeUnix)

		if curID, found, err := r.CurrentVersion(pathID); err == nil && found {
			if meta, err := r.GetMeta(curID); err == nil && meta.MatchesIdentity(size, mtimeSecs) {
				return sendResult(ctx, resultCh, result{
					pathID: pathID, path: norm, size: size, mtimeSecs: mtimeSecs,
					hash256: meta.Hash256, hasPrefix: meta.HasPrefix, sha1Prefix: meta.Sha1Prefix,
					skip: true,
				})
			}
		}

		select {
		case jobCh <- job{path: norm, pathID: pathID, size: size, mtimeSecs: mtimeSecs}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func sendResult(ctx context.Context, resultCh chan<- result, res result) error {
	select {
	case resultCh <- res:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// hashWorker consumes HashJobs until jobCh is closed and drained, emitting
// a HashResult (or an error result) for each.
func hashWorker(ctx context.Context, fs fsops.Filesystem, hasher hashing.Hasher, jobCh <-chan job, resultCh chan<- result) error {
	for {
		select {
		case j, ok := <-jobCh:
			if !ok {
				return nil
			}
			res := hashOne(fs, hasher, j)
			if err := sendResult(ctx, resultCh, res); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func hashOne(fs fsops.Filesystem, hasher hashing.Hasher, j job) result {
	f, err := fs.Open(j.path)
	if err != nil {
		return result{pathID: j.pathID, path: j.path, err: err}
	}
	defer f.Close()

	hr, err := hasher.Hash(f)
	if err != nil {
		return result{pathID: j.pathID, path: j.path, err: err}
	}

	return result{
		pathID:     j.pathID,
		path:       j.path,
		size:       hr.Size,
		mtimeSecs:  j.mtimeSecs,
		hash256:    hr.Hash256,
		hasPrefix:  hr.HasPrefix,
		sha1Prefix: hr.Sha1Prefix,
	}
}

// writeLoop is the single writer: it drains resultCh, batching observations
// bounded by count and elapsed time, applying each batch in one durable
// commit through repo.ApplyBatch.
func writeLoop(r *repo.Repo, resultCh <-chan result, opts Options, log *zap.Logger, stats *Stats) error {
	batch := make([]repo.Observation, 0, opts.BatchMaxCount)

	ticker := time.NewTicker(opts.BatchMaxInterval)
	defer ticker.Stop()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		results, err := r.ApplyBatch(batch)
		if err != nil {
			return err
		}
		for _, res := range results {
			if res.Created {
				stats.Created++
			}
		}
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case res, ok := <-resultCh:
			if !ok {
				return flush()
			}
			stats.Visited++
			if res.err != nil {
				stats.Errors++
				log.Warn("hash failed, skipping file", zap.String("path", res.path), zap.Error(res.err))
				continue
			}
			if res.skip {
				stats.Skipped++
			} else {
				stats.Hashed++
			}
			batch = append(batch, repo.Observation{
				PathID:     res.pathID,
				Size:       res.size,
				MtimeSecs:  res.mtimeSecs,
				Hash256:    res.hash256,
				HasPrefix:  res.hasPrefix,
				Sha1Prefix: res.sha1Prefix,
			})
			if len(batch) >= opts.BatchMaxCount {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		}
	}
}
