package sync

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	goSync "sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sidkik/deploy/pkg/errors"
	"github.com/sidkik/deploy/pkg/transport"
)

// DefaultWorkers is the number of files hashed in parallel when
// Options.Workers isn't set.
const DefaultWorkers = 4

// Options configures a single reconciliation run.
type Options struct {
	// LocalRoot is the absolute path of the directory being deployed.
	LocalRoot string

	// RemoteRoot is the directory on the remote host that LocalRoot is
	// mirrored into.
	RemoteRoot string

	// CacheFile is where the hash cache is persisted between runs.
	CacheFile string

	Excluded ExclusionSet

	// Workers bounds the number of files hashed concurrently.
	Workers int

	// Force uploads every file, even if it didn't change since the last run.
	Force bool

	// RetryDeletes keeps the cache record of a file whose remote copy failed
	// to be removed, so that the removal is attempted again on the next run.
	RetryDeletes bool

	// DryRun skips the transforms, and doesn't persist the hash cache.
	DryRun bool
}

// Summary describes the outcome of a run.
type Summary struct {
	Uploaded     int
	Skipped      int
	Failed       int
	Removed      int
	RemoveFailed int
	Bytes        int64
	Duration     time.Duration
}

// Failures returns the number of files that couldn't be uploaded or removed.
func (summary Summary) Failures() int {
	return summary.Failed + summary.RemoveFailed
}

func (summary Summary) String() string {
	return fmt.Sprintf("uploaded %d (%s), unchanged %d, failed %d, "+
		"removed %d, failed to remove %d, in %s",
		summary.Uploaded, humanize.Bytes(uint64(summary.Bytes)), summary.Skipped,
		summary.Failed, summary.Removed, summary.RemoveFailed,
		summary.Duration.Round(time.Millisecond))
}

// Reconciler makes the remote directory match the local one.
type Reconciler struct {
	opts     Options
	session  transport.Session
	pipeline *Pipeline
	log      *log.Logger
}

// NewReconciler returns a Reconciler that deploys through `session`.
func NewReconciler(opts Options, session transport.Session, pipeline *Pipeline,
	logger *log.Logger) *Reconciler {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.Excluded == nil {
		opts.Excluded = ExclusionSet{}
	}
	if pipeline == nil {
		pipeline = NewPipeline(nil)
	}
	return &Reconciler{
		opts:     opts,
		session:  session,
		pipeline: pipeline,
		log:      logger,
	}
}

type digestResult struct {
	path   string
	digest string
	err    error
}

// Run performs a single deployment. Files that changed since the last
// successful upload are transformed and uploaded, and remote files whose
// local source was removed are deleted. The hash cache is only persisted if
// the run completes: a fatal error or a cancelled context leaves the
// previous cache in place.
//
// Per-file failures aren't fatal. They're logged and counted in the
// returned Summary, and the file is tried again on the next run.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	runLog := r.log.WithField("run", uuid.New().String())

	cache, err := LoadHashCache(r.opts.CacheFile)
	if err != nil {
		return Summary{}, errors.WithContext(err, "load hash cache")
	}
	runLog.WithFields(log.Fields{
		"cache":   r.opts.CacheFile,
		"records": cache.Len(),
	}).Debug("Loaded hash cache")

	if err := r.pipeline.Prepare(); err != nil {
		return Summary{}, err
	}
	defer r.pipeline.Cleanup()

	var summary Summary
	registry := RunRegistry{}
	if err := r.uploadChanged(ctx, runLog, cache, registry, &summary); err != nil {
		return summary, err
	}

	// Deletions only start once every local file has been accounted for.
	// Otherwise, a file that wasn't processed yet would look deleted.
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	if err := r.removeOrphans(ctx, runLog, cache, registry, &summary); err != nil {
		return summary, err
	}

	if !r.opts.DryRun {
		if err := cache.Persist(r.opts.CacheFile); err != nil {
			return summary, errors.WithContext(err, "persist hash cache")
		}
	}

	summary.Duration = time.Since(start)
	runLog.WithFields(log.Fields{
		"uploaded": summary.Uploaded,
		"skipped":  summary.Skipped,
		"failed":   summary.Failed,
		"removed":  summary.Removed,
		"bytes":    humanize.Bytes(uint64(summary.Bytes)),
	}).Infof("Deploy finished: %s", summary)
	return summary, nil
}

// uploadChanged explores the local tree and uploads the files that changed.
// Files are hashed in parallel, but the decisions, and all calls to the
// session, are made by the calling goroutine.
func (r *Reconciler) uploadChanged(ctx context.Context, runLog *log.Entry,
	cache *HashCache, registry RunRegistry, summary *Summary) error {

	group, groupCtx := errgroup.WithContext(ctx)
	paths := make(chan string, r.opts.Workers*2)
	results := make(chan digestResult, r.opts.Workers)

	group.Go(func() error {
		defer close(paths)
		return Explore(groupCtx, r.opts.LocalRoot, r.opts.Excluded, paths)
	})

	var hashWaitGroup goSync.WaitGroup
	for i := 0; i < r.opts.Workers; i++ {
		hashWaitGroup.Add(1)
		group.Go(func() error {
			defer hashWaitGroup.Done()
			for localPath := range paths {
				digest, err := HashFile(localPath)
				select {
				case results <- digestResult{localPath, digest, err}:
				case <-groupCtx.Done():
					return groupCtx.Err()
				}
			}
			return nil
		})
	}

	go func() {
		hashWaitGroup.Wait()
		close(results)
	}()

	// Keep draining the results after a failure so that the hash workers
	// can exit.
	for result := range results {
		if groupCtx.Err() != nil {
			continue
		}
		r.syncFile(groupCtx, runLog, cache, registry, result, summary)
	}
	return group.Wait()
}

func (r *Reconciler) syncFile(ctx context.Context, runLog *log.Entry,
	cache *HashCache, registry RunRegistry, result digestResult, summary *Summary) {

	registry.Seen(result.path)
	fileLog := runLog.WithField("path", r.relativePath(result.path))

	if result.err != nil {
		// The file is treated as changed. It's not cached with a digest, so
		// it's retried on the next run even if the upload works.
		fileLog.WithError(result.err).Debug("Failed to hash file")
	} else if !r.opts.Force && cache.Unchanged(result.path, result.digest) {
		summary.Skipped++
		fileLog.Debug("Unchanged")
		return
	}

	remotePath, n, err := r.upload(ctx, result.path)
	if err != nil {
		summary.Failed++
		fileLog.WithError(err).Warn("Failed to upload. It will be retried on the next run.")
		return
	}

	cache.Set(result.path, result.digest)
	summary.Uploaded++
	summary.Bytes += n
	fileLog.WithFields(log.Fields{
		"remote": remotePath,
		"size":   humanize.Bytes(uint64(n)),
	}).Info("Uploaded")
}

// upload transforms `localPath` and copies the result to the remote host. It
// returns the remote path and the number of bytes written.
func (r *Reconciler) upload(ctx context.Context, localPath string) (string, int64, error) {
	artifact := Artifact{
		Path:      localPath,
		Extension: r.pipeline.DestinationExtension(localPath),
	}
	if !r.opts.DryRun {
		var err error
		artifact, err = r.pipeline.Apply(ctx, localPath)
		if err != nil {
			return "", 0, err
		}
	}

	remotePath, err := RemotePath(localPath, r.opts.LocalRoot, r.opts.RemoteRoot, artifact.Extension)
	if err != nil {
		return "", 0, err
	}

	if err := r.session.MkdirAll(path.Dir(remotePath)); err != nil {
		return remotePath, 0, err
	}

	n, err := r.session.Upload(ctx, artifact.Path, remotePath)
	return remotePath, n, err
}

// removeOrphans deletes the remote copy of every cached file that wasn't seen
// during this run.
func (r *Reconciler) removeOrphans(ctx context.Context, runLog *log.Entry,
	cache *HashCache, registry RunRegistry, summary *Summary) error {

	for _, localPath := range registry.Missing(cache) {
		if err := ctx.Err(); err != nil {
			return err
		}

		fileLog := runLog.WithField("path", r.relativePath(localPath))

		// Files that were ignored after being uploaded are left alone on the
		// remote host.
		if r.opts.Excluded.Excludes(r.opts.LocalRoot, localPath) {
			cache.Remove(localPath)
			fileLog.Debug("Now excluded. Forgetting it without removing the remote copy.")
			continue
		}

		remotePath, err := RemotePath(localPath, r.opts.LocalRoot, r.opts.RemoteRoot,
			r.pipeline.DestinationExtension(localPath))
		if err != nil {
			cache.Remove(localPath)
			fileLog.WithError(err).Warn("Cached file is outside the local directory. Forgetting it.")
			continue
		}

		fileLog = fileLog.WithField("remote", remotePath)
		if err := r.session.Remove(remotePath); err != nil {
			summary.RemoveFailed++
			if r.opts.RetryDeletes {
				fileLog.WithError(err).Warn("Failed to remove. It will be retried on the next run.")
				continue
			}
			fileLog.WithError(err).Warn("Failed to remove. The remote copy must be deleted manually.")
		} else {
			summary.Removed++
			fileLog.Info("Removed")
		}
		cache.Remove(localPath)
	}
	return nil
}

func (r *Reconciler) relativePath(localPath string) string {
	if rel, err := filepath.Rel(r.opts.LocalRoot, localPath); err == nil {
		return rel
	}
	return localPath
}
