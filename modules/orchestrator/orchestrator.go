// Package orchestrator implements the orchestrator of spec.md §4.K: it
// drives the full ingest pipeline (fingerprint -> cache check -> parse ->
// store -> background index build -> success), tracks each job's state
// machine, enforces the 60s background-processing deadline, and exposes the
// consumer-facing core API of spec.md §6 (ingest/filter/hydrate/stats/
// clear/clearAll).
//
// Background index building runs on its own goroutine tracked with
// github.com/uplo-tech/threadgroup, the same primitive the teacher uses in
// modules/gateway for every long-running or backgroundable operation:
// threads.Add()/defer threads.Done() around the spawn, threads.Stop() on
// Close to drain whatever is still running.
package orchestrator

import (
	"context"
	"io"
	"sync"

	"github.com/uplo-tech/errors"
	"github.com/uplo-tech/threadgroup"

	"github.com/uplo-tech/graphvault/modules"
	"github.com/uplo-tech/graphvault/modules/fingerprint"
	"github.com/uplo-tech/graphvault/persist"
)

// Orchestrator implements modules.Orchestrator.
type Orchestrator struct {
	parser     modules.ArchiveParser
	badgeIdx   modules.BadgeIndexBuilder
	storage    modules.StorageEngine
	searchIdx  modules.SearchIndexBuilder
	filterEng  modules.FilterEngine
	sliceCache modules.SliceCache

	mu                sync.Mutex
	state             modules.IngestState
	generation        uint64 // bumped every time a new job starts; cancels the prior one
	activeFingerprint string // fingerprint the filter engine/slice cache are currently initialized for

	log     *persist.Logger
	threads threadgroup.ThreadGroup
}

// New wires every pipeline component into a ready-to-use Orchestrator,
// logging to w in the teacher's "PREFIX: message" style (modules/gateway).
func New(parser modules.ArchiveParser, badgeIdx modules.BadgeIndexBuilder, storage modules.StorageEngine, searchIdx modules.SearchIndexBuilder, filterEng modules.FilterEngine, sliceCache modules.SliceCache, w io.Writer) *Orchestrator {
	if w == nil {
		w = io.Discard
	}
	logger, _ := persist.NewLogger(w) // NewLogger only errors on a nil/closed writer, never on io.Discard
	return &Orchestrator{
		parser:     parser,
		badgeIdx:   badgeIdx,
		storage:    storage,
		searchIdx:  searchIdx,
		filterEng:  filterEng,
		sliceCache: sliceCache,
		state:      modules.StateIdle,
		log:        logger,
	}
}

func (o *Orchestrator) setState(s modules.IngestState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// State returns the current ingest job's state.
func (o *Orchestrator) State() modules.IngestState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// beginJob bumps the generation counter, cancelling any previous in-flight
// job: its state updates become no-ops (spec.md §4.K "Starting a new job
// cancels the prior one").
func (o *Orchestrator) beginJob() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.generation++
	o.state = modules.StateLoading
	return o.generation
}

func (o *Orchestrator) isCurrent(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation == gen
}

// Ingest implements modules.Orchestrator. It runs the foreground portion
// (fingerprint, cache check, parse, store) synchronously on the caller's
// goroutine per spec.md §5's "single-threaded cooperative on the foreground
// path," then launches index building in the background, returning to the
// caller as soon as the account set is queryable via range reads (index
// building only accelerates filter/search, per spec.md §4.I's
// hasSearchIndexes fallback).
func (o *Orchestrator) Ingest(ctx context.Context, archiveBytes []byte, name string, onProgress func(modules.IngestProgress)) (modules.IngestResult, error) {
	gen := o.beginJob()
	jobID := persist.UID()
	o.log.Printf("INFO: ingest %s started for %q (%d bytes)", jobID, name, len(archiveBytes))
	emit := func(p modules.IngestProgress) {
		if onProgress != nil && o.isCurrent(gen) {
			onProgress(p)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, modules.IngestDeadline)
	defer cancel()

	fp, err := fingerprint.Compute(archiveBytes)
	if errors.Contains(err, fingerprint.ErrEmptyFile) {
		return o.fail(gen, jobID, modules.ErrCodeEmptyFile, "archive is empty")
	}
	if err != nil {
		return o.fail(gen, jobID, modules.CodeOf(err), err.Error())
	}

	if rec, err := o.storage.GetFile(fp); err != nil {
		return o.fail(gen, jobID, modules.CodeOf(err), err.Error())
	} else if rec != nil {
		// Cache hit: skip parse/store/index entirely (spec.md §4.K
		// "fingerprint -> cache check -> ...").
		o.setState(modules.StateSuccess)
		return modules.IngestResult{Fingerprint: fp, AccountCount: rec.AccountCount}, nil
	}

	if !o.isCurrent(gen) {
		return modules.IngestResult{}, nil
	}
	o.setState(modules.StateParsing)
	emit(modules.IngestProgress{Fraction: 0, TotalCount: 0})

	result, err := o.parser.Parse(archiveBytes)
	if err != nil {
		return o.fail(gen, jobID, modules.CodeOf(err), err.Error())
	}
	if !result.HasMinimalData {
		code, msg := terminalParseError(result)
		return o.fail(gen, jobID, code, msg)
	}

	select {
	case <-ctx.Done():
		return o.timeoutOrCancel(gen, jobID, ctx)
	default:
	}
	if !o.isCurrent(gen) {
		return modules.IngestResult{}, nil
	}

	accounts := o.badgeIdx.Build(result.Data)

	o.setState(modules.StateStoring)
	emit(modules.IngestProgress{Fraction: 0.5, ProcessedCount: 0, TotalCount: len(accounts)})

	select {
	case <-ctx.Done():
		return o.timeoutOrCancel(gen, jobID, ctx)
	default:
	}
	if !o.isCurrent(gen) {
		return modules.IngestResult{}, nil
	}

	if err := o.storage.StoreAll(fp, name, int64(len(archiveBytes)), accounts); err != nil {
		return o.fail(gen, jobID, modules.CodeOf(err), err.Error())
	}

	if !o.isCurrent(gen) {
		return modules.IngestResult{}, nil
	}
	o.setState(modules.StateIndexing)
	emit(modules.IngestProgress{Fraction: 0.9, ProcessedCount: len(accounts), TotalCount: len(accounts)})

	o.buildIndexesBackground(fp, accounts, gen)

	if !o.isCurrent(gen) {
		return modules.IngestResult{}, nil
	}
	o.setState(modules.StateSuccess)
	emit(modules.IngestProgress{Fraction: 1, ProcessedCount: len(accounts), TotalCount: len(accounts)})
	o.log.Printf("INFO: ingest %s succeeded, fingerprint=%s accountCount=%d", jobID, fp, len(accounts))

	return modules.IngestResult{
		Fingerprint:  fp,
		AccountCount: len(accounts),
		Warnings:     result.Warnings,
		Discovery:    result.Discovery,
	}, nil
}

// buildIndexesBackground runs the search index build on a tracked
// goroutine, bounded by its own deadline derived from IngestDeadline. The
// foreground job does not wait on it: a fingerprint is immediately usable
// via the linear-substring filter fallback (spec.md §4.I), and the search
// index simply becomes available once this finishes.
func (o *Orchestrator) buildIndexesBackground(fp string, accounts []modules.Account, gen uint64) {
	if err := o.threads.Add(); err != nil {
		return
	}
	go func() {
		defer o.threads.Done()
		ctx, cancel := context.WithTimeout(context.Background(), modules.IngestDeadline)
		defer cancel()
		if !o.isCurrent(gen) {
			return
		}
		_ = o.searchIdx.Build(ctx, fp, accounts)
	}()
}

// fail transitions the job to Error and returns the terminal failure
// (spec.md §7 "on terminal error the orchestrator sets {uploadStatus:
// Error, uploadError: message, fileMetadata: null}").
func (o *Orchestrator) fail(gen uint64, jobID string, code modules.ErrorCode, message string) (modules.IngestResult, error) {
	if !o.isCurrent(gen) {
		// A superseded job's failure is never surfaced (spec.md §4.K
		// "its state updates must become no-ops").
		return modules.IngestResult{}, nil
	}
	o.setState(modules.StateError)
	o.log.Printf("ERROR: ingest %s failed: code=%s message=%s", jobID, code, message)
	return modules.IngestResult{}, modules.NewCodedError(code, message)
}

// timeoutOrCancel distinguishes a deadline expiry (surfaced as
// WorkerTimeout) from ordinary caller cancellation (never surfaced as an
// error; the consumer resets silently, spec.md §7).
func (o *Orchestrator) timeoutOrCancel(gen uint64, jobID string, ctx context.Context) (modules.IngestResult, error) {
	if errors.Contains(ctx.Err(), context.DeadlineExceeded) {
		return o.fail(gen, jobID, modules.ErrCodeWorkerTimeout, "background processing exceeded the 60s deadline")
	}
	if !o.isCurrent(gen) {
		return modules.IngestResult{}, nil
	}
	o.setState(modules.StateIdle)
	return modules.IngestResult{}, nil
}

// terminalParseError picks the single error-severity warning a failed parse
// produced as the job's terminal error (spec.md §7 "parser errors with
// severity=error abort the pipeline and become the job's terminal error").
func terminalParseError(result modules.ParseResult) (modules.ErrorCode, string) {
	for _, w := range result.Warnings {
		if w.Severity == modules.SeverityError {
			return w.Code, w.Message
		}
	}
	return modules.ErrCodeInvalidDataStruct, "archive did not yield a usable account set"
}

// Filter implements modules.Orchestrator by initializing the filter engine
// against fingerprint (a no-op if already initialized for it) and
// delegating.
func (o *Orchestrator) Filter(ctx context.Context, fingerprint, query string, badges []modules.Badge) ([]uint32, error) {
	if err := o.ensureFilterInit(ctx, fingerprint); err != nil {
		return nil, err
	}
	indices, err := o.filterEng.FilterToIndices(ctx, query, badges)
	if err != nil {
		return nil, modules.WrapCodedError(modules.CodeOf(err), "filter failed", err)
	}
	return indices, nil
}

// Hydrate implements modules.Orchestrator, reading through the slice cache
// when one is wired (spec.md §4.J) and falling back to a direct filter
// engine load otherwise.
func (o *Orchestrator) Hydrate(ctx context.Context, fingerprint string, indices []uint32) ([]modules.Account, error) {
	if err := o.ensureFilterInit(ctx, fingerprint); err != nil {
		return nil, err
	}
	if o.sliceCache != nil {
		if out := o.sliceCache.GetByIndices(indices); len(out) == len(indices) {
			return out, nil
		}
	}
	accounts, err := o.filterEng.LoadAccountsByIndices(ctx, indices)
	if err != nil {
		return nil, modules.WrapCodedError(modules.CodeOf(err), "hydrate failed", err)
	}
	return accounts, nil
}

func (o *Orchestrator) ensureFilterInit(ctx context.Context, fp string) error {
	o.mu.Lock()
	current := o.activeFingerprint
	o.mu.Unlock()
	if current == fp {
		return nil
	}
	if err := o.filterEng.Init(ctx, fp, 0); err != nil {
		return modules.WrapCodedError(modules.CodeOf(err), "filter engine init failed", err)
	}
	if o.sliceCache != nil {
		rec, err := o.storage.GetFile(fp)
		if err == nil && rec != nil {
			o.sliceCache.SetFingerprint(fp, rec.AccountCount)
		}
	}
	o.mu.Lock()
	o.activeFingerprint = fp
	o.mu.Unlock()
	return nil
}

// Stats implements modules.Orchestrator.
func (o *Orchestrator) Stats(ctx context.Context, fingerprint string) (map[modules.Badge]int, error) {
	stats, err := o.storage.GetBadgeStats(fingerprint)
	if err != nil {
		return nil, modules.WrapCodedError(modules.CodeOf(err), "stats failed", err)
	}
	return stats, nil
}

// Clear implements modules.Orchestrator.
func (o *Orchestrator) Clear(fingerprint string) error {
	o.mu.Lock()
	if o.activeFingerprint == fingerprint {
		o.activeFingerprint = ""
	}
	o.mu.Unlock()
	o.filterEng.Clear()
	if err := o.storage.ClearFile(fingerprint); err != nil {
		return modules.WrapCodedError(modules.CodeOf(err), "clear failed", err)
	}
	return nil
}

// ClearAll implements modules.Orchestrator: it clears every file currently
// on record.
func (o *Orchestrator) ClearAll() error {
	files, err := o.storage.GetAllFiles()
	if err != nil {
		return modules.WrapCodedError(modules.CodeOf(err), "clearAll failed", err)
	}
	for _, f := range files {
		if err := o.Clear(f.Fingerprint); err != nil {
			return err
		}
	}
	return nil
}

// Close implements modules.Orchestrator, draining any in-flight background
// index build before returning.
func (o *Orchestrator) Close() error {
	if err := o.threads.Stop(); err != nil {
		return err
	}
	if o.sliceCache != nil {
		return o.sliceCache.Close()
	}
	return nil
}
