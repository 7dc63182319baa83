package tombo

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/saroudant/tombo/config"
)

const (
	// progressInterval is how many processed reads between progress logs
	progressInterval = 100

	// alignBatchMultiplier bounds the queue of aligned reads awaiting
	// resegmentation to this many alignment batches, so alignment
	// cannot run unboundedly ahead
	alignBatchMultiplier = 5
)

// fileAlign is one read file's parsed alignments, one per basecall
// subgroup, queued between the alignment and resegmentation pools
type fileAlign struct {
	readFn string
	aligns []subgroupAlign
}

// pipelineResult aggregates one run's outcome
type pipelineResult struct {
	// failure messages mapped to the reads that failed with them
	failedReads map[string][]string

	// number of index entries written
	indexed int
}

// resquiggleAllReads streams every read through the alignment pool,
// the resegmentation pool and the single aggregator. Reads are fully
// unordered across the pipeline; the only ordering invariant is within
// one read's own steps. Every failure is read-scoped: it is recorded
// and the batch continues.
func resquiggleAllReads(
	readFns []string, store ReadStore, al aligner, conf config.Config,
	params resquiggleParams) (*pipelineResult, error) {

	batchCh := make(chan []string, len(readFns)/conf.AlignmentBatchSize+1)
	for start := 0; start < len(readFns); start += conf.AlignmentBatchSize {
		end := start + conf.AlignmentBatchSize
		if end > len(readFns) {
			end = len(readFns)
		}
		batchCh <- readFns[start:end]
	}
	close(batchCh)

	// backpressure: alignment blocks once this many files are waiting
	basecallsCh := make(chan fileAlign, conf.AlignmentBatchSize*alignBatchMultiplier)
	failuresCh := make(chan failedRead, conf.AlignmentBatchSize)
	indexCh := make(chan indexEntry, conf.AlignmentBatchSize)

	var alignGroup errgroup.Group
	for i := 0; i < conf.AlignProcesses; i++ {
		alignGroup.Go(func() error {
			alignmentWorker(batchCh, basecallsCh, failuresCh, store, al, conf)
			return nil
		})
	}
	go func() {
		// all alignment workers exited: signal the resegmentation pool
		alignGroup.Wait()
		close(basecallsCh)
	}()

	var numProcessed int64
	var rsqglGroup errgroup.Group
	for i := 0; i < conf.ResquiggleProcesses; i++ {
		rsqglGroup.Go(func() error {
			resquiggleWorker(
				basecallsCh, failuresCh, indexCh, store, params,
				conf.SkipIndex, conf.Quiet, &numProcessed)
			return nil
		})
	}
	go func() {
		rsqglGroup.Wait()
		close(failuresCh)
		close(indexCh)
	}()

	// the single aggregator: drains failures continuously and is the
	// index file's only writer
	var iw *indexWriter
	if !conf.SkipIndex {
		var err error
		if iw, err = newIndexWriter(conf.ReadsDir, conf.CorrectedGroup); err != nil {
			return nil, err
		}
	}

	res := &pipelineResult{failedReads: map[string][]string{}}
	for failuresCh != nil || indexCh != nil {
		select {
		case fr, ok := <-failuresCh:
			if !ok {
				failuresCh = nil
				continue
			}
			res.failedReads[fr.err] = append(res.failedReads[fr.err], fr.read)
		case entry, ok := <-indexCh:
			if !ok {
				indexCh = nil
				continue
			}
			if iw != nil {
				if err := iw.add(entry); err != nil {
					return nil, err
				}
				res.indexed++
			}
		}
	}
	if iw != nil {
		if err := iw.close(); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// alignmentWorker drains read file batches: it extracts each read's
// basecall data, aligns the batch against the genome through the
// external mapper and queues parsed alignments for resegmentation.
// Failures are per read, never per batch.
func alignmentWorker(
	batchCh <-chan []string, basecallsCh chan<- fileAlign,
	failuresCh chan<- failedRead, store ReadStore, al aligner,
	conf config.Config) {

	for batch := range batchCh {
		batchReads := make(map[string]*readData)
		for _, readFn := range batch {
			if err := store.Prep(readFn, conf.CorrectedGroup, conf.Overwrite); err != nil {
				failuresCh <- failedRead{err.Error(), readFn}
				continue
			}
			for _, subgroup := range conf.BasecallSubgroups {
				rd, err := getReadData(store, readFn, conf.BasecallGroup, subgroup)
				if err != nil {
					recordFailure(store, failuresCh, conf.CorrectedGroup,
						subgroup, readFn, err.Error())
					continue
				}
				batchReads[readKeyFor(subgroup, readFn)] = rd
			}
		}
		if len(batchReads) == 0 {
			continue
		}

		batchFailed, byFile := al.alignBatch(batchReads)
		for _, fr := range batchFailed {
			subgroup, readFn := splitReadKey(fr.read)
			recordFailure(store, failuresCh, conf.CorrectedGroup,
				subgroup, readFn, fr.err)
		}
		for readFn, aligns := range byFile {
			basecallsCh <- fileAlign{readFn: readFn, aligns: aligns}
		}
	}
}

// resquiggleWorker drains aligned reads and resegments them. Subgroups
// of one file are processed in sequence so the same read file is never
// open twice at once.
func resquiggleWorker(
	basecallsCh <-chan fileAlign, failuresCh chan<- failedRead,
	indexCh chan<- indexEntry, store ReadStore, params resquiggleParams,
	skipIndex, quiet bool, numProcessed *int64) {

	for fa := range basecallsCh {
		n := atomic.AddInt64(numProcessed, 1)
		if !quiet && n%progressInterval == 0 {
			log.Infof("%d read files processed", n)
		}
		for _, sa := range fa.aligns {
			entry, err := resquiggleRead(store, fa.readFn, sa.data, params, skipIndex)
			if err != nil {
				recordFailure(store, failuresCh, params.correctedGroup,
					sa.subgroup, fa.readFn, err.Error())
				continue
			}
			if entry != nil {
				indexCh <- *entry
			}
		}
	}
}

// recordFailure writes the read's error status beside the read (best
// effort) and queues the failure for the aggregator
func recordFailure(
	store ReadStore, failuresCh chan<- failedRead,
	correctedGroup, subgroup, readFn, msg string) {

	// the status write is best effort: the read may be unreadable
	_ = store.WriteErrorStatus(readFn, correctedGroup, subgroup, msg)
	failuresCh <- failedRead{msg, subgroup + " :: " + readFn}
}
