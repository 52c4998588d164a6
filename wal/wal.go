// Package wal is the engine's write-ahead log: every memtable mutation is
// appended here before it is acknowledged, so a crash between writes and
// the next flush can be recovered by replaying the log against a fresh
// memtable. It is not part of the Cassandra "oa" on-disk format the spec
// describes — it is purely local durability plumbing the spec's memtable
// section leaves to the host engine, built the way the teacher builds its
// own WAL: a page-linked append file (pager.Pager) fed by a single
// background writer goroutine.
package wal

import (
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/cqlite-db/cqlite/cqlerr"
	"github.com/cqlite-db/cqlite/pager"
)

// queueDepth bounds how many appended-but-not-yet-durable records the
// background writer may lag behind by before Append starts blocking.
const queueDepth = 1024

// WAL is a single append-only log file shared by every table in one
// engine instance; records carry their own table name.
type WAL struct {
	path string
	pg   *pager.Pager

	queue chan walJob
	done  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// walJob is either a record to append (rec set) or a reset request
// (reset set) — both travel through the same queue so every mutation of
// w.pg happens on the single loop goroutine, with no locking needed.
type walJob struct {
	rec   Record
	reset bool
	errc  chan error
}

// Open opens (or creates) the log file at path and starts its background
// writer goroutine.
func Open(path string) (*WAL, error) {
	pg, err := pager.OpenPager(path, os.O_RDWR|os.O_CREATE, 0644, pager.DefaultPageSize)
	if err != nil {
		return nil, cqlerr.New(cqlerr.Io, "wal.Open", err)
	}

	w := &WAL{
		path:  path,
		pg:    pg,
		queue: make(chan walJob, queueDepth),
		done:  make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Append durably queues rec for writing and blocks until the background
// writer has committed it to the page file (not fsynced per-call — the
// pager's own periodic/escalating sync policy governs fsync timing, same
// as the teacher's WAL).
func (w *WAL) Append(rec Record) error {
	errc := make(chan error, 1)
	select {
	case w.queue <- walJob{rec: rec, errc: errc}:
	case <-w.done:
		return cqlerr.New(cqlerr.Io, "wal.Append", fmt.Errorf("wal closed"))
	}
	return <-errc
}

func (w *WAL) loop() {
	defer w.wg.Done()
	for {
		select {
		case job := <-w.queue:
			job.errc <- w.runJob(job)
		case <-w.done:
			// drain whatever is left in the queue before exiting so no
			// acknowledged Append/Reset silently vanishes
			for {
				select {
				case job := <-w.queue:
					job.errc <- w.runJob(job)
				default:
					return
				}
			}
		}
	}
}

func (w *WAL) runJob(job walJob) error {
	if job.reset {
		return w.doReset()
	}
	_, err := w.pg.Write(job.rec.encode())
	return err
}

func (w *WAL) doReset() error {
	if err := w.pg.Close(); err != nil {
		return cqlerr.New(cqlerr.Io, "wal.Reset", err)
	}
	if err := os.Truncate(w.path, 0); err != nil {
		return cqlerr.New(cqlerr.Io, "wal.Reset", err)
	}
	pg, err := pager.OpenPager(w.path, os.O_RDWR|os.O_CREATE, 0644, pager.DefaultPageSize)
	if err != nil {
		return cqlerr.New(cqlerr.Io, "wal.Reset", err)
	}
	w.pg = pg
	return nil
}

// Close stops the background writer (after it drains the queue) and
// closes the underlying page file.
func (w *WAL) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		err = w.pg.Close()
	})
	return err
}

// Replay calls fn once per record in the log, in append order, stopping
// at the first error either from decoding or from fn itself. Callers must
// finish replaying before accepting new Appends — it reads w.pg directly
// rather than going through the job queue, since recovery happens before
// the engine opens the table up to writers.
func (w *WAL) Replay(fn func(Record) error) error {
	pageCount := w.pg.Count()
	pageSize := w.pg.PageSize()

	for pageID := int64(0); pageID < pageCount; {
		padded, err := w.pg.GetPage(pageID)
		if err != nil {
			return cqlerr.New(cqlerr.Io, "wal.Replay", err)
		}

		rec, consumed, err := decodeRecord(padded)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}

		pagesUsed := int64(math.Ceil(float64(consumed) / float64(pageSize)))
		if pagesUsed < 1 {
			pagesUsed = 1
		}
		pageID += pagesUsed
	}
	return nil
}

// Reset discards every record currently in the log. The engine calls this
// immediately after a memtable's contents are durably flushed to an
// SSTable, since the log's only job is to survive a crash between a write
// and the flush that makes it visible in the permanent generation set.
// Like Append, it runs on the background loop goroutine so it never races
// a concurrent Append's use of the page file.
func (w *WAL) Reset() error {
	errc := make(chan error, 1)
	select {
	case w.queue <- walJob{reset: true, errc: errc}:
	case <-w.done:
		return cqlerr.New(cqlerr.Io, "wal.Reset", fmt.Errorf("wal closed"))
	}
	return <-errc
}
