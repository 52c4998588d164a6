package engine

import (
	"io"
	"log"
	"time"

	"github.com/cqlite-db/cqlite/compaction"
	"github.com/cqlite-db/cqlite/compress"
)

// Logger is the narrow interface Options.Logger must satisfy; *log.Logger
// already does, so a host process can pass its own logger in rather than
// the teacher's global log.SetOutput, which isn't safe to share with
// other users of the standard logger once this is embedded.
type Logger interface {
	Printf(format string, args ...any)
}

// Options configures an Engine. It replaces the teacher's growing list of
// positional Open(...) arguments with a single struct, since this spec's
// configuration surface (compaction tuning, compression, bloom FP rate,
// mmap threshold, gc grace, sort materialization limit) is much larger
// than the teacher's four knobs. There is no memory-ceiling or
// cancellation-polling setting.
type Options struct {
	// Directory is where every table's SSTable generations and the
	// shared write-ahead log live.
	Directory string

	// MemtableFlushThreshold is the per-table flush trigger in bytes
	// (memtable.DefaultFlushThreshold if zero).
	MemtableFlushThreshold int64

	// FlushPollInterval governs how often the background flusher checks
	// every table's memtable against its flush threshold.
	FlushPollInterval time.Duration

	// CompactionInterval governs how often the background compactor
	// reconsiders every table's generation set for size-tiered buckets.
	CompactionInterval time.Duration

	// Compaction carries the size-tiered policy knobs (min
	// threshold, bucket factor, gc grace, worker concurrency); GCGrace
	// defaults from Options.GCGraceSeconds when zero.
	Compaction compaction.Config

	// Compression is the algorithm new SSTable generations are written
	// with.
	Compression compress.Algorithm

	// BlockTargetBytes is the uncompressed per-block target passed to
	// every SSTable writer (sstable.DefaultBlockTargetBytes if zero).
	BlockTargetBytes int

	// BloomFPRate is the target false-positive rate for new SSTables'
	// bloom filters (spec 4.5 default 0.01 if zero).
	BloomFPRate float64

	// MmapThreshold is forwarded to every sstable.Reader
	// (sstable.DefaultMmapThreshold if zero).
	MmapThreshold int64

	// GCGraceSeconds is the default gc_grace_seconds for tables that
	// don't set their own WITH option.
	GCGraceSeconds int64

	// SortMaterializationLimit bounds how large a query result set may
	// grow before an unsatisfied explicit sort is refused
	// (query.DefaultSortMaterializationLimit if zero).
	SortMaterializationLimit int

	Logger Logger
}

func withDefaults(opts Options) Options {
	if opts.MemtableFlushThreshold <= 0 {
		opts.MemtableFlushThreshold = 4 * 1024 * 1024
	}
	if opts.FlushPollInterval <= 0 {
		opts.FlushPollInterval = 200 * time.Millisecond
	}
	if opts.CompactionInterval <= 0 {
		opts.CompactionInterval = 30 * time.Second
	}
	if opts.Compaction.MinThreshold <= 0 {
		opts.Compaction = compaction.DefaultConfig()
	}
	if opts.Compaction.GCGraceSeconds <= 0 {
		opts.Compaction.GCGraceSeconds = opts.GCGraceSeconds
	}
	if opts.Compaction.Compression == 0 && opts.Compression != 0 {
		opts.Compaction.Compression = opts.Compression
	}
	if opts.Compaction.BlockTargetBytes <= 0 {
		opts.Compaction.BlockTargetBytes = opts.BlockTargetBytes
	}
	if opts.Compaction.BloomFPRate <= 0 {
		opts.Compaction.BloomFPRate = opts.BloomFPRate
	}
	if opts.GCGraceSeconds <= 0 {
		opts.GCGraceSeconds = 10 * 24 * 3600
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return opts
}
