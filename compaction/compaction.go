// Package compaction implements spec 4.11's size-tiered strategy: bucket
// on-disk generations by size, k-way merge each bucket's rows into one
// new generation, and drop rows whose tombstones have passed gc_grace —
// generalizing the teacher's fixed-pairing compact() to N-way buckets.
package compaction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/cqlite-db/cqlite/compress"
	"github.com/cqlite-db/cqlite/cqlerr"
	"github.com/cqlite-db/cqlite/sstable"
	"github.com/cqlite-db/cqlite/types"
)

// Generation describes one live on-disk SSTable the catalog knows about.
type Generation struct {
	Path   string
	Number uint32
	Size   int64
}

// Config tunes bucketing, parallelism, and the output writer.
type Config struct {
	// MinThreshold is the fewest generations a bucket needs before it is
	// worth compacting (spec 4.11 default 4).
	MinThreshold int
	// BucketFactor is how close two generations' sizes must be (as a
	// ratio) to land in the same bucket (spec 4.11 default ~2.0).
	BucketFactor float64
	// MaxConcurrency bounds how many buckets compact at once; 0 means
	// errgroup's default of unlimited.
	MaxConcurrency int
	// GCGraceSeconds is the table's gc_grace_seconds (schema.TableSchema).
	GCGraceSeconds int64

	Compression      compress.Algorithm
	BlockTargetBytes int
	BloomFPRate      float64
}

// DefaultConfig matches spec 4.11's stated defaults.
func DefaultConfig() Config {
	return Config{
		MinThreshold: 4,
		BucketFactor: 2.0,
	}
}

// Bucket groups generations by size-tiered proximity: sort ascending by
// size, then grow a bucket for as long as the next generation's size is
// within BucketFactor of the bucket's running average. Buckets smaller
// than MinThreshold are dropped (not worth compacting yet), grounded on
// the teacher's compact() which only acts once enough sstables have
// accumulated.
func Bucket(generations []Generation, cfg Config) [][]Generation {
	if len(generations) == 0 {
		return nil
	}
	sorted := make([]Generation, len(generations))
	copy(sorted, generations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Size < sorted[j].Size })

	var buckets [][]Generation
	cur := []Generation{sorted[0]}
	curTotal := sorted[0].Size

	for _, g := range sorted[1:] {
		avg := curTotal / int64(len(cur))
		if avg == 0 {
			avg = 1
		}
		ratio := float64(g.Size) / float64(avg)
		if ratio <= cfg.BucketFactor {
			cur = append(cur, g)
			curTotal += g.Size
			continue
		}
		buckets = append(buckets, cur)
		cur = []Generation{g}
		curTotal = g.Size
	}
	buckets = append(buckets, cur)

	out := buckets[:0]
	for _, b := range buckets {
		if len(b) >= cfg.MinThreshold {
			out = append(out, b)
		}
	}
	return out
}

// Plan is one bucket's compaction job: the generations to read, the
// generation number to write, and whether Inputs covers every
// generation the table currently has (in which case an expired
// tombstone may be physically dropped instead of rewritten, since no
// older untouched generation could still need it to shadow a value).
type Plan struct {
	Inputs     []Generation
	OutputGen  uint32
	Full       bool
	OutputPath string
}

// PlanCompactions buckets generations and assigns each bucket an output
// generation number (one past the highest number in play).
func PlanCompactions(generations []Generation, cfg Config, dir string) []Plan {
	buckets := Bucket(generations, cfg)
	if len(buckets) == 0 {
		return nil
	}

	nextGen := uint32(0)
	for _, g := range generations {
		if g.Number >= nextGen {
			nextGen = g.Number + 1
		}
	}

	full := len(generations)
	var plans []Plan
	for _, b := range buckets {
		p := Plan{Inputs: b, OutputGen: nextGen, Full: len(b) == full}
		p.OutputPath = filepath.Join(dir, fmt.Sprintf("generation-%d.db", p.OutputGen))
		plans = append(plans, p)
		nextGen++
	}
	return plans
}

// Result reports the outcome of one compaction plan.
type Result struct {
	Plan        Plan
	RowsWritten uint64
}

// Run executes each plan, bounded by cfg.MaxConcurrency concurrent
// buckets (golang.org/x/sync/errgroup, generalizing the teacher's
// goroutine-per-pair loop in compact()). open is used to acquire a
// sstable.Reader for each input generation; rowType describes the
// already-encoded Row.Cell payload (the engine's non-key column tuple)
// so tombstones can be told apart from live values. now is the
// wall-clock in microseconds used for TTL/tombstone expiry.
//
// On any single plan's failure the half-written output file (if any) is
// removed and the group's context is cancelled: other in-flight plans
// stop at their next context check before writing their output (and
// remove it), and Run returns no results.
func Run(ctx context.Context, plans []Plan, cfg Config, open func(path string) (*sstable.Reader, error), rowType *types.TypeDescriptor, now int64) ([]Result, error) {
	results := make([]Result, len(plans))
	g, ctx := errgroup.WithContext(ctx)
	if cfg.MaxConcurrency > 0 {
		g.SetLimit(cfg.MaxConcurrency)
	}

	for i, plan := range plans {
		i, plan := i, plan
		g.Go(func() error {
			rows, err := compactOne(ctx, plan, cfg, open, rowType, now)
			if err != nil {
				os.Remove(plan.OutputPath)
				return fmt.Errorf("compact bucket (output gen %d): %w", plan.OutputGen, err)
			}
			results[i] = Result{Plan: plan, RowsWritten: rows}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, cqlerr.New(cqlerr.Io, "compaction.Run", err)
	}
	return results, nil
}

func compactOne(ctx context.Context, plan Plan, cfg Config, open func(path string) (*sstable.Reader, error), rowType *types.TypeDescriptor, now int64) (uint64, error) {
	readers := make([]*sstable.Reader, 0, len(plan.Inputs))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	sourceHeader := sstable.Header{}
	for i, in := range plan.Inputs {
		r, err := open(in.Path)
		if err != nil {
			return 0, err
		}
		readers = append(readers, r)
		if i == 0 {
			sourceHeader = r.HeaderInfo()
		}
	}

	rows, err := mergeGenerations(readers, plan, rowType, now, cfg.GCGraceSeconds)
	if err != nil {
		return 0, err
	}

	w := sstable.NewWriter(sstable.WriterConfig{
		TableUUID:        sourceHeader.TableUUID,
		Generation:       plan.OutputGen,
		Keyspace:         sourceHeader.Keyspace,
		Table:            sourceHeader.Table,
		Columns:          sourceHeader.Columns,
		Properties:       sourceHeader.Properties,
		Compression:      cfg.Compression,
		BlockTargetBytes: cfg.BlockTargetBytes,
		BloomFPRate:      cfg.BloomFPRate,
	})
	for _, row := range rows {
		if err := w.Add(row); err != nil {
			return 0, err
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := w.Finish(plan.OutputPath); err != nil {
		return 0, err
	}
	return uint64(len(rows)), nil
}
