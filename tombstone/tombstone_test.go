package tombstone

import (
	"testing"

	"github.com/cqlite-db/cqlite/types"
)

func intVal(n int32) types.Value { return types.IntValue(n) }

func TestMergeTombstoneWins(t *testing.T) {
	candidates := []Candidate{
		{Value: intVal(42), WriteTime: 1000, Generation: 1},
		{Value: types.TombstoneValue{Kind: types.TombstoneRow, DeletionTime: 2000}, WriteTime: 2000, Generation: 2},
	}
	got := Merge(candidates, 5000)
	if got != nil {
		t.Fatalf("expected tombstone to win, got %#v", got)
	}
}

func TestMergeNewestValueWins(t *testing.T) {
	candidates := []Candidate{
		{Value: intVal(10), WriteTime: 1000, Generation: 1},
		{Value: types.TombstoneValue{Kind: types.TombstoneCell, DeletionTime: 2000}, WriteTime: 2000, Generation: 2},
		{Value: intVal(20), WriteTime: 1500, Generation: 1},
		{Value: intVal(30), WriteTime: 3000, Generation: 3},
	}
	got := Merge(candidates, 10000)
	want := intVal(30)
	if got != want {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestMergeValueShadowedByTombstoneIsSkipped(t *testing.T) {
	candidates := []Candidate{
		{Value: types.TombstoneValue{Kind: types.TombstoneCell, DeletionTime: 2000}, WriteTime: 2000, Generation: 2},
		{Value: intVal(1), WriteTime: 1000, Generation: 1}, // shadowed: write_time <= tombstone time
	}
	got := Merge(candidates, 10000)
	if got != nil {
		t.Fatalf("expected nil (shadowed value, no survivor), got %#v", got)
	}
}

func TestMergeValueAfterTombstoneSurvives(t *testing.T) {
	candidates := []Candidate{
		{Value: types.TombstoneValue{Kind: types.TombstoneRow, DeletionTime: 2000}, WriteTime: 2000, Generation: 2},
		{Value: types.TextValue("newer"), WriteTime: 3000, Generation: 3},
	}
	got := Merge(candidates, 10000)
	want := types.TextValue("newer")
	if got != want {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestMergeTTLExpirySynthesizesTombstone(t *testing.T) {
	ttl := int64(1000)
	candidates := []Candidate{
		{Value: intVal(42), WriteTime: 1000, Generation: 1, TTL: &ttl},
	}
	got := Merge(candidates, 5000) // now=5000 > write_time(1000)+ttl(1000)=2000
	tomb, ok := got.(types.TombstoneValue)
	if !ok {
		t.Fatalf("expected a synthesized TTL tombstone, got %#v", got)
	}
	if tomb.Kind != types.TombstoneTTL {
		t.Fatalf("expected Kind TombstoneTTL, got %v", tomb.Kind)
	}
}

func TestMergeExpiredTombstoneIsIgnored(t *testing.T) {
	ttl := int64(100)
	candidates := []Candidate{
		{Value: intVal(5), WriteTime: 1000, Generation: 1},
		{Value: types.TombstoneValue{Kind: types.TombstoneCell, DeletionTime: 1500, TTL: &ttl}, WriteTime: 1500, Generation: 2},
	}
	// now is well past the tombstone's own expiry (1500+100=1600)
	got := Merge(candidates, 5000)
	want := intVal(5)
	if got != want {
		t.Fatalf("expired tombstone should not shadow: got %#v, want %#v", got, want)
	}
}

func TestMergeEmptyYieldsNil(t *testing.T) {
	if got := Merge(nil, 0); got != nil {
		t.Fatalf("expected nil for no candidates, got %#v", got)
	}
}

func TestFilterRowTombstonesRemovesShadowedCells(t *testing.T) {
	candidates := []Candidate{
		{Value: intVal(1), WriteTime: 1000, Generation: 1},
		{Value: types.TombstoneValue{Kind: types.TombstoneRow, DeletionTime: 2000}, WriteTime: 2000, Generation: 2},
		{Value: intVal(3), WriteTime: 3000, Generation: 3},
	}
	survivors, rowDeleted := FilterRowTombstones(candidates, 10000)
	if rowDeleted {
		t.Fatal("row should not be considered fully deleted: one cell survives")
	}
	if len(survivors) != 1 || survivors[0].WriteTime != 3000 {
		t.Fatalf("expected only the write at 3000 to survive, got %+v", survivors)
	}
}

func TestFilterRowTombstonesAllShadowedDeletesRow(t *testing.T) {
	candidates := []Candidate{
		{Value: intVal(1), WriteTime: 1000, Generation: 1},
		{Value: types.TombstoneValue{Kind: types.TombstoneRow, DeletionTime: 2000}, WriteTime: 2000, Generation: 2},
	}
	survivors, rowDeleted := FilterRowTombstones(candidates, 10000)
	if !rowDeleted || len(survivors) != 0 {
		t.Fatalf("expected row fully deleted, got survivors=%+v rowDeleted=%v", survivors, rowDeleted)
	}
}

func TestRangeTombstoneAppliesWithinBounds(t *testing.T) {
	rt := RangeTombstone{
		Tombstone: types.TombstoneValue{Kind: types.TombstoneRange, DeletionTime: 2000, RangeStart: []byte("key1"), RangeEnd: []byte("key5")},
		WriteTime: 2000,
	}
	if !RangeApplies(rt, []byte("key3"), 1000, 5000) {
		t.Fatal("expected range tombstone to apply to a key within bounds written before it")
	}
	if RangeApplies(rt, []byte("key9"), 1000, 5000) {
		t.Fatal("expected range tombstone not to apply outside bounds")
	}
}

func TestRangeTombstoneDoesNotShadowNewerWrite(t *testing.T) {
	rt := RangeTombstone{
		Tombstone: types.TombstoneValue{Kind: types.TombstoneRange, DeletionTime: 2000, RangeStart: []byte("a"), RangeEnd: []byte("z")},
	}
	if RangeApplies(rt, []byte("m"), 3000, 5000) {
		t.Fatal("a range tombstone must not shadow a write that is newer than the deletion")
	}
}

func TestRangeTombstoneOpenEndedBounds(t *testing.T) {
	rtOpenEnd := RangeTombstone{Tombstone: types.TombstoneValue{Kind: types.TombstoneRange, DeletionTime: 2000, RangeStart: []byte("m")}}
	if !RangeApplies(rtOpenEnd, []byte("z"), 1000, 5000) {
		t.Fatal("open-ended range (start only) should apply at or after start")
	}
	if RangeApplies(rtOpenEnd, []byte("a"), 1000, 5000) {
		t.Fatal("open-ended range (start only) should not apply before start")
	}

	rtOpenStart := RangeTombstone{Tombstone: types.TombstoneValue{Kind: types.TombstoneRange, DeletionTime: 2000, RangeEnd: []byte("m")}}
	if !RangeApplies(rtOpenStart, []byte("a"), 1000, 5000) {
		t.Fatal("open-ended range (end only) should apply at or before end")
	}
}

func TestGCEligibleRespectsGCGrace(t *testing.T) {
	tomb := types.TombstoneValue{Kind: types.TombstoneRow, DeletionTime: 1_000_000}
	if GCEligible(tomb, 1_000_000+2_000_000, 3) { // 2s elapsed, grace 3s
		t.Fatal("tombstone within gc_grace should not be eligible")
	}
	if !GCEligible(tomb, 1_000_000+4_000_000, 3) { // 4s elapsed, grace 3s
		t.Fatal("tombstone past gc_grace should be eligible")
	}
}
