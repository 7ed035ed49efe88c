package knowledge_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/campusmate/campusmate/internal/knowledge"
	"github.com/campusmate/campusmate/internal/testutil"
)

// axis returns a unit vector along the given axis, so cosine similarity
// between different axes is exactly 0 and along the same axis exactly 1.
func axis(i int) []float32 {
	v := make([]float32, knowledge.EmbeddingDimension)
	v[i] = 1
	return v
}

func testEntry(id string) knowledge.Entry {
	return knowledge.Entry{
		ID:       id,
		Title:    "Census dates " + id,
		Content:  "Semester 1 census is 15 March. Withdraw before census to avoid fees.",
		Source:   "exports/enrollment.json",
		Category: knowledge.CategoryEnrollment,
		Tags:     []string{"census", "deadlines"},
		Priority: 7,
		IsActive: true,
	}
}

func TestStoreEntryLifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := knowledge.New(db.Pool, testutil.Logger(t))
	ctx := context.Background()

	inserted, err := store.UpsertEntry(ctx, testEntry("e1"))
	if err != nil {
		t.Fatalf("UpsertEntry() error = %v", err)
	}
	if !inserted {
		t.Error("first upsert should insert")
	}

	got, err := store.GetEntry(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if got.Title != "Census dates e1" || got.Priority != 7 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.WordCount != knowledge.CountWords(got.Content) {
		t.Errorf("WordCount = %d, want derived value", got.WordCount)
	}

	// Merge update: zero-valued fields preserve stored data.
	inserted, err = store.UpsertEntry(ctx, knowledge.Entry{
		ID: "e1", Priority: 9, IsActive: true,
	})
	if err != nil {
		t.Fatalf("merge upsert error = %v", err)
	}
	if inserted {
		t.Error("second upsert should update, not insert")
	}
	got, err = store.GetEntry(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if got.Priority != 9 {
		t.Errorf("Priority = %d, want 9", got.Priority)
	}
	if got.Content == "" || got.Title == "" {
		t.Error("merge update wiped stored fields")
	}
	if len(got.Tags) != 2 {
		t.Errorf("Tags = %v, empty incoming tags must preserve stored ones", got.Tags)
	}

	if _, err := store.GetEntry(ctx, "missing"); !errors.Is(err, knowledge.ErrNotFound) {
		t.Errorf("GetEntry(missing) error = %v, want ErrNotFound", err)
	}

	if _, err := store.UpsertEntry(ctx, knowledge.Entry{Title: "keyless"}); err == nil {
		t.Error("UpsertEntry without id must fail")
	} else {
		var keyErr *knowledge.MissingKeyError
		if !errors.As(err, &keyErr) {
			t.Errorf("error = %v, want MissingKeyError", err)
		}
	}
}

func TestStoreEmbeddingLifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := knowledge.New(db.Pool, testutil.Logger(t))
	ctx := context.Background()

	if _, err := store.UpsertEntry(ctx, testEntry("e1")); err != nil {
		t.Fatalf("UpsertEntry() error = %v", err)
	}

	pending, err := store.ListMissingEmbeddings(ctx, 10)
	if err != nil {
		t.Fatalf("ListMissingEmbeddings() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "e1" {
		t.Fatalf("pending = %+v, want the new entry", pending)
	}

	if err := store.SetEmbedding(ctx, "e1", axis(0)); err != nil {
		t.Fatalf("SetEmbedding() error = %v", err)
	}
	pending, err = store.ListMissingEmbeddings(ctx, 10)
	if err != nil {
		t.Fatalf("ListMissingEmbeddings() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("embedded entry still pending: %+v", pending)
	}

	// A content change must null the stored vector so the entry is
	// re-queued for embedding.
	e := testEntry("e1")
	e.Content = "Census has moved to 31 March for all programs."
	if _, err := store.UpsertEntry(ctx, e); err != nil {
		t.Fatalf("content update error = %v", err)
	}
	pending, err = store.ListMissingEmbeddings(ctx, 10)
	if err != nil {
		t.Fatalf("ListMissingEmbeddings() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("stale entry not re-queued: %+v", pending)
	}

	// Flagging a failure removes the entry from the queue without
	// deactivating it.
	if err := store.MarkEmbeddingFailed(ctx, "e1"); err != nil {
		t.Fatalf("MarkEmbeddingFailed() error = %v", err)
	}
	pending, err = store.ListMissingEmbeddings(ctx, 10)
	if err != nil {
		t.Fatalf("ListMissingEmbeddings() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("flagged entry still pending")
	}
	got, err := store.GetEntry(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if !got.IsActive {
		t.Error("flagged entry must stay active")
	}

	if err := store.SetEmbedding(ctx, "missing", axis(0)); !errors.Is(err, knowledge.ErrNotFound) {
		t.Errorf("SetEmbedding(missing) error = %v, want ErrNotFound", err)
	}
	if err := store.SetEmbedding(ctx, "e1", []float32{1, 2, 3}); !errors.Is(err, knowledge.ErrDimensionMismatch) {
		t.Errorf("short vector error = %v, want ErrDimensionMismatch", err)
	}
}

func TestStoreVectorSearch(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := knowledge.New(db.Pool, testutil.Logger(t))
	ctx := context.Background()

	for i, id := range []string{"near", "far"} {
		e := testEntry(id)
		if _, err := store.UpsertEntry(ctx, e); err != nil {
			t.Fatalf("UpsertEntry(%s) error = %v", id, err)
		}
		if err := store.SetEmbedding(ctx, id, axis(i)); err != nil {
			t.Fatalf("SetEmbedding(%s) error = %v", id, err)
		}
	}
	// Unembedded entries are invisible to vector search.
	if _, err := store.UpsertEntry(ctx, testEntry("unembedded")); err != nil {
		t.Fatalf("UpsertEntry() error = %v", err)
	}

	results, err := store.SearchByEmbedding(ctx, axis(0), 10, "")
	if err != nil {
		t.Fatalf("SearchByEmbedding() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 embedded entries", len(results))
	}
	if results[0].Entry.ID != "near" {
		t.Errorf("nearest = %q, want the aligned vector", results[0].Entry.ID)
	}
	if results[0].Similarity < 0.99 {
		t.Errorf("aligned similarity = %v, want ~1", results[0].Similarity)
	}
	if results[1].Similarity > 0.01 {
		t.Errorf("orthogonal similarity = %v, want ~0", results[1].Similarity)
	}

	if _, err := store.SearchByEmbedding(ctx, []float32{1}, 10, ""); !errors.Is(err, knowledge.ErrDimensionMismatch) {
		t.Errorf("short query error = %v, want ErrDimensionMismatch", err)
	}
}

func TestStoreLexicalSearch(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := knowledge.New(db.Pool, testutil.Logger(t))
	ctx := context.Background()

	census := testEntry("census")
	fees := knowledge.Entry{
		ID: "fees", Title: "Paying tuition", Content: "Fee payment plans are available.",
		Category: knowledge.CategoryFees, Tags: []string{"fees"}, Priority: 9, IsActive: true,
	}
	inactive := testEntry("inactive")
	inactive.IsActive = false
	for _, e := range []knowledge.Entry{census, fees, inactive} {
		if _, err := store.UpsertEntry(ctx, e); err != nil {
			t.Fatalf("UpsertEntry(%s) error = %v", e.ID, err)
		}
	}

	got, err := store.SearchLexical(ctx, []string{"census"}, nil, 10)
	if err != nil {
		t.Fatalf("SearchLexical() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "census" {
		t.Errorf("term search = %+v, want only the active census entry", got)
	}

	got, err = store.SearchLexical(ctx, nil, []string{"fees"}, 10)
	if err != nil {
		t.Fatalf("SearchLexical() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "fees" {
		t.Errorf("tag search = %+v", got)
	}

	got, err = store.SearchLexical(ctx, nil, nil, 10)
	if err != nil || got != nil {
		t.Errorf("empty query = (%v, %v), want no-op", got, err)
	}
}

func TestStoreWithinTxRollsBack(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := knowledge.New(db.Pool, testutil.Logger(t))
	ctx := context.Background()

	boom := fmt.Errorf("boom")
	err := store.WithinTx(ctx, func(w knowledge.Writer) error {
		if _, err := w.UpsertEntry(ctx, testEntry("tx1")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx() error = %v, want the callback error", err)
	}

	if _, err := store.GetEntry(ctx, "tx1"); !errors.Is(err, knowledge.ErrNotFound) {
		t.Errorf("rolled-back write is visible: %v", err)
	}

	err = store.WithinTx(ctx, func(w knowledge.Writer) error {
		_, err := w.UpsertEntry(ctx, testEntry("tx2"))
		return err
	})
	if err != nil {
		t.Fatalf("WithinTx() commit error = %v", err)
	}
	if _, err := store.GetEntry(ctx, "tx2"); err != nil {
		t.Errorf("committed write missing: %v", err)
	}
}

func TestStoreAcademicRecords(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := knowledge.New(db.Pool, testutil.Logger(t))
	ctx := context.Background()

	if _, err := store.UpsertSchool(ctx, knowledge.School{
		ID: "sch-cs", Name: "School of Computing Technologies",
	}); err != nil {
		t.Fatalf("UpsertSchool() error = %v", err)
	}

	schoolID := "sch-cs"
	inserted, err := store.UpsertProgram(ctx, knowledge.Program{
		Code: "BP094", Title: "Bachelor of Computer Science",
		SchoolID: &schoolID, IsActive: true,
	})
	if err != nil {
		t.Fatalf("UpsertProgram() error = %v", err)
	}
	if !inserted {
		t.Error("first program upsert should insert")
	}

	got, err := store.GetProgram(ctx, "BP094")
	if err != nil {
		t.Fatalf("GetProgram() error = %v", err)
	}
	if got.Level != "BACHELOR" {
		t.Errorf("Level = %q, want inferred BACHELOR", got.Level)
	}
	if got.SchoolID == nil || *got.SchoolID != "sch-cs" {
		t.Errorf("SchoolID = %v", got.SchoolID)
	}

	// Merge: absent fields preserve, present fields overwrite.
	if _, err := store.UpsertProgram(ctx, knowledge.Program{
		Code: "BP094", Duration: "3 years", IsActive: true,
	}); err != nil {
		t.Fatalf("merge UpsertProgram() error = %v", err)
	}
	got, err = store.GetProgram(ctx, "BP094")
	if err != nil {
		t.Fatalf("GetProgram() error = %v", err)
	}
	if got.Title != "Bachelor of Computer Science" || got.Duration != "3 years" {
		t.Errorf("merged program = %+v", got)
	}

	if _, err := store.GetProgram(ctx, "XX999"); !errors.Is(err, knowledge.ErrNotFound) {
		t.Errorf("GetProgram(missing) error = %v, want ErrNotFound", err)
	}

	if _, err := store.UpsertCourse(ctx, knowledge.Course{
		Code: "COSC1234", Title: "Programming Fundamentals", CreditPoints: 12, IsActive: true,
	}); err != nil {
		t.Fatalf("UpsertCourse() error = %v", err)
	}

	ins, err := store.UpsertAcademicInformation(ctx, knowledge.AcademicInformation{
		Title: "Census dates", Category: knowledge.CategoryEnrollment,
		Content: "Semester 1 census is 15 March.", IsActive: true,
	})
	if err != nil {
		t.Fatalf("UpsertAcademicInformation() error = %v", err)
	}
	if !ins {
		t.Error("first academic information upsert should insert")
	}
	ins, err = store.UpsertAcademicInformation(ctx, knowledge.AcademicInformation{
		Title: "Census dates", Category: knowledge.CategoryEnrollment,
		Content: "Semester 1 census is 31 March.", IsActive: true,
	})
	if err != nil {
		t.Fatalf("second UpsertAcademicInformation() error = %v", err)
	}
	if ins {
		t.Error("same title+category must update, not insert")
	}
}

func TestStoreDeactivateAndCount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := knowledge.New(db.Pool, testutil.Logger(t))
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := store.UpsertEntry(ctx, testEntry(id)); err != nil {
			t.Fatalf("UpsertEntry(%s) error = %v", id, err)
		}
	}
	if err := store.DeactivateEntry(ctx, "b"); err != nil {
		t.Fatalf("DeactivateEntry() error = %v", err)
	}

	total, err := store.CountEntries(ctx, false)
	if err != nil {
		t.Fatalf("CountEntries() error = %v", err)
	}
	active, err := store.CountEntries(ctx, true)
	if err != nil {
		t.Fatalf("CountEntries(active) error = %v", err)
	}
	if total != 2 || active != 1 {
		t.Errorf("counts = (%d total, %d active), want (2, 1)", total, active)
	}

	// Deactivated entries are retained for audit, not deleted.
	got, err := store.GetEntry(ctx, "b")
	if err != nil {
		t.Fatalf("GetEntry(b) error = %v", err)
	}
	if got.IsActive {
		t.Error("entry b should be inactive")
	}
}
