package store

import (
	"testing"

	"github.com/taskweave/recall/internal/models"
)

func TestRetrievalStore(t *testing.T) {
	db := testDB(t)
	ms := NewMemoryStore(db)
	rs := NewRetrievalStore(db, ms)

	m := newTestMemory("retrieved memory")
	mustInsert(t, ms, m)

	t.Run("log bumps access stats", func(t *testing.T) {
		id, err := rs.Log(m.ID, models.MethodSemantic, "how to deploy", 0.83, "outcome-1", "")
		if err != nil {
			t.Fatalf("log: %v", err)
		}

		entry, err := rs.GetByID(id)
		if err != nil || entry == nil {
			t.Fatalf("get entry: (%v, %v)", entry, err)
		}
		if entry.Method != models.MethodSemantic || entry.Query != "how to deploy" {
			t.Errorf("entry mismatch: %+v", entry)
		}
		if entry.WasUseful != nil {
			t.Error("fresh entry should be unjudged")
		}

		got, _ := ms.GetByID(m.ID)
		if got.AccessCount != 1 {
			t.Errorf("access count = %d, want 1", got.AccessCount)
		}
	})

	t.Run("usefulness is tri-state and last write wins", func(t *testing.T) {
		id, err := rs.Log(m.ID, models.MethodExplicit, "deploy", 0.5, "", "")
		if err != nil {
			t.Fatalf("log: %v", err)
		}

		entry, err := rs.MarkUseful(id, true)
		if err != nil {
			t.Fatalf("mark: %v", err)
		}
		if entry.WasUseful == nil || !*entry.WasUseful {
			t.Error("expected useful=true")
		}

		entry, err = rs.MarkUseful(id, false)
		if err != nil {
			t.Fatalf("re-mark: %v", err)
		}
		if entry.WasUseful == nil || *entry.WasUseful {
			t.Error("expected last write (false) to win")
		}
	})

	t.Run("mark missing returns nil nil", func(t *testing.T) {
		entry, err := rs.MarkUseful("does-not-exist", true)
		if err != nil || entry != nil {
			t.Fatalf("got (%v, %v), want (nil, nil)", entry, err)
		}
	})

	t.Run("stats exclude unknowns from the ratio", func(t *testing.T) {
		other := newTestMemory("stats memory")
		mustInsert(t, ms, other)

		id1, _ := rs.Log(other.ID, models.MethodTag, "", 0, "", "")
		id2, _ := rs.Log(other.ID, models.MethodTag, "", 0, "", "")
		if _, err := rs.Log(other.ID, models.MethodTag, "", 0, "", ""); err != nil {
			t.Fatalf("log: %v", err)
		}
		if _, err := rs.MarkUseful(id1, true); err != nil {
			t.Fatalf("mark: %v", err)
		}
		if _, err := rs.MarkUseful(id2, false); err != nil {
			t.Fatalf("mark: %v", err)
		}

		stats, err := rs.StatsFor(other.ID)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Total != 3 || stats.Useful != 1 || stats.NotUseful != 1 || stats.Unknown != 1 {
			t.Errorf("counts = %+v", stats)
		}
		if stats.UsefulnessRatio != 0.5 {
			t.Errorf("ratio = %v, want 0.5", stats.UsefulnessRatio)
		}
	})

	t.Run("unjudged memory has zero ratio", func(t *testing.T) {
		fresh := newTestMemory("never judged")
		mustInsert(t, ms, fresh)
		if _, err := rs.Log(fresh.ID, models.MethodRecency, "", 0, "", ""); err != nil {
			t.Fatalf("log: %v", err)
		}

		stats, err := rs.StatsFor(fresh.ID)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.UsefulnessRatio != 0 {
			t.Errorf("ratio = %v, want 0", stats.UsefulnessRatio)
		}
	})
}
