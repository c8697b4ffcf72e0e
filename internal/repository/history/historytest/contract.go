// Package historytest provides contract tests for [repository.HistoryRepository]
// implementations.
package historytest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository"
)

// Factory creates a fresh [repository.HistoryRepository] for each test invocation.
type Factory func(t *testing.T) repository.HistoryRepository

func ptr[T any](v T) *T { return &v }

// Run exercises the [repository.HistoryRepository] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("UpsertAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		rec := &models.HistoryRecord{
			Kind:      models.KindCapture,
			ID:        "tok-1",
			Seq:       1,
			State:     string(models.CaptureRequested),
			CreatedAt: 1000,
		}
		if err := repo.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert: %v", err)
		}

		rec.State = string(models.CapturePublished)
		rec.AckedAt = ptr(int64(1100))
		rec.FinishedAt = ptr(int64(1500))
		rec.ImageTS = ptr(int64(1450))
		rec.ImageRef = ptr("1450.jpg")
		if err := repo.Upsert(ctx, rec); err != nil {
			t.Fatalf("second Upsert: %v", err)
		}

		got, err := repo.Get(ctx, models.KindCapture, "tok-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State != string(models.CapturePublished) {
			t.Errorf("State = %q, want %q", got.State, models.CapturePublished)
		}
		if got.CreatedAt != 1000 {
			t.Errorf("CreatedAt = %d, want 1000", got.CreatedAt)
		}
		if got.ImageTS == nil || *got.ImageTS != 1450 {
			t.Errorf("ImageTS = %v, want 1450", got.ImageTS)
		}
		if got.ImageRef == nil || *got.ImageRef != "1450.jpg" {
			t.Errorf("ImageRef = %v, want 1450.jpg", got.ImageRef)
		}
		if got.DurationMs != nil {
			t.Errorf("DurationMs = %v, want nil", *got.DurationMs)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), models.KindRelay, "missing")
		if !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("UpsertRejectsUnknownKind", func(t *testing.T) {
		repo := factory(t)
		err := repo.Upsert(context.Background(), &models.HistoryRecord{Kind: "door", ID: "x"})
		if !errors.Is(err, repository.ErrInvalidInput) {
			t.Fatalf("Upsert: got %v, want ErrInvalidInput", err)
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		for i := int64(1); i <= 3; i++ {
			rec := &models.HistoryRecord{
				Kind:       models.KindRelay,
				ID:         fmt.Sprintf("rly-%d", i),
				Seq:        i,
				State:      string(models.RelayDone),
				CreatedAt:  i * 1000,
				DurationMs: ptr(int64(2000)),
			}
			if err := repo.Upsert(ctx, rec); err != nil {
				t.Fatalf("Upsert %d: %v", i, err)
			}
		}
		if err := repo.Upsert(ctx, &models.HistoryRecord{Kind: models.KindCapture, ID: "c", Seq: 9, State: "REQUESTED", CreatedAt: 1}); err != nil {
			t.Fatalf("Upsert capture: %v", err)
		}

		got, err := repo.List(ctx, models.KindRelay, 0, 2)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0].Seq != 3 || got[1].Seq != 2 {
			t.Errorf("seqs = [%d %d], want [3 2]", got[0].Seq, got[1].Seq)
		}

		rest, err := repo.List(ctx, models.KindRelay, 2, 10)
		if err != nil {
			t.Fatalf("List offset: %v", err)
		}
		if len(rest) != 1 || rest[0].Seq != 1 {
			t.Fatalf("offset page = %+v, want single seq 1", rest)
		}
	})

	t.Run("MaxSeq", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		seq, err := repo.MaxSeq(ctx, models.KindCapture)
		if err != nil {
			t.Fatalf("MaxSeq empty: %v", err)
		}
		if seq != 0 {
			t.Fatalf("MaxSeq empty = %d, want 0", seq)
		}

		for _, s := range []int64{4, 11, 7} {
			rec := &models.HistoryRecord{Kind: models.KindCapture, ID: fmt.Sprintf("cap-%d", s), Seq: s, State: "ACKED", CreatedAt: s}
			if err := repo.Upsert(ctx, rec); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
		}
		seq, err = repo.MaxSeq(ctx, models.KindCapture)
		if err != nil {
			t.Fatalf("MaxSeq: %v", err)
		}
		if seq != 11 {
			t.Fatalf("MaxSeq = %d, want 11", seq)
		}
		relaySeq, err := repo.MaxSeq(ctx, models.KindRelay)
		if err != nil {
			t.Fatalf("MaxSeq relay: %v", err)
		}
		if relaySeq != 0 {
			t.Fatalf("MaxSeq relay = %d, want 0", relaySeq)
		}
	})

	t.Run("Readings", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if _, err := repo.LatestReading(ctx); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("LatestReading empty: got %v, want ErrNotFound", err)
		}

		for _, r := range []models.ArtifactReading{
			{TS: 100, Ref: "100.jpg", Reading: "00123", Confidence: 0.5},
			{TS: 300, Ref: "300.jpg", Reading: "00125", Confidence: 0.9, Notes: "clear"},
			{TS: 200, Ref: "200.jpg", Reading: "00124", Confidence: 0.7},
		} {
			r := r
			if err := repo.SaveReading(ctx, &r); err != nil {
				t.Fatalf("SaveReading %d: %v", r.TS, err)
			}
		}

		got, err := repo.LatestReading(ctx)
		if err != nil {
			t.Fatalf("LatestReading: %v", err)
		}
		if got.TS != 300 || got.Reading != "00125" || got.Notes != "clear" {
			t.Fatalf("LatestReading = %+v, want ts 300 reading 00125", got)
		}
		if got.Confidence != 0.9 {
			t.Errorf("Confidence = %v, want 0.9", got.Confidence)
		}
	})

	t.Run("DeleteBeforeKeepsNewestReading", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		old := time.Now().Add(-time.Hour).UnixMilli()

		if err := repo.Upsert(ctx, &models.HistoryRecord{Kind: models.KindCapture, ID: "old", Seq: 1, State: "PUBLISHED", CreatedAt: old, UpdatedAt: old}); err != nil {
			t.Fatalf("Upsert old: %v", err)
		}
		if err := repo.Upsert(ctx, &models.HistoryRecord{Kind: models.KindCapture, ID: "new", Seq: 2, State: "ACKED", CreatedAt: old}); err != nil {
			t.Fatalf("Upsert new: %v", err)
		}
		for _, ts := range []int64{10, 20} {
			if err := repo.SaveReading(ctx, &models.ArtifactReading{TS: ts, Ref: "r", Reading: "1", CreatedAt: old}); err != nil {
				t.Fatalf("SaveReading: %v", err)
			}
		}

		n, err := repo.DeleteBefore(ctx, time.Now().Add(-time.Minute))
		if err != nil {
			t.Fatalf("DeleteBefore: %v", err)
		}
		if n != 2 {
			t.Fatalf("deleted = %d, want 2", n)
		}
		if _, err := repo.Get(ctx, models.KindCapture, "old"); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("old record: got %v, want ErrNotFound", err)
		}
		if _, err := repo.Get(ctx, models.KindCapture, "new"); err != nil {
			t.Errorf("new record: %v", err)
		}
		latest, err := repo.LatestReading(ctx)
		if err != nil {
			t.Fatalf("LatestReading: %v", err)
		}
		if latest.TS != 20 {
			t.Errorf("latest reading ts = %d, want 20", latest.TS)
		}
	})
}
