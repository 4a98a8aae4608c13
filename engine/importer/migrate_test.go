package importer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hexalog/xarchive/engine/domain"
	"github.com/hexalog/xarchive/engine/filestore"
)

type mockMigrateStore struct {
	existing map[string]bool
	upserted []*domain.Post
	upsertErr error
}

func (m *mockMigrateStore) PostExists(_ context.Context, id string) (bool, error) {
	return m.existing[id], nil
}

func (m *mockMigrateStore) UpsertPost(_ context.Context, p *domain.Post) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserted = append(m.upserted, p)
	return nil
}

type mockMigrateEmbedder struct {
	err   error
	calls int
}

func (m *mockMigrateEmbedder) Generate(_ context.Context, _ string) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return make([]float32, domain.EmbeddingDimension), nil
}

func seedFiles(t *testing.T, ids ...string) *filestore.Store {
	t.Helper()
	fs := filestore.New(t.TempDir(), quiet())
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range ids {
		p := &domain.Post{
			ID:           id,
			URL:          "https://x.com/alice/status/" + id,
			Content:      "post " + id,
			AuthorHandle: "alice",
			ArchivedAt:   &at,
			Tags:         []string{"go"},
		}
		if _, err := fs.WritePost(p); err != nil {
			t.Fatalf("WritePost(%s): %v", id, err)
		}
	}
	return fs
}

func TestMigrate_SkipsExisting(t *testing.T) {
	db := &mockMigrateStore{existing: map[string]bool{"100": true}}
	m := &Migrator{Files: seedFiles(t, "100", "200"), DB: db, Logger: quiet()}

	sum, err := m.Run(context.Background(), MigrateOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Total != 2 || sum.Skipped != 1 || sum.Migrated != 1 {
		t.Errorf("summary: %+v", sum)
	}
	if len(db.upserted) != 1 || db.upserted[0].ID != "200" {
		t.Errorf("upserted %v", db.upserted)
	}
	if db.upserted[0].ArchivedVia != "migration" {
		t.Errorf("archived_via = %q", db.upserted[0].ArchivedVia)
	}
}

func TestMigrate_ForceOverwrites(t *testing.T) {
	db := &mockMigrateStore{existing: map[string]bool{"100": true}}
	m := &Migrator{Files: seedFiles(t, "100"), DB: db, Logger: quiet()}

	sum, err := m.Run(context.Background(), MigrateOptions{Force: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Migrated != 1 || sum.Skipped != 0 || len(db.upserted) != 1 {
		t.Errorf("summary: %+v upserted=%d", sum, len(db.upserted))
	}
}

func TestMigrate_DryRun(t *testing.T) {
	db := &mockMigrateStore{}
	m := &Migrator{Files: seedFiles(t, "100"), DB: db, Logger: quiet()}

	sum, err := m.Run(context.Background(), MigrateOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(db.upserted) != 0 {
		t.Errorf("dry run wrote %d posts", len(db.upserted))
	}
	if sum.Migrated != 1 {
		t.Errorf("summary: %+v", sum)
	}
}

func TestMigrate_EmbedsWhenConfigured(t *testing.T) {
	db := &mockMigrateStore{}
	emb := &mockMigrateEmbedder{}
	m := &Migrator{Files: seedFiles(t, "100"), DB: db, Embedder: emb, Logger: quiet()}

	sum, err := m.Run(context.Background(), MigrateOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if emb.calls != 1 || sum.Embedded != 1 {
		t.Errorf("embedder calls=%d summary=%+v", emb.calls, sum)
	}
	if len(db.upserted[0].Embedding) != domain.EmbeddingDimension {
		t.Errorf("embedding not attached")
	}
}

func TestMigrate_EmbeddingFailureDegrades(t *testing.T) {
	db := &mockMigrateStore{}
	emb := &mockMigrateEmbedder{err: errors.New("model down")}
	m := &Migrator{Files: seedFiles(t, "100"), DB: db, Embedder: emb, Logger: quiet()}

	sum, err := m.Run(context.Background(), MigrateOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Migrated != 1 || sum.Embedded != 0 {
		t.Errorf("summary: %+v", sum)
	}
	if db.upserted[0].Embedding != nil {
		t.Error("embedding attached despite failure")
	}
}

func TestMigrate_UpsertFailureCounted(t *testing.T) {
	db := &mockMigrateStore{upsertErr: errors.New("db down")}
	m := &Migrator{Files: seedFiles(t, "100", "200"), DB: db, Logger: quiet()}

	sum, err := m.Run(context.Background(), MigrateOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Failed != 2 || sum.Migrated != 0 {
		t.Errorf("summary: %+v", sum)
	}
}
