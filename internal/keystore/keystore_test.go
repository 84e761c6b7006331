package keystore

import (
	"context"
	"errors"
	"os"
	"testing"
)

func TestInMemoryStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	if err := s.Put(ctx, "u1", "  sk-abcdefgh1234  "); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	rec, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Key != "sk-abcdefgh1234" || rec.UpdatedAt.IsZero() {
		t.Fatalf("record = %+v", rec)
	}
	if err := s.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.Put(ctx, "u1", "   "); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Put(blank) error = %v, want ErrInvalidKey", err)
	}
}

func TestResolverPrefersConfiguredKey(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	_ = store.Put(ctx, "u1", "sk-stored-0000")

	key, src, err := NewResolver("sk-config-9999", store).Resolve(ctx, "u1")
	if err != nil || key != "sk-config-9999" || src != SourceConfig {
		t.Fatalf("Resolve() = %q, %q, %v", key, src, err)
	}
	key, src, err = NewResolver("", store).Resolve(ctx, "u1")
	if err != nil || key != "sk-stored-0000" || src != SourceStored {
		t.Fatalf("Resolve() = %q, %q, %v", key, src, err)
	}
	key, src, err = NewResolver("", store).Resolve(ctx, "nobody")
	if err != nil || key != "" || src != SourceNone {
		t.Fatalf("Resolve(nobody) = %q, %q, %v", key, src, err)
	}
}

func TestMask(t *testing.T) {
	cases := map[string]string{
		"":                    "",
		"short":               "*****",
		"sk-proj-abcdef12345": "sk-...2345",
	}
	for in, want := range cases {
		if got := Mask(in); got != want {
			t.Fatalf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewStoreWithoutDatabaseIsInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), " ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore() = %T, want *InMemoryStore", s)
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("KEYSTORE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("KEYSTORE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	defer s.Close()

	if err := s.Put(ctx, "test-user", "sk-first"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put(ctx, "test-user", "sk-second"); err != nil {
		t.Fatalf("Put() upsert error = %v", err)
	}
	rec, err := s.Get(ctx, "test-user")
	if err != nil || rec.Key != "sk-second" {
		t.Fatalf("Get() = %+v, %v", rec, err)
	}
	if err := s.Delete(ctx, "test-user"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "test-user"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}
}
