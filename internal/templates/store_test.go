package templates

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/redis"
)

type fakeSource struct {
	templates map[string]*db.Template
	calls     int
}

func (f *fakeSource) GetTemplateByCode(ctx context.Context, code string) (*db.Template, error) {
	f.calls++
	t, ok := f.templates[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", db.ErrTemplateNotFound, code)
	}
	return t, nil
}

func (f *fakeSource) ListTemplates(ctx context.Context) ([]*db.Template, error) {
	var out []*db.Template
	for _, t := range f.templates {
		out = append(out, t)
	}
	return out, nil
}

func newSource() *fakeSource {
	return &fakeSource{templates: map[string]*db.Template{
		"FEE_OVERDUE": {ID: 5, Code: "FEE_OVERDUE", Name: "Fee overdue", Body: "Dear {{parent_name}}", IsActive: true},
	}}
}

func newCache(t *testing.T) (*redis.TemplateCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewFromAddr(mr.Addr(), zap.NewNop())
	t.Cleanup(func() { _ = client.Close() })
	return redis.NewTemplateCache(client, zap.NewNop(), time.Minute), mr
}

func TestStore_ReadThrough(t *testing.T) {
	src := newSource()
	cache, _ := newCache(t)
	s := NewStore(src, cache, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tmpl, err := s.Get(ctx, "FEE_OVERDUE")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tmpl.Body != "Dear {{parent_name}}" {
			t.Errorf("unexpected body %q", tmpl.Body)
		}
	}

	if src.calls != 1 {
		t.Errorf("expected 1 source call, got %d", src.calls)
	}
}

func TestStore_NotFound(t *testing.T) {
	s := NewStore(newSource(), nil, zap.NewNop())

	_, err := s.Get(context.Background(), "FEE_REMIND_5")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStore_CacheDownFallsBackToSource(t *testing.T) {
	src := newSource()
	cache, mr := newCache(t)
	s := NewStore(src, cache, zap.NewNop())

	mr.Close()

	tmpl, err := s.Get(context.Background(), "FEE_OVERDUE")
	if err != nil {
		t.Fatalf("cache outage must not fail lookups: %v", err)
	}
	if tmpl.Code != "FEE_OVERDUE" || src.calls != 1 {
		t.Errorf("unexpected result %+v after %d calls", tmpl, src.calls)
	}
}

func TestStore_Invalidate(t *testing.T) {
	src := newSource()
	cache, _ := newCache(t)
	s := NewStore(src, cache, zap.NewNop())
	ctx := context.Background()

	if _, err := s.Get(ctx, "FEE_OVERDUE"); err != nil {
		t.Fatal(err)
	}
	src.templates["FEE_OVERDUE"] = &db.Template{Code: "FEE_OVERDUE", Body: "updated", IsActive: true}

	if err := s.Invalidate(ctx, "FEE_OVERDUE"); err != nil {
		t.Fatal(err)
	}

	tmpl, err := s.Get(ctx, "FEE_OVERDUE")
	if err != nil || tmpl.Body != "updated" {
		t.Fatalf("expected refreshed template, got %+v, %v", tmpl, err)
	}
}

func TestIsNotFound(t *testing.T) {
	if IsNotFound(errors.New("boom")) {
		t.Error("plain error is not a not-found")
	}
	if !IsNotFound(fmt.Errorf("get: %w", db.ErrTemplateNotFound)) {
		t.Error("wrapped sentinel should be not-found")
	}
}
