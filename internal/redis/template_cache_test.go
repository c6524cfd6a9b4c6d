package redis

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/db"
)

func TestTemplateCache_Miss(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewTemplateCache(client, zap.NewNop(), time.Minute)

	got, err := cache.Get(context.Background(), "FEE_REMIND_7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected miss, got %+v", got)
	}
}

func TestTemplateCache_SetGet(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewTemplateCache(client, zap.NewNop(), time.Minute)
	ctx := context.Background()

	subject := "Fee reminder"
	tmpl := &db.Template{ID: 3, Code: "FEE_REMIND_3", Name: "3 days", Subject: &subject, Body: "Dear {{parent_name}}", IsActive: true}

	if err := cache.Set(ctx, tmpl); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if !mr.Exists("herald:template:FEE_REMIND_3") {
		t.Fatal("expected key herald:template:FEE_REMIND_3")
	}

	got, err := cache.Get(ctx, "FEE_REMIND_3")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.Body != tmpl.Body || got.Subject == nil || *got.Subject != subject {
		t.Fatalf("unexpected cached template: %+v", got)
	}

	mr.FastForward(2 * time.Minute)

	got, err = cache.Get(ctx, "FEE_REMIND_3")
	if err != nil {
		t.Fatalf("get after expiry failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected entry to expire")
	}
}

func TestTemplateCache_Invalidate(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewTemplateCache(client, zap.NewNop(), time.Minute)
	ctx := context.Background()

	_ = cache.Set(ctx, &db.Template{Code: "A", Body: "a"})
	_ = cache.Set(ctx, &db.Template{Code: "B", Body: "b"})

	if err := cache.Invalidate(ctx, "A", "B"); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	for _, code := range []string{"A", "B"} {
		if got, _ := cache.Get(ctx, code); got != nil {
			t.Errorf("expected %s to be gone", code)
		}
	}
}

func TestTemplateCache_CorruptEntryIsAMiss(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewTemplateCache(client, zap.NewNop(), time.Minute)

	if err := mr.Set("herald:template:BROKEN", "{not json"); err != nil {
		t.Fatal(err)
	}

	got, err := cache.Get(context.Background(), "BROKEN")
	if err != nil || got != nil {
		t.Fatalf("expected clean miss, got %+v, %v", got, err)
	}
	if mr.Exists("herald:template:BROKEN") {
		t.Error("corrupt entry should be deleted")
	}
}
