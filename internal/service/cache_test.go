package service

import (
	"testing"
	"time"

	"github.com/bigkaa/docsign/signing-module/internal/domain/model"
)

// TestStatusCache_GetSet проверяет базовые операции Get/Set.
func TestStatusCache_GetSet(t *testing.T) {
	cache := NewStatusCache(100, 5*time.Minute)

	if _, ok := cache.Get("doc-1"); ok {
		t.Fatal("ожидался cache miss для нового ключа")
	}

	cache.Set("doc-1", &DocumentSignatureStatus{DocumentID: "doc-1", Status: model.StatusSigned})

	got, ok := cache.Get("doc-1")
	if !ok {
		t.Fatal("ожидался cache hit после Set")
	}
	if got.Status != model.StatusSigned {
		t.Errorf("Status = %q, ожидался %q", got.Status, model.StatusSigned)
	}
}

// TestStatusCache_Overwrite проверяет, что новое значение перезаписывает старое.
func TestStatusCache_Overwrite(t *testing.T) {
	cache := NewStatusCache(100, 5*time.Minute)

	cache.Set("doc-1", &DocumentSignatureStatus{DocumentID: "doc-1", Status: model.StatusUnsigned})
	cache.Set("doc-1", &DocumentSignatureStatus{DocumentID: "doc-1", Status: model.StatusReverted})

	got, ok := cache.Get("doc-1")
	if !ok {
		t.Fatal("ожидался cache hit после обновления")
	}
	if got.Status != model.StatusReverted {
		t.Errorf("Status = %q, ожидался %q", got.Status, model.StatusReverted)
	}
}

// TestStatusCache_Delete проверяет инвалидацию.
func TestStatusCache_Delete(t *testing.T) {
	cache := NewStatusCache(100, 5*time.Minute)

	cache.Set("doc-1", &DocumentSignatureStatus{DocumentID: "doc-1"})
	cache.Delete("doc-1")

	if _, ok := cache.Get("doc-1"); ok {
		t.Fatal("ожидался cache miss после Delete")
	}
}

// TestStatusCache_TTLExpiration проверяет автоматическое истечение TTL.
func TestStatusCache_TTLExpiration(t *testing.T) {
	cache := NewStatusCache(100, 50*time.Millisecond)

	cache.Set("ttl", &DocumentSignatureStatus{DocumentID: "ttl"})
	if _, ok := cache.Get("ttl"); !ok {
		t.Fatal("ожидался cache hit сразу после Set")
	}

	time.Sleep(100 * time.Millisecond)

	if _, ok := cache.Get("ttl"); ok {
		t.Fatal("ожидался cache miss после истечения TTL")
	}
}

// TestStatusCache_Eviction проверяет вытеснение при превышении maxSize.
func TestStatusCache_Eviction(t *testing.T) {
	cache := NewStatusCache(2, 5*time.Minute)

	cache.Set("a", &DocumentSignatureStatus{DocumentID: "a"})
	cache.Set("b", &DocumentSignatureStatus{DocumentID: "b"})
	cache.Set("c", &DocumentSignatureStatus{DocumentID: "c"})

	if _, ok := cache.Get("a"); ok {
		t.Error("ожидалось вытеснение самой старой записи a")
	}
	if _, ok := cache.Get("c"); !ok {
		t.Error("ожидался cache hit для c")
	}
}
