package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if store == nil {
		t.Fatal("NewMemoryStore() returned nil")
	}
	if store.Len() != 0 {
		t.Errorf("New store should be empty, got %d documents", store.Len())
	}
}

func TestMemoryStore_Put_Get(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		data    []byte
		wantErr bool
	}{
		{name: "valid document", key: KeyMetrics, data: []byte(`{"cpu":[]}`)},
		{name: "empty key", key: "", data: []byte(`{}`), wantErr: true},
		{name: "key with slash", key: "a/b", data: []byte(`{}`), wantErr: true},
		{name: "empty document", key: "empty", data: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()

			err := store.Put(context.Background(), tt.key, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("Put() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}

			got, found, err := store.Get(context.Background(), tt.key)
			if err != nil {
				t.Fatalf("Get() unexpected error = %v", err)
			}
			if !found {
				t.Fatal("Get() found = false, want true")
			}
			if string(got) != string(tt.data) {
				t.Errorf("Get() = %q, want %q", got, tt.data)
			}
		})
	}
}

func TestMemoryStore_Get_NotFound(t *testing.T) {
	store := NewMemoryStore()

	data, found, err := store.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Errorf("Get() unexpected error = %v", err)
	}
	if found {
		t.Error("Get() found = true for nonexistent key, want false")
	}
	if data != nil {
		t.Errorf("Get() returned %q for nonexistent key, want nil", data)
	}
}

func TestMemoryStore_CopiesData(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	data := []byte("original")
	if err := store.Put(ctx, "doc", data); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	data[0] = 'X'

	got, _, _ := store.Get(ctx, "doc")
	if string(got) != "original" {
		t.Errorf("stored document mutated through caller slice: %q", got)
	}

	got[0] = 'Y'
	again, _, _ := store.Get(ctx, "doc")
	if string(again) != "original" {
		t.Errorf("stored document mutated through returned slice: %q", again)
	}
}

func TestMemoryStore_ContextCanceled(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Put(ctx, "doc", []byte("x")); err == nil {
		t.Error("Put() with canceled context should fail")
	}
	if _, _, err := store.Get(ctx, "doc"); err == nil {
		t.Error("Get() with canceled context should fail")
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Put(context.Background(), "doc", []byte("x"))

	if !store.Delete("doc") {
		t.Error("Delete() = false for existing key, want true")
	}
	if store.Delete("doc") {
		t.Error("Delete() = true for removed key, want false")
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d after delete, want 0", store.Len())
	}
}

func TestMemoryStore_Concurrency(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range 20 {
				key := fmt.Sprintf("doc-%d", id)
				if err := store.Put(ctx, key, []byte(fmt.Sprintf("%d", j))); err != nil {
					t.Errorf("Put() error = %v", err)
				}
				if _, _, err := store.Get(ctx, key); err != nil {
					t.Errorf("Get() error = %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	if store.Len() != 10 {
		t.Errorf("Len() = %d, want 10", store.Len())
	}
}
