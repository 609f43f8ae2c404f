package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"document-qa/internal/models"
)

// MemoryCatalog keeps document records in process memory
type MemoryCatalog struct {
	mu     sync.RWMutex
	nextID int64
	docs   map[int64]models.DocumentInfo
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{docs: map[int64]models.DocumentInfo{}}
}

func (c *MemoryCatalog) Insert(_ context.Context, info models.DocumentInfo) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	info.ID = c.nextID
	if info.UploadTimestamp.IsZero() {
		info.UploadTimestamp = time.Now().UTC()
	}
	c.docs[info.ID] = info
	return info.ID, nil
}

// List returns the records newest first
func (c *MemoryCatalog) List(_ context.Context) ([]models.DocumentInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.DocumentInfo, 0, len(c.docs))
	for _, d := range c.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (c *MemoryCatalog) Get(_ context.Context, id int64) (models.DocumentInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[id]
	if !ok {
		return models.DocumentInfo{}, fmt.Errorf("document %d: %w", id, models.ErrNotFound)
	}
	return d, nil
}

func (c *MemoryCatalog) Delete(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[id]; !ok {
		return fmt.Errorf("document %d: %w", id, models.ErrNotFound)
	}
	delete(c.docs, id)
	return nil
}
