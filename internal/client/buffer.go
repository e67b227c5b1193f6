package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/afroash/lora-digest/internal/models"
)

// DocumentBuffer is a thread-safe bounded buffer of chunk documents
// received from the feed
type DocumentBuffer struct {
	docs       []models.ChunkDocument
	capacity   int
	dropOldest bool
	mutex      sync.RWMutex
	stats      BufferStats
}

// BufferStats tracks buffer usage statistics
type BufferStats struct {
	TotalPushed   int64
	TotalDropped  int64
	HighWaterMark int
	LastPushTime  time.Time
	LastDropTime  time.Time
}

// NewDocumentBuffer creates a buffer holding at most capacity documents.
// A full buffer drops its oldest document when dropOldest is set, and
// rejects the new one otherwise.
func NewDocumentBuffer(capacity int, dropOldest bool) *DocumentBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &DocumentBuffer{
		docs:       make([]models.ChunkDocument, 0, capacity),
		capacity:   capacity,
		dropOldest: dropOldest,
	}
}

// Push adds a document. Returns false if it was dropped.
func (b *DocumentBuffer) Push(doc models.ChunkDocument) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if len(b.docs) >= b.capacity {
		b.stats.TotalDropped++
		b.stats.LastDropTime = time.Now()
		if !b.dropOldest {
			return false
		}
		b.docs = b.docs[1:]
	}
	b.docs = append(b.docs, doc)
	b.stats.TotalPushed++
	b.stats.LastPushTime = time.Now()

	if len(b.docs) > b.stats.HighWaterMark {
		b.stats.HighWaterMark = len(b.docs)
	}
	return true
}

// PopBatch removes and returns up to n documents, oldest first
func (b *DocumentBuffer) PopBatch(n int) []models.ChunkDocument {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	count := min(n, len(b.docs))
	if count <= 0 {
		return nil
	}
	result := make([]models.ChunkDocument, count)
	copy(result, b.docs[:count])
	b.docs = b.docs[count:]
	return result
}

// Peek returns up to n documents without removing them
func (b *DocumentBuffer) Peek(n int) []models.ChunkDocument {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	count := min(n, len(b.docs))
	if count <= 0 {
		return nil
	}
	result := make([]models.ChunkDocument, count)
	copy(result, b.docs[:count])
	return result
}

// Size returns the current number of buffered documents
func (b *DocumentBuffer) Size() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.docs)
}

// IsFull returns true if buffer is at capacity
func (b *DocumentBuffer) IsFull() bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.docs) >= b.capacity
}

// IsEmpty returns true if buffer has no documents
func (b *DocumentBuffer) IsEmpty() bool {
	return b.Size() == 0
}

// Clear removes all documents and resets the counters
func (b *DocumentBuffer) Clear() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.docs = make([]models.ChunkDocument, 0, b.capacity)
	b.stats = BufferStats{}
}

// Capacity returns the maximum capacity of the buffer
func (b *DocumentBuffer) Capacity() int {
	return b.capacity
}

// Stats returns a copy of current buffer statistics
func (b *DocumentBuffer) Stats() BufferStats {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.stats
}

func (b *DocumentBuffer) String() string {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	mode := "drop-newest"
	if b.dropOldest {
		mode = "drop-oldest"
	}
	return fmt.Sprintf("Buffer[%d/%d, dropped: %d, mode: %s]",
		len(b.docs),
		b.capacity,
		b.stats.TotalDropped,
		mode,
	)
}
