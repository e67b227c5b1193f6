package server

import (
	"sort"
	"sync"
	"time"

	"github.com/afroash/lora-digest/internal/models"
)

// DefaultIndexSize is the document capacity used when none is configured
const DefaultIndexSize = 5000

// Query filters indexed documents. Zero fields match everything.
type Query struct {
	Source string
	Date   string
	Limit  int
}

func (q Query) matches(doc *models.ChunkDocument) bool {
	if q.Source != "" && doc.Metadata.Source != q.Source {
		return false
	}
	if q.Date != "" && doc.Metadata.Date != q.Date {
		return false
	}
	return true
}

// MemoryIndex keeps the most recently ingested sources in memory. When the
// document count exceeds capacity, the oldest sources are evicted whole.
type MemoryIndex struct {
	capacity int
	data     map[string][]models.ChunkDocument
	order    []string // sources, oldest first
	count    int
	mutex    sync.RWMutex

	totalIngested int64
	evicted       int64
	lastUpdate    time.Time
}

// IndexStats contains statistics about the memory index
type IndexStats struct {
	Documents     int       `json:"documents"`
	Sources       int       `json:"sources"`
	Capacity      int       `json:"capacity"`
	TotalIngested int64     `json:"total_ingested"`
	Evicted       int64     `json:"evicted_sources"`
	LastUpdate    time.Time `json:"last_update,omitempty"`
}

// NewMemoryIndex creates a new in-memory index
func NewMemoryIndex(capacity int) *MemoryIndex {
	if capacity <= 0 {
		capacity = DefaultIndexSize
	}
	return &MemoryIndex{
		capacity: capacity,
		data:     make(map[string][]models.ChunkDocument),
	}
}

// Replace stores the documents of a source. An empty docs slice removes
// the source.
func (mi *MemoryIndex) Replace(source string, docs []models.ChunkDocument) {
	mi.mutex.Lock()
	defer mi.mutex.Unlock()

	mi.remove(source)
	if len(docs) == 0 {
		return
	}

	cp := make([]models.ChunkDocument, len(docs))
	copy(cp, docs)
	mi.data[source] = cp
	mi.order = append(mi.order, source)
	mi.count += len(cp)
	mi.totalIngested += int64(len(cp))
	mi.lastUpdate = time.Now()

	// The newest source is always kept
	for mi.count > mi.capacity && len(mi.order) > 1 {
		mi.remove(mi.order[0])
		mi.evicted++
	}
}

// remove drops a source. Caller holds the lock.
func (mi *MemoryIndex) remove(source string) {
	docs, ok := mi.data[source]
	if !ok {
		return
	}
	mi.count -= len(docs)
	delete(mi.data, source)
	for i, s := range mi.order {
		if s == source {
			mi.order = append(mi.order[:i], mi.order[i+1:]...)
			break
		}
	}
}

// Query returns copies of the matching documents ordered by start time,
// then source and chunk ID
func (mi *MemoryIndex) Query(q Query) []models.ChunkDocument {
	mi.mutex.RLock()
	result := make([]models.ChunkDocument, 0)
	for _, docs := range mi.data {
		for i := range docs {
			if q.matches(&docs[i]) {
				result = append(result, docs[i])
			}
		}
	}
	mi.mutex.RUnlock()

	sortDocuments(result)
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result
}

// All returns every indexed document
func (mi *MemoryIndex) All() []models.ChunkDocument {
	return mi.Query(Query{})
}

// Sources returns the indexed sources in lexicographic order
func (mi *MemoryIndex) Sources() []string {
	mi.mutex.RLock()
	defer mi.mutex.RUnlock()

	keys := make([]string, 0, len(mi.data))
	for key := range mi.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Stats returns statistics about the index
func (mi *MemoryIndex) Stats() IndexStats {
	mi.mutex.RLock()
	defer mi.mutex.RUnlock()

	return IndexStats{
		Documents:     mi.count,
		Sources:       len(mi.data),
		Capacity:      mi.capacity,
		TotalIngested: mi.totalIngested,
		Evicted:       mi.evicted,
		LastUpdate:    mi.lastUpdate,
	}
}

// Clear removes all data from the index
func (mi *MemoryIndex) Clear() {
	mi.mutex.Lock()
	defer mi.mutex.Unlock()

	mi.data = make(map[string][]models.ChunkDocument)
	mi.order = nil
	mi.count = 0
}

func sortDocuments(docs []models.ChunkDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i].Metadata, docs[j].Metadata
		if a.TimeStart != b.TimeStart {
			return a.TimeStart < b.TimeStart
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.ChunkID < b.ChunkID
	})
}
