package client

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/lora-digest/internal/models"
)

func testDoc(source string, id int) models.ChunkDocument {
	return models.ChunkDocument{
		Text:     fmt.Sprintf("%s chunk %d", source, id),
		Metadata: models.ChunkMetadata{ChunkID: id, Source: source},
	}
}

func chunkIDs(docs []models.ChunkDocument) []int {
	ids := make([]int, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.Metadata.ChunkID)
	}
	return ids
}

func TestNewDocumentBuffer(t *testing.T) {
	buf := NewDocumentBuffer(100, true)
	assert.Equal(t, 100, buf.Capacity())
	assert.True(t, buf.IsEmpty())

	// Non-positive capacity is raised to 1
	assert.Equal(t, 1, NewDocumentBuffer(0, true).Capacity())
}

func TestBuffer_PushAndPopBatch(t *testing.T) {
	buf := NewDocumentBuffer(10, true)
	for i := 0; i < 5; i++ {
		require.True(t, buf.Push(testDoc("a.csv", i)), "push %d", i)
	}

	assert.Equal(t, []int{0, 1, 2}, chunkIDs(buf.PopBatch(3)))
	assert.Equal(t, 2, buf.Size())

	assert.Len(t, buf.PopBatch(10), 2)
	assert.Nil(t, buf.PopBatch(1))
}

func TestBuffer_Peek(t *testing.T) {
	buf := NewDocumentBuffer(10, true)
	buf.Push(testDoc("a.csv", 0))
	buf.Push(testDoc("a.csv", 1))

	assert.Len(t, buf.Peek(5), 2)
	assert.Equal(t, 2, buf.Size(), "peek must not remove documents")
}

func TestBuffer_DropOldest(t *testing.T) {
	buf := NewDocumentBuffer(3, true)
	for i := 0; i < 5; i++ {
		assert.True(t, buf.Push(testDoc("a.csv", i)), "push %d", i)
	}

	assert.True(t, buf.IsFull())
	assert.Equal(t, []int{2, 3, 4}, chunkIDs(buf.Peek(3)))

	stats := buf.Stats()
	assert.Equal(t, int64(5), stats.TotalPushed)
	assert.Equal(t, int64(2), stats.TotalDropped)
	assert.Equal(t, 3, stats.HighWaterMark)
}

func TestBuffer_DropNewest(t *testing.T) {
	buf := NewDocumentBuffer(2, false)
	buf.Push(testDoc("a.csv", 0))
	buf.Push(testDoc("a.csv", 1))

	assert.False(t, buf.Push(testDoc("a.csv", 2)))
	assert.Equal(t, []int{0, 1}, chunkIDs(buf.Peek(2)))
	assert.Equal(t, "Buffer[2/2, dropped: 1, mode: drop-newest]", buf.String())
}

func TestBuffer_Clear(t *testing.T) {
	buf := NewDocumentBuffer(2, true)
	buf.Push(testDoc("a.csv", 0))
	buf.Push(testDoc("a.csv", 1))
	buf.Push(testDoc("a.csv", 2))
	buf.Clear()

	assert.True(t, buf.IsEmpty())
	stats := buf.Stats()
	assert.Zero(t, stats.TotalPushed)
	assert.Zero(t, stats.TotalDropped)
}

func TestBuffer_Concurrent(t *testing.T) {
	buf := NewDocumentBuffer(1000, true)

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				buf.Push(testDoc(fmt.Sprintf("%d.csv", w), i))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 500, buf.Size())
}
