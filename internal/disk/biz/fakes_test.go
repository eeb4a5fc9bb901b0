package biz

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	apperrors "github.com/micro-chain/netdisk/internal/pkg/errors"
	"github.com/micro-chain/netdisk/internal/pkg/logger"
)

func testLogger() *logger.Logger {
	log, err := logger.New(&logger.Config{
		Level:  "debug",
		Format: "console",
		Output: "console",
	})
	if err != nil {
		panic(err)
	}
	return log
}

// memRegistry is an in-memory ChunkRegistry with the same record semantics
// as the Redis implementation.
type memRegistry struct {
	mu       sync.Mutex
	records  map[string]map[int]*ChunkRecord
	claims   map[string]bool
	attempts map[string]int64
}

func newMemRegistry() *memRegistry {
	return &memRegistry{
		records:  make(map[string]map[int]*ChunkRecord),
		claims:   make(map[string]bool),
		attempts: make(map[string]int64),
	}
}

func (m *memRegistry) Record(_ context.Context, rec *ChunkRecord, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.records[rec.SessionID]
	if session == nil {
		session = make(map[int]*ChunkRecord)
		m.records[rec.SessionID] = session
	}

	if prev, ok := session[rec.Index]; ok {
		if prev.Hash != rec.Hash {
			return false, apperrors.New(apperrors.ErrChunkConflict,
				fmt.Sprintf("session %s chunk %d", rec.SessionID, rec.Index))
		}
		return false, nil
	}

	session[rec.Index] = rec
	return true, nil
}

func (m *memRegistry) ReceivedCount(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.records[sessionID])), nil
}

func (m *memRegistry) AllPresent(_ context.Context, sessionID string, total int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.records[sessionID]
	for i := 0; i < total; i++ {
		if _, ok := session[i]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func (m *memRegistry) Chunks(_ context.Context, sessionID string, total int) ([]*ChunkRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.records[sessionID]
	out := make([]*ChunkRecord, 0, total)
	for i := 0; i < total; i++ {
		rec, ok := session[i]
		if !ok {
			return nil, apperrors.New(apperrors.ErrUploadIncomplete,
				fmt.Sprintf("session %s chunk %d missing", sessionID, i))
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *memRegistry) ClaimAssembly(_ context.Context, sessionID string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[sessionID] {
		return false, nil
	}
	m.claims[sessionID] = true
	return true, nil
}

func (m *memRegistry) ReleaseAssembly(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, sessionID)
	return nil
}

func (m *memRegistry) FailAttempt(_ context.Context, sessionID string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[sessionID]++
	return m.attempts[sessionID], nil
}

func (m *memRegistry) Clear(_ context.Context, sessionID string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, sessionID)
	delete(m.claims, sessionID)
	delete(m.attempts, sessionID)
	return nil
}

// memStaging keeps staged chunk payloads in a map.
type memStaging struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStaging() *memStaging {
	return &memStaging{objects: make(map[string][]byte)}
}

func (m *memStaging) Stage(_ context.Context, sessionID string, index int, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("chunks/%s/%d", sessionID, index)
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = buf
	return key, nil
}

func (m *memStaging) Read(_ context.Context, objectKey string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectKey]
	if !ok {
		return nil, apperrors.New(apperrors.ErrStorageFailed, "staged object missing: "+objectKey)
	}
	return data, nil
}

func (m *memStaging) Remove(_ context.Context, objectKeys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range objectKeys {
		delete(m.objects, key)
	}
	return nil
}

func (m *memStaging) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// memBlobStore counts physical writes so dedup can be asserted.
type memBlobStore struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	writes int
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (m *memBlobStore) Exists(_ context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[hash]
	return ok, nil
}

func (m *memBlobStore) Write(_ context.Context, hash string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.blobs[hash] = buf
	m.writes++
	return "blobs/" + hash, nil
}

func (m *memBlobStore) Open(_ context.Context, hash string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[hash]
	if !ok {
		return nil, apperrors.New(apperrors.ErrFileNotFound, hash)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (m *memBlobStore) Remove(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, hash)
	return nil
}

func (m *memBlobStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// memFileRepo is an in-memory FileRepo.
type memFileRepo struct {
	mu    sync.Mutex
	nodes map[string]*FileNode
}

func newMemFileRepo() *memFileRepo {
	return &memFileRepo{nodes: make(map[string]*FileNode)}
}

func (m *memFileRepo) Upsert(_ context.Context, node *FileNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *node
	m.nodes[node.ID] = &clone
	return nil
}

func (m *memFileRepo) GetByID(_ context.Context, id string) (*FileNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[id]
	if !ok {
		return nil, nil
	}
	clone := *node
	return &clone, nil
}

func (m *memFileRepo) ListChildren(_ context.Context, appID, parentID string) ([]*FileNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*FileNode
	for _, node := range m.nodes {
		if node.AppID == appID && node.ParentID == parentID && !node.Deleted {
			clone := *node
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memFileRepo) UpdateName(_ context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if node, ok := m.nodes[id]; ok {
		node.Name = name
	}
	return nil
}

func (m *memFileRepo) UpdateParent(_ context.Context, id, parentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if node, ok := m.nodes[id]; ok {
		node.ParentID = parentID
	}
	return nil
}

func (m *memFileRepo) SoftDelete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if node, ok := m.nodes[id]; ok {
		node.Deleted = true
	}
	return nil
}

// memBlobRefRepo is an in-memory BlobRefRepo.
type memBlobRefRepo struct {
	mu   sync.Mutex
	refs map[string]*BlobReference
}

func newMemBlobRefRepo() *memBlobRefRepo {
	return &memBlobRefRepo{refs: make(map[string]*BlobReference)}
}

func (m *memBlobRefRepo) GetByHash(_ context.Context, hash string) (*BlobReference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.refs[hash]
	if !ok {
		return nil, nil
	}
	clone := *ref
	return &clone, nil
}

func (m *memBlobRefRepo) Create(_ context.Context, ref *BlobReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *ref
	m.refs[ref.Hash] = &clone
	return nil
}

func (m *memBlobRefRepo) IncrementReference(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref, ok := m.refs[hash]; ok {
		ref.ReferenceCount++
		ref.LastReferencedAt = time.Now()
	}
	return nil
}

func (m *memBlobRefRepo) DecrementReference(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref, ok := m.refs[hash]; ok && ref.ReferenceCount > 0 {
		ref.ReferenceCount--
	}
	return nil
}

func (m *memBlobRefRepo) refCount(hash string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref, ok := m.refs[hash]; ok {
		return ref.ReferenceCount
	}
	return 0
}

// gatedStrategy blocks inside Deal until released, recording how many
// executions overlapped.
type gatedStrategy struct {
	inner     DealStrategy
	entered   chan struct{}
	release   chan struct{}
	mu        sync.Mutex
	calls     int
	active    int
	maxActive int
}

func newGatedStrategy(inner DealStrategy) *gatedStrategy {
	return &gatedStrategy{
		inner:   inner,
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
}

func (g *gatedStrategy) Deal(ctx context.Context, commit *FileCommit, expectedHash string, chunks []*ChunkRecord) (*FileNode, error) {
	g.mu.Lock()
	g.calls++
	g.active++
	if g.active > g.maxActive {
		g.maxActive = g.active
	}
	g.mu.Unlock()

	g.entered <- struct{}{}
	<-g.release

	node, err := g.inner.Deal(ctx, commit, expectedHash, chunks)

	g.mu.Lock()
	g.active--
	g.mu.Unlock()
	return node, err
}

func (g *gatedStrategy) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *gatedStrategy) maxOverlap() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxActive
}

// countingStrategy wraps a DealStrategy and counts invocations.
type countingStrategy struct {
	mu    sync.Mutex
	inner DealStrategy
	calls int
}

func (c *countingStrategy) Deal(ctx context.Context, commit *FileCommit, expectedHash string, chunks []*ChunkRecord) (*FileNode, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Deal(ctx, commit, expectedHash, chunks)
}

func (c *countingStrategy) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
