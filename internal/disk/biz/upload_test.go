package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/micro-chain/netdisk/internal/pkg/errors"
	"github.com/micro-chain/netdisk/internal/pkg/workerpool"
)

type uploadFixture struct {
	registry *memRegistry
	staging  *memStaging
	blobs    *memBlobStore
	files    *memFileRepo
	refs     *memBlobRefRepo
	strategy *countingStrategy
	uc       *UploadUseCase
}

func newUploadFixture(t *testing.T, cfg UploadConfig) *uploadFixture {
	t.Helper()

	log := testLogger()
	f := &uploadFixture{
		registry: newMemRegistry(),
		staging:  newMemStaging(),
		blobs:    newMemBlobStore(),
		files:    newMemFileRepo(),
		refs:     newMemBlobRefRepo(),
	}
	f.strategy = &countingStrategy{
		inner: NewStoreStrategy(f.staging, f.blobs, f.refs, f.files, log),
	}
	f.uc = NewUploadUseCase(f.registry, f.staging, f.strategy, f.files, f.refs, nil, cfg, log)
	return f
}

func hashOf(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func chunkReq(sessionID string, index, total int, data []byte, fileHash string) *ChunkUploadRequest {
	return &ChunkUploadRequest{
		SessionID:   sessionID,
		Index:       index,
		Total:       total,
		Offset:      -1,
		Data:        data,
		FileName:    "report.txt",
		FileHash:    fileHash,
		AppID:       "app-1",
		ParentID:    RootParentID,
		Suffix:      "txt",
		CreatorID:   "user-1",
		CreatorName: "tester",
	}
}

func TestUploadChunkOutOfOrderCompletes(t *testing.T) {
	f := newUploadFixture(t, UploadConfig{})
	ctx := context.Background()

	a, b, c := []byte("AAA"), []byte("BBB"), []byte("CCC")
	fileHash := hashOf(a, b, c)

	// Chunks arrive 2, 0, 1.
	res, err := f.uc.UploadChunk(ctx, chunkReq("s1", 2, 3, c, fileHash))
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, int64(1), res.Received)

	res, err = f.uc.UploadChunk(ctx, chunkReq("s1", 0, 3, a, fileHash))
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, int64(2), res.Received)

	res, err = f.uc.UploadChunk(ctx, chunkReq("s1", 1, 3, b, fileHash))
	require.NoError(t, err)
	require.True(t, res.Completed)
	require.NotNil(t, res.Node)

	assert.Equal(t, fileHash, res.Node.Hash)
	assert.Equal(t, int64(9), res.Node.Size)
	assert.Equal(t, KindFile, res.Node.Kind)
	assert.Equal(t, "report.txt", res.Node.Name)

	// Committed and visible through the repo.
	stored, err := f.files.GetByID(ctx, res.Node.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	// Staged chunks and records are gone after a successful assembly.
	assert.Equal(t, 0, f.staging.count())
	count, err := f.registry.ReceivedCount(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	assert.Equal(t, int64(1), f.refs.refCount(fileHash))
	assert.Equal(t, 1, f.blobs.writeCount())
}

func TestUploadChunkIdenticalResendIsNoOp(t *testing.T) {
	f := newUploadFixture(t, UploadConfig{})
	ctx := context.Background()

	data := []byte("payload")
	fileHash := hashOf(data, data)

	res, err := f.uc.UploadChunk(ctx, chunkReq("s2", 0, 2, data, fileHash))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(1), res.Received)

	// Same chunk again: accepted, not counted twice.
	res, err = f.uc.UploadChunk(ctx, chunkReq("s2", 0, 2, data, fileHash))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(1), res.Received)
	assert.False(t, res.Completed)
}

func TestUploadChunkConflictingResendFails(t *testing.T) {
	f := newUploadFixture(t, UploadConfig{})
	ctx := context.Background()

	fileHash := hashOf([]byte("first"), []byte("x"))

	_, err := f.uc.UploadChunk(ctx, chunkReq("s3", 0, 2, []byte("first"), fileHash))
	require.NoError(t, err)

	_, err = f.uc.UploadChunk(ctx, chunkReq("s3", 0, 2, []byte("other"), fileHash))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrChunkConflict))
}

func TestUploadDedupAcrossSessions(t *testing.T) {
	f := newUploadFixture(t, UploadConfig{})
	ctx := context.Background()

	data := []byte("shared content")
	fileHash := hashOf(data)

	res1, err := f.uc.UploadChunk(ctx, chunkReq("s4", 0, 1, data, fileHash))
	require.NoError(t, err)
	require.True(t, res1.Completed)

	req2 := chunkReq("s5", 0, 1, data, fileHash)
	req2.FileName = "copy.txt"
	res2, err := f.uc.UploadChunk(ctx, req2)
	require.NoError(t, err)
	require.True(t, res2.Completed)

	// Two logical files, one physical write, reference count 2.
	assert.NotEqual(t, res1.Node.ID, res2.Node.ID)
	assert.Equal(t, 1, f.blobs.writeCount())
	assert.Equal(t, int64(2), f.refs.refCount(fileHash))
}

func TestUploadConcurrentFinalChunksAssembleOnce(t *testing.T) {
	f := newUploadFixture(t, UploadConfig{})
	ctx := context.Background()

	const total = 8
	parts := make([][]byte, total)
	for i := range parts {
		parts[i] = []byte{byte('a' + i), byte('a' + i)}
	}
	fileHash := hashOf(parts...)

	// Seed all but the last two chunks.
	for i := 0; i < total-2; i++ {
		_, err := f.uc.UploadChunk(ctx, chunkReq("s6", i, total, parts[i], fileHash))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var completions int64
	var mu sync.Mutex

	for _, idx := range []int{total - 2, total - 1} {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.uc.UploadChunk(ctx, chunkReq("s6", i, total, parts[i], fileHash))
			if err == nil && res.Completed {
				mu.Lock()
				completions++
				mu.Unlock()
			}
		}(idx)
	}
	wg.Wait()

	// Exactly one caller won the claim and ran the strategy.
	assert.Equal(t, 1, f.strategy.callCount())
	assert.LessOrEqual(t, completions, int64(1))
	assert.Equal(t, 1, f.blobs.writeCount())
}

func TestUploadCanceledCallerLeavesClaimToInFlightAssembly(t *testing.T) {
	log := testLogger()
	registry := newMemRegistry()
	staging := newMemStaging()
	blobs := newMemBlobStore()
	files := newMemFileRepo()
	refs := newMemBlobRefRepo()
	gated := newGatedStrategy(NewStoreStrategy(staging, blobs, refs, files, log))

	pool, err := workerpool.New(&workerpool.Config{Workers: 2}, zap.NewNop())
	require.NoError(t, err)
	defer pool.Release()

	uc := NewUploadUseCase(registry, staging, gated, files, refs, pool, UploadConfig{}, log)

	data := []byte("single chunk")
	fileHash := hashOf(data)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, uploadErr := uc.UploadChunk(ctx, chunkReq("s11", 0, 1, data, fileHash))
		errCh <- uploadErr
	}()

	// Assembly is running in the pool; cancel the uploading request out
	// from under it.
	<-gated.entered
	cancel()
	require.Error(t, <-errCh)

	// A chunk retry while the assembly is still executing must not claim
	// the session again and start a second one.
	res, err := uc.UploadChunk(context.Background(), chunkReq("s11", 0, 1, data, fileHash))
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, 1, gated.callCount())
	assert.Equal(t, 1, gated.maxOverlap())

	close(gated.release)

	// The in-flight assembly finishes on its own and settles the session.
	require.Eventually(t, func() bool {
		count, cErr := registry.ReceivedCount(context.Background(), "s11")
		return cErr == nil && count == 0 && staging.count() == 0
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, gated.callCount())
	assert.Equal(t, 1, blobs.writeCount())
	assert.Equal(t, int64(1), refs.refCount(fileHash))
}

func TestUploadHashMismatchKeepsChunksForRetry(t *testing.T) {
	f := newUploadFixture(t, UploadConfig{MaxAssembleAttempts: 3})
	ctx := context.Background()

	data := []byte("actual bytes")
	wrongHash := hashOf([]byte("declared something else"))

	_, err := f.uc.UploadChunk(ctx, chunkReq("s7", 0, 1, data, wrongHash))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrHashMismatch))

	// Records survive the failed attempt and the claim is free again.
	count, err := f.registry.ReceivedCount(ctx, "s7")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, f.staging.count())

	won, err := f.registry.ClaimAssembly(ctx, "s7", 0)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestUploadAbandonedAfterMaxAttempts(t *testing.T) {
	f := newUploadFixture(t, UploadConfig{MaxAssembleAttempts: 2})
	ctx := context.Background()

	data := []byte("bytes")
	wrongHash := hashOf([]byte("mismatch"))

	// Each identical re-send falls through to the completion check and
	// re-triggers assembly, which fails on the hash every time.
	_, err := f.uc.UploadChunk(ctx, chunkReq("s8", 0, 1, data, wrongHash))
	require.Error(t, err)

	_, err = f.uc.UploadChunk(ctx, chunkReq("s8", 0, 1, data, wrongHash))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrHashMismatch))

	// Second failure hit the attempt limit: everything is reclaimed.
	count, err := f.registry.ReceivedCount(ctx, "s8")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, 0, f.staging.count())
	assert.Equal(t, 2, f.strategy.callCount())
}

func TestUploadChunkValidation(t *testing.T) {
	f := newUploadFixture(t, UploadConfig{MaxChunkSize: 8})
	ctx := context.Background()

	fileHash := hashOf([]byte("x"))

	tests := []struct {
		name     string
		mutate   func(*ChunkUploadRequest)
		wantCode int
	}{
		{
			name:     "missing session id",
			mutate:   func(r *ChunkUploadRequest) { r.SessionID = "" },
			wantCode: apperrors.ErrInvalidParams,
		},
		{
			name:     "index out of range",
			mutate:   func(r *ChunkUploadRequest) { r.Index = 5 },
			wantCode: apperrors.ErrInvalidParams,
		},
		{
			name:     "empty payload",
			mutate:   func(r *ChunkUploadRequest) { r.Data = nil },
			wantCode: apperrors.ErrInvalidParams,
		},
		{
			name:     "missing file hash",
			mutate:   func(r *ChunkUploadRequest) { r.FileHash = "" },
			wantCode: apperrors.ErrInvalidParams,
		},
		{
			name:     "oversized chunk",
			mutate:   func(r *ChunkUploadRequest) { r.Data = []byte("way too large for limit") },
			wantCode: apperrors.ErrChunkTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := chunkReq("s9", 0, 2, []byte("x"), fileHash)
			tt.mutate(req)
			_, err := f.uc.UploadChunk(ctx, req)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, tt.wantCode))
		})
	}
}

func TestProbeMissAndHit(t *testing.T) {
	f := newUploadFixture(t, UploadConfig{})
	ctx := context.Background()

	data := []byte("probe target")
	fileHash := hashOf(data)

	probe := &ProbeRequest{
		FileHash:    fileHash,
		FileName:    "copy.bin",
		AppID:       "app-1",
		CreatorID:   "user-2",
		CreatorName: "tester",
	}

	// Nothing stored yet: miss, client must upload.
	res, err := f.uc.Probe(ctx, probe)
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.Nil(t, res.Node)

	// Upload the content once, then probe again.
	up, err := f.uc.UploadChunk(ctx, chunkReq("s10", 0, 1, data, fileHash))
	require.NoError(t, err)
	require.True(t, up.Completed)

	res, err = f.uc.Probe(ctx, probe)
	require.NoError(t, err)
	require.True(t, res.Hit)
	require.NotNil(t, res.Node)

	assert.Equal(t, fileHash, res.Node.Hash)
	assert.Equal(t, "copy.bin", res.Node.Name)
	assert.Equal(t, int64(len(data)), res.Node.Size)
	assert.Equal(t, int64(2), f.refs.refCount(fileHash))

	// No second physical copy was written.
	assert.Equal(t, 1, f.blobs.writeCount())
}
