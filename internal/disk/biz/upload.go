package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/micro-chain/netdisk/internal/pkg/errors"
	"github.com/micro-chain/netdisk/internal/pkg/logger"
	"github.com/micro-chain/netdisk/internal/pkg/workerpool"
	"go.uber.org/zap"
)

// UploadConfig tunes the chunked ingestion pipeline.
type UploadConfig struct {
	SessionTTL          time.Duration // inactivity window before a session's records expire
	MaxChunkSize        int64         // bytes, 0 disables the check
	MaxAssembleAttempts int           // failed assemblies before the session is abandoned
}

// DefaultUploadConfig returns the defaults used when a field is unset.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		SessionTTL:          time.Hour,
		MaxChunkSize:        32 << 20,
		MaxAssembleAttempts: 3,
	}
}

func (c *UploadConfig) setDefaults() {
	def := DefaultUploadConfig()
	if c.SessionTTL <= 0 {
		c.SessionTTL = def.SessionTTL
	}
	if c.MaxAssembleAttempts <= 0 {
		c.MaxAssembleAttempts = def.MaxAssembleAttempts
	}
}

// ChunkUploadRequest is one chunk of an upload session. Session-level fields
// (total, declared hash, node metadata) ride along on every chunk so that any
// chunk, arriving in any order, carries enough to finish the file.
type ChunkUploadRequest struct {
	SessionID string
	Index     int
	Total     int
	Offset    int64 // -1 when not declared
	Data      []byte

	FileID      string
	FileName    string
	FileHash    string // declared SHA-256 of the whole file
	AppID       string
	BusinessID  string
	BusinessTag string
	ParentID    string
	Suffix      string
	Icon        string
	TypeCode    string
	CreatorID   string
	CreatorName string
}

// ChunkUploadResult reports the session state after a chunk was recorded.
type ChunkUploadResult struct {
	Received  int64     // distinct chunks recorded so far
	Total     int
	Duplicate bool      // this chunk was an identical re-send
	Completed bool      // the file was assembled and committed by this call
	Node      *FileNode // set when Completed
}

// ProbeRequest asks whether content with the declared hash is already stored,
// allowing the client to skip the byte transfer entirely.
type ProbeRequest struct {
	FileHash    string
	FileID      string
	FileName    string
	FileSize    int64
	AppID       string
	BusinessID  string
	BusinessTag string
	ParentID    string
	Suffix      string
	Icon        string
	TypeCode    string
	CreatorID   string
	CreatorName string
}

// ProbeResult reports a fast-upload probe outcome.
type ProbeResult struct {
	Hit  bool
	Node *FileNode // set on hit
}

// UploadUseCase drives the chunked upload pipeline: record, detect
// completion, hand off to the assembly strategy exactly once.
type UploadUseCase struct {
	registry ChunkRegistry
	staging  ChunkStaging
	strategy DealStrategy
	files    FileRepo
	refs     BlobRefRepo
	pool     *workerpool.Pool // bounds concurrent assemblies; nil runs inline
	cfg      UploadConfig
	logger   *logger.Logger
}

// NewUploadUseCase creates the upload use case.
func NewUploadUseCase(
	registry ChunkRegistry,
	staging ChunkStaging,
	strategy DealStrategy,
	files FileRepo,
	refs BlobRefRepo,
	pool *workerpool.Pool,
	cfg UploadConfig,
	log *logger.Logger,
) *UploadUseCase {
	cfg.setDefaults()
	return &UploadUseCase{
		registry: registry,
		staging:  staging,
		strategy: strategy,
		files:    files,
		refs:     refs,
		pool:     pool,
		cfg:      cfg,
		logger:   log,
	}
}

// UploadChunk stages and records one chunk, then runs the completion check.
// Re-sending an identical chunk is a no-op that still re-runs the check, so a
// retry after a failed assembly can re-trigger it.
func (uc *UploadUseCase) UploadChunk(ctx context.Context, req *ChunkUploadRequest) (*ChunkUploadResult, error) {
	if err := validateChunkRequest(req, uc.cfg.MaxChunkSize); err != nil {
		return nil, err
	}

	chunkHash := sha256.Sum256(req.Data)

	objectKey, err := uc.staging.Stage(ctx, req.SessionID, req.Index, req.Data)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "stage chunk payload")
	}

	rec := &ChunkRecord{
		SessionID: req.SessionID,
		Index:     req.Index,
		Offset:    req.Offset,
		Size:      int64(len(req.Data)),
		Hash:      hex.EncodeToString(chunkHash[:]),
		ObjectKey: objectKey,
		ArrivedAt: time.Now(),
	}

	isNew, err := uc.registry.Record(ctx, rec, uc.cfg.SessionTTL)
	if err != nil {
		return nil, err
	}

	received, err := uc.registry.ReceivedCount(ctx, req.SessionID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "received count")
	}

	result := &ChunkUploadResult{
		Received:  received,
		Total:     req.Total,
		Duplicate: !isNew,
	}

	if received < int64(req.Total) {
		return result, nil
	}

	// The counter alone can lie if a miscounted duplicate masked a missing
	// index; require every index to actually be present.
	complete, err := uc.registry.AllPresent(ctx, req.SessionID, req.Total)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "completion check")
	}
	if !complete {
		uc.logger.Warn("received count reached total but indices are missing",
			zap.String("session_id", req.SessionID),
			zap.Int64("received", received),
			zap.Int("total", req.Total),
		)
		return result, nil
	}

	// Single-winner transition: concurrent records of the final chunks race
	// here and exactly one proceeds to assembly.
	won, err := uc.registry.ClaimAssembly(ctx, req.SessionID, uc.cfg.SessionTTL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "claim assembly")
	}
	if !won {
		return result, nil
	}

	node, err := uc.assemble(ctx, req)
	if err != nil {
		return nil, err
	}

	result.Completed = true
	result.Node = node
	return result, nil
}

// assemble runs the strategy on the worker pool and handles the
// retry-or-abandon bookkeeping around it.
func (uc *UploadUseCase) assemble(ctx context.Context, req *ChunkUploadRequest) (*FileNode, error) {
	chunks, err := uc.registry.Chunks(ctx, req.SessionID, req.Total)
	if err != nil {
		uc.releaseClaim(context.WithoutCancel(ctx), req.SessionID)
		return nil, err
	}

	commit := &FileCommit{
		FileID:      req.FileID,
		AppID:       req.AppID,
		BusinessID:  req.BusinessID,
		BusinessTag: req.BusinessTag,
		ParentID:    req.ParentID,
		Name:        req.FileName,
		Suffix:      req.Suffix,
		Icon:        req.Icon,
		TypeCode:    req.TypeCode,
		CreatorID:   req.CreatorID,
		CreatorName: req.CreatorName,
	}

	// The retry-or-abandon bookkeeping rides inside the task so it runs only
	// after Deal has actually returned. A caller whose context is canceled
	// mid-assembly gets its error from SubmitWait while the task keeps
	// running in the pool; releasing the claim at that point would let a
	// chunk retry start a second assembly concurrently with the first. The
	// task therefore uses a detached context and settles the claim itself.
	taskCtx := context.WithoutCancel(ctx)
	var node *FileNode
	run := func() error {
		n, dealErr := uc.strategy.Deal(taskCtx, commit, req.FileHash, chunks)
		if dealErr != nil {
			uc.handleAssemblyFailure(taskCtx, req, dealErr)
			return dealErr
		}
		node = n
		uc.cleanupSession(taskCtx, req.SessionID, req.Total, chunks)
		return nil
	}

	if uc.pool != nil {
		err = uc.pool.SubmitWait(ctx, run)
	} else {
		err = run()
	}

	if err != nil {
		return nil, err
	}

	return node, nil
}

// handleAssemblyFailure keeps the chunks around for a bounded number of
// retries and abandons the session after that.
func (uc *UploadUseCase) handleAssemblyFailure(ctx context.Context, req *ChunkUploadRequest, cause error) {
	attempts, err := uc.registry.FailAttempt(ctx, req.SessionID, uc.cfg.SessionTTL)
	if err != nil {
		uc.logger.Error("failed to count assembly attempt",
			zap.String("session_id", req.SessionID),
			zap.Error(err),
		)
	}

	if attempts >= int64(uc.cfg.MaxAssembleAttempts) {
		uc.logger.Warn("abandoning upload session after repeated assembly failures",
			zap.String("session_id", req.SessionID),
			zap.Int64("attempts", attempts),
			zap.Error(cause),
		)
		chunks, chErr := uc.registry.Chunks(ctx, req.SessionID, req.Total)
		if chErr == nil {
			uc.cleanupSession(ctx, req.SessionID, req.Total, chunks)
		} else {
			_ = uc.registry.Clear(ctx, req.SessionID, req.Total)
		}
		return
	}

	// Leave the records in place and free the claim so a client retry can
	// trigger assembly again.
	uc.releaseClaim(ctx, req.SessionID)
}

func (uc *UploadUseCase) releaseClaim(ctx context.Context, sessionID string) {
	if err := uc.registry.ReleaseAssembly(ctx, sessionID); err != nil {
		uc.logger.Error("failed to release assembly claim",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}

// cleanupSession deletes the session's records and staged payloads. Failures
// are logged only; the TTL reclaims whatever is left behind.
func (uc *UploadUseCase) cleanupSession(ctx context.Context, sessionID string, total int, chunks []*ChunkRecord) {
	keys := make([]string, 0, len(chunks))
	for _, rec := range chunks {
		keys = append(keys, rec.ObjectKey)
	}
	if err := uc.staging.Remove(ctx, keys); err != nil {
		uc.logger.Warn("failed to remove staged chunks",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
	if err := uc.registry.Clear(ctx, sessionID, total); err != nil {
		uc.logger.Warn("failed to clear chunk records",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}

// Probe implements fast upload: content already stored under the declared
// hash commits a FileNode without any byte transfer.
func (uc *UploadUseCase) Probe(ctx context.Context, req *ProbeRequest) (*ProbeResult, error) {
	if req.FileHash == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "file_hash is required")
	}

	ref, err := uc.refs.GetByHash(ctx, req.FileHash)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "blob reference lookup")
	}
	if ref == nil {
		return &ProbeResult{Hit: false}, nil
	}

	if err := uc.refs.IncrementReference(ctx, req.FileHash); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "blob reference increment")
	}

	node := &FileNode{
		ID:          req.FileID,
		AppID:       req.AppID,
		BusinessID:  req.BusinessID,
		BusinessTag: req.BusinessTag,
		ParentID:    req.ParentID,
		Name:        req.FileName,
		Size:        ref.Size,
		Suffix:      req.Suffix,
		Icon:        req.Icon,
		TypeCode:    req.TypeCode,
		Hash:        req.FileHash,
		Kind:        KindFile,
		CreatorID:   req.CreatorID,
		CreatorName: req.CreatorName,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if node.ID == "" {
		node.ID = uuid.New().String()
	}

	if err := uc.files.Upsert(ctx, node); err != nil {
		_ = uc.refs.DecrementReference(ctx, req.FileHash)
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "file metadata commit")
	}

	uc.logger.Info("fast upload committed",
		zap.String("file_id", node.ID),
		zap.String("hash", req.FileHash),
	)

	return &ProbeResult{Hit: true, Node: node}, nil
}

func validateChunkRequest(req *ChunkUploadRequest, maxChunkSize int64) error {
	if req.SessionID == "" {
		return apperrors.New(apperrors.ErrInvalidParams, "session_id is required")
	}
	if req.Total <= 0 {
		return apperrors.New(apperrors.ErrInvalidParams, "total_chunks must be positive")
	}
	if req.Index < 0 || req.Index >= req.Total {
		return apperrors.New(apperrors.ErrInvalidParams,
			fmt.Sprintf("chunk_index %d outside [0,%d)", req.Index, req.Total))
	}
	if len(req.Data) == 0 {
		return apperrors.New(apperrors.ErrInvalidParams, "chunk payload is empty")
	}
	if req.FileHash == "" {
		return apperrors.New(apperrors.ErrInvalidParams, "file_hash is required")
	}
	if maxChunkSize > 0 && int64(len(req.Data)) > maxChunkSize {
		return apperrors.New(apperrors.ErrChunkTooLarge,
			fmt.Sprintf("chunk is %d bytes, limit %d", len(req.Data), maxChunkSize))
	}
	return nil
}
