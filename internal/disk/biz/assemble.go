package biz

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"sort"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/micro-chain/netdisk/internal/pkg/errors"
	"github.com/micro-chain/netdisk/internal/pkg/logger"
	"go.uber.org/zap"
)

// FileCommit carries the metadata of the FileNode an assembly will create.
type FileCommit struct {
	FileID      string
	AppID       string
	BusinessID  string
	BusinessTag string
	ParentID    string
	Name        string
	Suffix      string
	Icon        string
	TypeCode    string
	CreatorID   string
	CreatorName string
}

// DealStrategy merges a complete chunk set into a committed file. It is the
// extension point for alternate storage pipelines (scan-before-store and the
// like); StoreStrategy is the plain store-or-link implementation.
type DealStrategy interface {
	Deal(ctx context.Context, commit *FileCommit, expectedHash string, chunks []*ChunkRecord) (*FileNode, error)
}

// StoreStrategy verifies the assembled content against the declared hash and
// either links the node to an already-stored blob or writes the blob once.
type StoreStrategy struct {
	staging ChunkStaging
	blobs   BlobStore
	refs    BlobRefRepo
	files   FileRepo
	logger  *logger.Logger
}

// NewStoreStrategy creates the default assembly strategy.
func NewStoreStrategy(staging ChunkStaging, blobs BlobStore, refs BlobRefRepo, files FileRepo, log *logger.Logger) *StoreStrategy {
	return &StoreStrategy{
		staging: staging,
		blobs:   blobs,
		refs:    refs,
		files:   files,
		logger:  log,
	}
}

// Deal assembles the chunks in index order, verifies the aggregate hash,
// deduplicates against stored content and commits the FileNode. Nothing is
// visible to readers until the metadata commit succeeds.
func (s *StoreStrategy) Deal(ctx context.Context, commit *FileCommit, expectedHash string, chunks []*ChunkRecord) (*FileNode, error) {
	if len(chunks) == 0 {
		return nil, apperrors.New(apperrors.ErrUploadIncomplete, "empty chunk set")
	}

	ordered := make([]*ChunkRecord, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	if err := verifyCoverage(ordered); err != nil {
		return nil, err
	}

	// Concatenate in index order, hashing incrementally.
	hasher := sha256.New()
	var content bytes.Buffer
	for _, rec := range ordered {
		data, err := s.staging.Read(ctx, rec.ObjectKey)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrStorageFailed, "read chunk %d", rec.Index)
		}
		if rec.Size > 0 && int64(len(data)) != rec.Size {
			return nil, apperrors.New(apperrors.ErrHashMismatch,
				fmt.Sprintf("chunk %d staged size %d differs from recorded %d", rec.Index, len(data), rec.Size))
		}
		hasher.Write(data)
		content.Write(data)
	}

	computed := hex.EncodeToString(hasher.Sum(nil))
	if computed != expectedHash {
		s.logger.Warn("assembled content does not match declared hash",
			zap.String("session_id", ordered[0].SessionID),
			zap.String("declared", expectedHash),
			zap.String("computed", computed),
		)
		return nil, apperrors.New(apperrors.ErrHashMismatch, computed)
	}

	contentType := contentTypeForSuffix(commit.Suffix)

	// Dedup: link to an existing blob when the hash is already stored.
	ref, err := s.refs.GetByHash(ctx, computed)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "blob reference lookup")
	}

	newBlob := ref == nil
	if newBlob {
		objectKey, err := s.blobs.Write(ctx, computed, content.Bytes(), contentType)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "blob write")
		}

		now := time.Now()
		ref = &BlobReference{
			Hash:             computed,
			ObjectKey:        objectKey,
			Size:             int64(content.Len()),
			ContentType:      contentType,
			ReferenceCount:   1,
			FirstUploadedAt:  now,
			LastReferencedAt: now,
		}
		if err := s.refs.Create(ctx, ref); err != nil {
			_ = s.blobs.Remove(ctx, computed)
			return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "blob reference create")
		}
	} else {
		if err := s.refs.IncrementReference(ctx, computed); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "blob reference increment")
		}
		s.logger.Info("dedup hit, skipping physical write",
			zap.String("hash", computed),
			zap.String("file_id", commit.FileID),
		)
	}

	node := &FileNode{
		ID:          commit.FileID,
		AppID:       commit.AppID,
		BusinessID:  commit.BusinessID,
		BusinessTag: commit.BusinessTag,
		ParentID:    commit.ParentID,
		Name:        commit.Name,
		Size:        int64(content.Len()),
		Suffix:      commit.Suffix,
		Icon:        commit.Icon,
		TypeCode:    commit.TypeCode,
		Hash:        computed,
		Kind:        KindFile,
		CreatorID:   commit.CreatorID,
		CreatorName: commit.CreatorName,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if node.ID == "" {
		node.ID = uuid.New().String()
	}

	if err := s.files.Upsert(ctx, node); err != nil {
		// Roll the reference count back; the blob itself is addressed by
		// hash and stays put so a retry only has to redo the metadata step.
		_ = s.refs.DecrementReference(ctx, computed)
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "file metadata commit")
	}

	s.logger.Info("upload assembled and committed",
		zap.String("file_id", node.ID),
		zap.String("hash", computed),
		zap.Int64("size", node.Size),
		zap.Bool("dedup_hit", !newBlob),
	)

	return node, nil
}

// verifyCoverage checks that the sorted records cover [0, n) exactly once
// with consistent offsets.
func verifyCoverage(ordered []*ChunkRecord) error {
	var written int64
	for i, rec := range ordered {
		if rec.Index != i {
			return apperrors.New(apperrors.ErrUploadIncomplete,
				fmt.Sprintf("expected chunk %d, found %d", i, rec.Index))
		}
		if rec.Offset >= 0 && rec.Offset != written {
			return apperrors.New(apperrors.ErrUploadIncomplete,
				fmt.Sprintf("chunk %d declared offset %d, expected %d", i, rec.Offset, written))
		}
		written += rec.Size
	}
	return nil
}

// contentTypeForSuffix resolves a MIME type from a file suffix.
func contentTypeForSuffix(suffix string) string {
	if suffix == "" {
		return "application/octet-stream"
	}
	if suffix[0] != '.' {
		suffix = "." + suffix
	}
	if ct := mime.TypeByExtension(suffix); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
