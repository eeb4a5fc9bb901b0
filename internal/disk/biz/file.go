package biz

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/micro-chain/netdisk/internal/pkg/errors"
	"github.com/micro-chain/netdisk/internal/pkg/logger"
	"go.uber.org/zap"
)

// maxFolderDepth bounds the ancestor walk in move validation.
const maxFolderDepth = 64

// CreateFolderRequest creates a folder node.
type CreateFolderRequest struct {
	AppID       string
	BusinessID  string
	BusinessTag string
	ParentID    string
	Name        string
	Icon        string
	TypeCode    string
	CreatorID   string
	CreatorName string
}

// FileUseCase contains business logic for file and folder operations.
type FileUseCase struct {
	files  FileRepo
	refs   BlobRefRepo
	blobs  BlobStore
	logger *logger.Logger
}

// NewFileUseCase creates a new file use case.
func NewFileUseCase(files FileRepo, refs BlobRefRepo, blobs BlobStore, log *logger.Logger) *FileUseCase {
	return &FileUseCase{
		files:  files,
		refs:   refs,
		blobs:  blobs,
		logger: log,
	}
}

// CreateFolder creates a folder under an existing folder or the root.
func (uc *FileUseCase) CreateFolder(ctx context.Context, req *CreateFolderRequest) (*FileNode, error) {
	if req.Name == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "folder name is required")
	}

	if err := uc.checkParent(ctx, req.ParentID); err != nil {
		return nil, err
	}

	node := &FileNode{
		ID:          uuid.New().String(),
		AppID:       req.AppID,
		BusinessID:  req.BusinessID,
		BusinessTag: req.BusinessTag,
		ParentID:    req.ParentID,
		Name:        req.Name,
		Icon:        req.Icon,
		TypeCode:    req.TypeCode,
		Kind:        KindFolder,
		CreatorID:   req.CreatorID,
		CreatorName: req.CreatorName,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if err := uc.files.Upsert(ctx, node); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "folder create")
	}

	return node, nil
}

// Rename changes a node's name. The content hash is never touched.
func (uc *FileUseCase) Rename(ctx context.Context, id, name string) error {
	if name == "" {
		return apperrors.New(apperrors.ErrInvalidParams, "name is required")
	}

	if _, err := uc.mustGetLive(ctx, id); err != nil {
		return err
	}

	if err := uc.files.UpdateName(ctx, id, name); err != nil {
		return apperrors.Wrap(err, apperrors.ErrStorageFailed, "rename")
	}

	return nil
}

// Move re-parents a node under another folder or the root. The content hash
// is never touched.
func (uc *FileUseCase) Move(ctx context.Context, id, newParentID string) error {
	node, err := uc.mustGetLive(ctx, id)
	if err != nil {
		return err
	}

	if newParentID == id {
		return apperrors.New(apperrors.ErrInvalidParent, "cannot move a node into itself")
	}

	if err := uc.checkParent(ctx, newParentID); err != nil {
		return err
	}

	// A folder must not be moved under its own subtree.
	if node.IsFolder() && newParentID != RootParentID {
		ancestor := newParentID
		for depth := 0; ancestor != RootParentID && depth < maxFolderDepth; depth++ {
			if ancestor == id {
				return apperrors.New(apperrors.ErrInvalidParent, "cannot move a folder into its own subtree")
			}
			parent, err := uc.files.GetByID(ctx, ancestor)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrStorageFailed, "ancestor lookup")
			}
			if parent == nil {
				break
			}
			ancestor = parent.ParentID
		}
	}

	if err := uc.files.UpdateParent(ctx, id, newParentID); err != nil {
		return apperrors.Wrap(err, apperrors.ErrStorageFailed, "move")
	}

	return nil
}

// Delete soft-deletes a node. For file nodes the blob reference count is
// decremented; the blob itself stays as long as anything references it.
func (uc *FileUseCase) Delete(ctx context.Context, id string) error {
	node, err := uc.mustGetLive(ctx, id)
	if err != nil {
		return err
	}

	if err := uc.files.SoftDelete(ctx, id); err != nil {
		return apperrors.Wrap(err, apperrors.ErrStorageFailed, "delete")
	}

	if !node.IsFolder() && node.Hash != "" {
		if err := uc.refs.DecrementReference(ctx, node.Hash); err != nil {
			uc.logger.Error("failed to decrement blob reference",
				zap.String("file_id", id),
				zap.String("hash", node.Hash),
				zap.Error(err),
			)
		}
	}

	return nil
}

// Get returns a live node by id.
func (uc *FileUseCase) Get(ctx context.Context, id string) (*FileNode, error) {
	return uc.mustGetLive(ctx, id)
}

// ListChildren lists the live children of a folder (or the root).
func (uc *FileUseCase) ListChildren(ctx context.Context, appID, parentID string) ([]*FileNode, error) {
	if parentID != RootParentID {
		parent, err := uc.files.GetByID(ctx, parentID)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "parent lookup")
		}
		if parent == nil || parent.Deleted {
			return nil, apperrors.New(apperrors.ErrFolderNotFound, parentID)
		}
		if !parent.IsFolder() {
			return nil, apperrors.New(apperrors.ErrNotAFolder, parentID)
		}
	}

	nodes, err := uc.files.ListChildren(ctx, appID, parentID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "list children")
	}

	return nodes, nil
}

// FileContent couples a file node with a reader over its stored bytes and
// the MIME type recorded for the blob at assembly time.
type FileContent struct {
	Node        *FileNode
	ContentType string
	Reader      io.ReadCloser
}

// OpenContent returns a file node, its content type and a reader over its
// blob content.
func (uc *FileUseCase) OpenContent(ctx context.Context, id string) (*FileContent, error) {
	node, err := uc.mustGetLive(ctx, id)
	if err != nil {
		return nil, err
	}

	if node.IsFolder() || node.Hash == "" {
		return nil, apperrors.New(apperrors.ErrFileNotFound, "node has no content")
	}

	contentType := "application/octet-stream"
	ref, err := uc.refs.GetByHash(ctx, node.Hash)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "blob reference lookup")
	}
	if ref != nil && ref.ContentType != "" {
		contentType = ref.ContentType
	}

	rc, err := uc.blobs.Open(ctx, node.Hash)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "blob open")
	}

	return &FileContent{
		Node:        node,
		ContentType: contentType,
		Reader:      rc,
	}, nil
}

// checkParent ensures the parent is the root sentinel or an existing live folder.
func (uc *FileUseCase) checkParent(ctx context.Context, parentID string) error {
	if parentID == RootParentID {
		return nil
	}

	parent, err := uc.files.GetByID(ctx, parentID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrStorageFailed, "parent lookup")
	}
	if parent == nil || parent.Deleted {
		return apperrors.New(apperrors.ErrInvalidParent, parentID)
	}
	if !parent.IsFolder() {
		return apperrors.New(apperrors.ErrNotAFolder, parentID)
	}

	return nil
}

func (uc *FileUseCase) mustGetLive(ctx context.Context, id string) (*FileNode, error) {
	if id == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "id is required")
	}

	node, err := uc.files.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "node lookup")
	}
	if node == nil {
		return nil, apperrors.New(apperrors.ErrFileNotFound, id)
	}
	if node.Deleted {
		return nil, apperrors.New(apperrors.ErrFileDeleted, id)
	}

	return node, nil
}
