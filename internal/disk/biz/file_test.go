package biz

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/micro-chain/netdisk/internal/pkg/errors"
)

type fileFixture struct {
	files *memFileRepo
	refs  *memBlobRefRepo
	blobs *memBlobStore
	uc    *FileUseCase
}

func newFileFixture(t *testing.T) *fileFixture {
	t.Helper()
	f := &fileFixture{
		files: newMemFileRepo(),
		refs:  newMemBlobRefRepo(),
		blobs: newMemBlobStore(),
	}
	f.uc = NewFileUseCase(f.files, f.refs, f.blobs, testLogger())
	return f
}

func (f *fileFixture) seedFolder(t *testing.T, id, parentID, name string) *FileNode {
	t.Helper()
	node := &FileNode{
		ID:       id,
		AppID:    "app-1",
		ParentID: parentID,
		Name:     name,
		Kind:     KindFolder,
	}
	require.NoError(t, f.files.Upsert(context.Background(), node))
	return node
}

func (f *fileFixture) seedFile(t *testing.T, id, parentID, name, hash string) *FileNode {
	t.Helper()
	node := &FileNode{
		ID:       id,
		AppID:    "app-1",
		ParentID: parentID,
		Name:     name,
		Hash:     hash,
		Kind:     KindFile,
	}
	require.NoError(t, f.files.Upsert(context.Background(), node))
	return node
}

func TestCreateFolder(t *testing.T) {
	f := newFileFixture(t)
	ctx := context.Background()

	node, err := f.uc.CreateFolder(ctx, &CreateFolderRequest{
		AppID:       "app-1",
		ParentID:    RootParentID,
		Name:        "docs",
		CreatorID:   "user-1",
		CreatorName: "tester",
	})
	require.NoError(t, err)
	require.NotNil(t, node)

	assert.NotEmpty(t, node.ID)
	assert.Equal(t, KindFolder, node.Kind)
	assert.Empty(t, node.Hash)
	assert.Zero(t, node.Size)

	// Nested under the new folder.
	child, err := f.uc.CreateFolder(ctx, &CreateFolderRequest{
		AppID:    "app-1",
		ParentID: node.ID,
		Name:     "reports",
	})
	require.NoError(t, err)
	assert.Equal(t, node.ID, child.ParentID)
}

func TestCreateFolderRejectsBadParent(t *testing.T) {
	f := newFileFixture(t)
	ctx := context.Background()

	// Unknown parent.
	_, err := f.uc.CreateFolder(ctx, &CreateFolderRequest{
		AppID:    "app-1",
		ParentID: "missing",
		Name:     "x",
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParent))

	// A file cannot be a parent.
	f.seedFile(t, "file-1", RootParentID, "a.txt", "h1")
	_, err = f.uc.CreateFolder(ctx, &CreateFolderRequest{
		AppID:    "app-1",
		ParentID: "file-1",
		Name:     "x",
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotAFolder))
}

func TestRenameKeepsHash(t *testing.T) {
	f := newFileFixture(t)
	ctx := context.Background()

	f.seedFile(t, "file-1", RootParentID, "old.txt", "h1")

	require.NoError(t, f.uc.Rename(ctx, "file-1", "new.txt"))

	node, err := f.uc.Get(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, "new.txt", node.Name)
	assert.Equal(t, "h1", node.Hash)

	err = f.uc.Rename(ctx, "missing", "x")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrFileNotFound))
}

func TestMoveRejectsCycle(t *testing.T) {
	f := newFileFixture(t)
	ctx := context.Background()

	// root <- a <- b <- c
	f.seedFolder(t, "a", RootParentID, "a")
	f.seedFolder(t, "b", "a", "b")
	f.seedFolder(t, "c", "b", "c")

	// Moving a under its own grandchild would create a cycle.
	err := f.uc.Move(ctx, "a", "c")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParent))

	// Self-move is rejected outright.
	err = f.uc.Move(ctx, "a", "a")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParent))

	// A legal move works and leaves everything else alone.
	require.NoError(t, f.uc.Move(ctx, "c", RootParentID))
	node, err := f.uc.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, RootParentID, node.ParentID)
}

func TestDeleteDecrementsReference(t *testing.T) {
	f := newFileFixture(t)
	ctx := context.Background()

	require.NoError(t, f.refs.Create(ctx, &BlobReference{
		Hash:             "h1",
		Size:             10,
		ReferenceCount:   2,
		FirstUploadedAt:  time.Now(),
		LastReferencedAt: time.Now(),
	}))
	f.seedFile(t, "file-1", RootParentID, "a.txt", "h1")

	require.NoError(t, f.uc.Delete(ctx, "file-1"))
	assert.Equal(t, int64(1), f.refs.refCount("h1"))

	// The node is gone for readers, and a second delete fails.
	_, err := f.uc.Get(ctx, "file-1")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrFileDeleted))

	err = f.uc.Delete(ctx, "file-1")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrFileDeleted))
	assert.Equal(t, int64(1), f.refs.refCount("h1"))
}

func TestListChildren(t *testing.T) {
	f := newFileFixture(t)
	ctx := context.Background()

	f.seedFolder(t, "a", RootParentID, "a")
	f.seedFile(t, "file-1", "a", "x.txt", "h1")
	f.seedFile(t, "file-2", "a", "y.txt", "h2")
	f.seedFile(t, "file-3", RootParentID, "z.txt", "h3")

	children, err := f.uc.ListChildren(ctx, "app-1", "a")
	require.NoError(t, err)
	assert.Len(t, children, 2)

	// Deleted children disappear from the listing.
	require.NoError(t, f.uc.Delete(ctx, "file-1"))
	children, err = f.uc.ListChildren(ctx, "app-1", "a")
	require.NoError(t, err)
	assert.Len(t, children, 1)

	// Listing under a file node is an error.
	_, err = f.uc.ListChildren(ctx, "app-1", "file-3")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotAFolder))

	_, err = f.uc.ListChildren(ctx, "app-1", "missing")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrFolderNotFound))
}

func TestOpenContent(t *testing.T) {
	f := newFileFixture(t)
	ctx := context.Background()

	_, err := f.blobs.Write(ctx, "h1", []byte("file body"), "text/plain")
	require.NoError(t, err)
	require.NoError(t, f.refs.Create(ctx, &BlobReference{
		Hash:           "h1",
		Size:           9,
		ContentType:    "text/plain",
		ReferenceCount: 1,
	}))
	f.seedFile(t, "file-1", RootParentID, "a.txt", "h1")
	f.seedFolder(t, "folder-1", RootParentID, "dir")

	content, err := f.uc.OpenContent(ctx, "file-1")
	require.NoError(t, err)
	defer content.Reader.Close()

	body, err := io.ReadAll(content.Reader)
	require.NoError(t, err)
	assert.Equal(t, "file body", string(body))
	assert.Equal(t, "h1", content.Node.Hash)
	// The stored MIME type is what gets served, not the node's type code.
	assert.Equal(t, "text/plain", content.ContentType)

	// Folders have no content stream.
	_, err = f.uc.OpenContent(ctx, "folder-1")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrFileNotFound))
}

func TestOpenContentDefaultsContentType(t *testing.T) {
	f := newFileFixture(t)
	ctx := context.Background()

	// No blob reference row for this hash, only the blob itself.
	_, err := f.blobs.Write(ctx, "h2", []byte("raw"), "")
	require.NoError(t, err)
	f.seedFile(t, "file-2", RootParentID, "b.bin", "h2")

	content, err := f.uc.OpenContent(ctx, "file-2")
	require.NoError(t, err)
	defer content.Reader.Close()

	assert.Equal(t, "application/octet-stream", content.ContentType)
}
