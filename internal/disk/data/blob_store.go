package data

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/micro-chain/netdisk/internal/disk/biz"
	apperrors "github.com/micro-chain/netdisk/internal/pkg/errors"
	pkgminio "github.com/micro-chain/netdisk/internal/pkg/minio"
)

// Object key layout inside the bucket:
//
//	chunks/{session}/{index}     staged chunk payloads, removed after assembly
//	blobs/{hash[:2]}/{hash}      assembled content, addressed by SHA-256
func stagingKey(sessionID string, index int) string {
	return fmt.Sprintf("chunks/%s/%d", sessionID, index)
}

func blobKey(hash string) string {
	if len(hash) < 2 {
		return "blobs/" + hash
	}
	return fmt.Sprintf("blobs/%s/%s", hash[:2], hash)
}

// ChunkStagingMinio implements biz.ChunkStaging on object storage.
type ChunkStagingMinio struct {
	client *pkgminio.Client
}

// NewChunkStagingMinio creates an object-storage chunk staging area.
func NewChunkStagingMinio(client *pkgminio.Client) *ChunkStagingMinio {
	return &ChunkStagingMinio{client: client}
}

// Stage writes the chunk payload and returns its object key.
func (s *ChunkStagingMinio) Stage(ctx context.Context, sessionID string, index int, data []byte) (string, error) {
	key := stagingKey(sessionID, index)
	_, err := s.client.PutObject(ctx, s.client.Bucket(), key,
		bytes.NewReader(data), int64(len(data)),
		pkgminio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrStorageFailed, "chunk staging")
	}
	return key, nil
}

// Read loads a staged chunk payload back.
func (s *ChunkStagingMinio) Read(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.client.Bucket(), objectKey, pkgminio.GetObjectOptions{})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "chunk read")
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "chunk read")
	}
	return data, nil
}

// Remove deletes staged chunks. Missing objects are not an error.
func (s *ChunkStagingMinio) Remove(ctx context.Context, objectKeys []string) error {
	for _, key := range objectKeys {
		if err := s.client.RemoveObject(ctx, s.client.Bucket(), key, pkgminio.RemoveObjectOptions{}); err != nil {
			if pkgminio.IsObjectNotFound(err) {
				continue
			}
			return apperrors.Wrap(err, apperrors.ErrStorageFailed, "chunk cleanup")
		}
	}
	return nil
}

// BlobStoreMinio implements biz.BlobStore on object storage. Objects are
// written under their content hash, so a Write for an existing hash is a
// harmless overwrite with identical bytes.
type BlobStoreMinio struct {
	client *pkgminio.Client
}

// NewBlobStoreMinio creates an object-storage blob store.
func NewBlobStoreMinio(client *pkgminio.Client) *BlobStoreMinio {
	return &BlobStoreMinio{client: client}
}

// Exists reports whether content with the hash is already stored.
func (s *BlobStoreMinio) Exists(ctx context.Context, hash string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.client.Bucket(), blobKey(hash))
	if err != nil {
		if pkgminio.IsObjectNotFound(err) {
			return false, nil
		}
		return false, apperrors.Wrap(err, apperrors.ErrStorageFailed, "blob stat")
	}
	return true, nil
}

// Write stores the assembled content and returns its object key.
func (s *BlobStoreMinio) Write(ctx context.Context, hash string, data []byte, contentType string) (string, error) {
	key := blobKey(hash)
	_, err := s.client.PutObject(ctx, s.client.Bucket(), key,
		bytes.NewReader(data), int64(len(data)),
		pkgminio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: map[string]string{"Content-Sha256": hash},
		})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrStorageFailed, "blob write")
	}
	return key, nil
}

// Open returns a reader over the stored content.
func (s *BlobStoreMinio) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.client.Bucket(), blobKey(hash), pkgminio.GetObjectOptions{})
	if err != nil {
		if pkgminio.IsObjectNotFound(err) {
			return nil, apperrors.New(apperrors.ErrFileNotFound, hash)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "blob read")
	}
	return obj, nil
}

// Remove deletes the stored content for a hash.
func (s *BlobStoreMinio) Remove(ctx context.Context, hash string) error {
	if err := s.client.RemoveObject(ctx, s.client.Bucket(), blobKey(hash), pkgminio.RemoveObjectOptions{}); err != nil {
		if pkgminio.IsObjectNotFound(err) {
			return nil
		}
		return apperrors.Wrap(err, apperrors.ErrStorageFailed, "blob remove")
	}
	return nil
}

var _ biz.ChunkStaging = (*ChunkStagingMinio)(nil)
var _ biz.BlobStore = (*BlobStoreMinio)(nil)
var _ biz.ChunkRegistry = (*ChunkRegistryRedis)(nil)
