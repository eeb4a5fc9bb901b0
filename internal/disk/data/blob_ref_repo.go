package data

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/micro-chain/netdisk/internal/disk/biz"
	"github.com/micro-chain/netdisk/internal/pkg/database"
)

// BlobRefPO is the persistence object for content blobs and their counts.
type BlobRefPO struct {
	Hash             string    `gorm:"column:hash;primaryKey;size:64"`
	Bucket           string    `gorm:"column:bucket;size:64"`
	ObjectKey        string    `gorm:"column:object_key;size:255"`
	Size             int64     `gorm:"column:size"`
	ContentType      string    `gorm:"column:content_type;size:128"`
	ReferenceCount   int64     `gorm:"column:reference_count;default:0"`
	FirstUploadedAt  time.Time `gorm:"column:first_uploaded_at"`
	LastReferencedAt time.Time `gorm:"column:last_referenced_at"`
}

// TableName 指定表名
func (BlobRefPO) TableName() string {
	return "blob_references"
}

func (po *BlobRefPO) toBiz() *biz.BlobReference {
	return &biz.BlobReference{
		Hash:             po.Hash,
		Bucket:           po.Bucket,
		ObjectKey:        po.ObjectKey,
		Size:             po.Size,
		ContentType:      po.ContentType,
		ReferenceCount:   po.ReferenceCount,
		FirstUploadedAt:  po.FirstUploadedAt,
		LastReferencedAt: po.LastReferencedAt,
	}
}

// BlobRefRepoGorm implements biz.BlobRefRepo on the relational store.
type BlobRefRepoGorm struct {
	db *database.DB
}

// NewBlobRefRepoGorm creates a gorm-backed blob reference repository.
func NewBlobRefRepoGorm(db *database.DB) *BlobRefRepoGorm {
	return &BlobRefRepoGorm{db: db}
}

// GetByHash loads a blob reference, returning (nil, nil) when absent.
func (r *BlobRefRepoGorm) GetByHash(ctx context.Context, hash string) (*biz.BlobReference, error) {
	var po BlobRefPO
	err := r.db.WithContext(ctx).Where("hash = ?", hash).First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.toBiz(), nil
}

// Create inserts a new blob reference row.
func (r *BlobRefRepoGorm) Create(ctx context.Context, ref *biz.BlobReference) error {
	now := time.Now()
	po := &BlobRefPO{
		Hash:             ref.Hash,
		Bucket:           ref.Bucket,
		ObjectKey:        ref.ObjectKey,
		Size:             ref.Size,
		ContentType:      ref.ContentType,
		ReferenceCount:   ref.ReferenceCount,
		FirstUploadedAt:  now,
		LastReferencedAt: now,
	}
	return r.db.WithContext(ctx).Create(po).Error
}

// IncrementReference bumps the count atomically in the store.
func (r *BlobRefRepoGorm) IncrementReference(ctx context.Context, hash string) error {
	return r.db.WithContext(ctx).Model(&BlobRefPO{}).
		Where("hash = ?", hash).
		Updates(map[string]interface{}{
			"reference_count":    gorm.Expr("reference_count + 1"),
			"last_referenced_at": time.Now(),
		}).Error
}

// DecrementReference drops the count, never below zero.
func (r *BlobRefRepoGorm) DecrementReference(ctx context.Context, hash string) error {
	return r.db.WithContext(ctx).Model(&BlobRefPO{}).
		Where("hash = ? AND reference_count > 0", hash).
		Update("reference_count", gorm.Expr("reference_count - 1")).Error
}

var _ biz.BlobRefRepo = (*BlobRefRepoGorm)(nil)
