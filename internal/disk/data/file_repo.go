package data

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/micro-chain/netdisk/internal/disk/biz"
	"github.com/micro-chain/netdisk/internal/pkg/database"
)

// AppFilePO is the persistence object for file and folder nodes.
type AppFilePO struct {
	ID          string    `gorm:"column:id;primaryKey;size:64"`
	AppID       string    `gorm:"column:app_id;size:64;index:idx_app_parent,priority:1"`
	BusinessID  string    `gorm:"column:business_id;size:64"`
	BusinessTag string    `gorm:"column:business_tag;size:64"`
	ParentID    string    `gorm:"column:parent_id;size:64;index:idx_app_parent,priority:2"`
	Name        string    `gorm:"column:name;size:255"`
	Size        int64     `gorm:"column:size"`
	Suffix      string    `gorm:"column:suffix;size:32"`
	Icon        string    `gorm:"column:icon;type:text"`
	TypeCode    string    `gorm:"column:type_code;size:32"`
	Hash        string    `gorm:"column:hash;size:64;index"`
	Kind        int       `gorm:"column:kind"`
	DelFlag     int       `gorm:"column:del_flag;default:0"`
	CreatorID   string    `gorm:"column:creator_id;size:64"`
	CreatorName string    `gorm:"column:creator_name;size:64"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

// TableName 指定表名
func (AppFilePO) TableName() string {
	return "app_files"
}

func (po *AppFilePO) toBiz() *biz.FileNode {
	return &biz.FileNode{
		ID:          po.ID,
		AppID:       po.AppID,
		BusinessID:  po.BusinessID,
		BusinessTag: po.BusinessTag,
		ParentID:    po.ParentID,
		Name:        po.Name,
		Size:        po.Size,
		Suffix:      po.Suffix,
		Icon:        po.Icon,
		TypeCode:    po.TypeCode,
		Hash:        po.Hash,
		Kind:        po.Kind,
		Deleted:     po.DelFlag != 0,
		CreatorID:   po.CreatorID,
		CreatorName: po.CreatorName,
		CreatedAt:   po.CreatedAt,
		UpdatedAt:   po.UpdatedAt,
	}
}

func fileNodeToPO(node *biz.FileNode) *AppFilePO {
	delFlag := 0
	if node.Deleted {
		delFlag = 1
	}
	return &AppFilePO{
		ID:          node.ID,
		AppID:       node.AppID,
		BusinessID:  node.BusinessID,
		BusinessTag: node.BusinessTag,
		ParentID:    node.ParentID,
		Name:        node.Name,
		Size:        node.Size,
		Suffix:      node.Suffix,
		Icon:        node.Icon,
		TypeCode:    node.TypeCode,
		Hash:        node.Hash,
		Kind:        node.Kind,
		DelFlag:     delFlag,
		CreatorID:   node.CreatorID,
		CreatorName: node.CreatorName,
		CreatedAt:   node.CreatedAt,
		UpdatedAt:   node.UpdatedAt,
	}
}

// FileRepoGorm implements biz.FileRepo on the relational store.
type FileRepoGorm struct {
	db *database.DB
}

// NewFileRepoGorm creates a gorm-backed file repository.
func NewFileRepoGorm(db *database.DB) *FileRepoGorm {
	return &FileRepoGorm{db: db}
}

// Upsert writes the node, replacing mutable columns on id conflict.
func (r *FileRepoGorm) Upsert(ctx context.Context, node *biz.FileNode) error {
	po := fileNodeToPO(node)
	now := time.Now()
	if po.CreatedAt.IsZero() {
		po.CreatedAt = now
	}
	po.UpdatedAt = now

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"parent_id", "name", "size", "suffix", "icon", "type_code",
			"hash", "kind", "del_flag", "updated_at",
		}),
	}).Create(po).Error
}

// GetByID loads a node by id, returning (nil, nil) when absent.
func (r *FileRepoGorm) GetByID(ctx context.Context, id string) (*biz.FileNode, error) {
	var po AppFilePO
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.toBiz(), nil
}

// ListChildren returns the live children of a parent, folders first.
func (r *FileRepoGorm) ListChildren(ctx context.Context, appID, parentID string) ([]*biz.FileNode, error) {
	var pos []AppFilePO
	err := r.db.WithContext(ctx).
		Where("app_id = ? AND parent_id = ? AND del_flag = 0", appID, parentID).
		Order("kind ASC, name ASC").
		Find(&pos).Error
	if err != nil {
		return nil, err
	}

	nodes := make([]*biz.FileNode, 0, len(pos))
	for i := range pos {
		nodes = append(nodes, pos[i].toBiz())
	}
	return nodes, nil
}

// UpdateName renames a node.
func (r *FileRepoGorm) UpdateName(ctx context.Context, id, name string) error {
	return r.db.WithContext(ctx).Model(&AppFilePO{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"name": name, "updated_at": time.Now()}).Error
}

// UpdateParent moves a node under a new parent.
func (r *FileRepoGorm) UpdateParent(ctx context.Context, id, parentID string) error {
	return r.db.WithContext(ctx).Model(&AppFilePO{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"parent_id": parentID, "updated_at": time.Now()}).Error
}

// SoftDelete marks a node deleted without removing the row.
func (r *FileRepoGorm) SoftDelete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&AppFilePO{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"del_flag": 1, "updated_at": time.Now()}).Error
}

var _ biz.FileRepo = (*FileRepoGorm)(nil)
