package service

import (
	"time"

	"github.com/micro-chain/netdisk/internal/disk/biz"
)

// ChunkUploadForm is the multipart form riding alongside the chunk payload.
// File-level fields repeat on every chunk so any chunk can seed the session.
type ChunkUploadForm struct {
	SessionID string `form:"session_id" binding:"required"`
	Index     *int   `form:"index" binding:"required"`
	Total     int    `form:"total" binding:"required,min=1"`
	Offset    *int64 `form:"offset"`

	FileID      string `form:"file_id"`
	FileName    string `form:"file_name" binding:"required"`
	FileHash    string `form:"file_hash" binding:"required,len=64"`
	BusinessID  string `form:"business_id"`
	BusinessTag string `form:"business_tag"`
	ParentID    string `form:"parent_id"`
	Suffix      string `form:"suffix"`
	Icon        string `form:"icon"`
	TypeCode    string `form:"type_code"`
}

// ProbeRequest asks whether content with the hash already exists.
type ProbeRequest struct {
	FileHash    string `json:"file_hash" binding:"required,len=64"`
	FileID      string `json:"file_id"`
	FileName    string `json:"file_name" binding:"required"`
	FileSize    int64  `json:"file_size"`
	BusinessID  string `json:"business_id"`
	BusinessTag string `json:"business_tag"`
	ParentID    string `json:"parent_id"`
	Suffix      string `json:"suffix"`
	Icon        string `json:"icon"`
	TypeCode    string `json:"type_code"`
}

// CreateFolderRequest creates a folder under a parent.
type CreateFolderRequest struct {
	Name        string `json:"name" binding:"required,max=255"`
	ParentID    string `json:"parent_id"`
	BusinessID  string `json:"business_id"`
	BusinessTag string `json:"business_tag"`
}

// RenameRequest renames a node.
type RenameRequest struct {
	Name string `json:"name" binding:"required,max=255"`
}

// MoveRequest moves a node under a new parent.
type MoveRequest struct {
	ParentID string `json:"parent_id"`
}

// ChunkUploadResponse reports the session state after one chunk.
type ChunkUploadResponse struct {
	Received  int64         `json:"received"`
	Total     int           `json:"total"`
	Duplicate bool          `json:"duplicate"`
	Completed bool          `json:"completed"`
	File      *FileNodeInfo `json:"file,omitempty"`
}

// ProbeResponse reports a fast-upload probe outcome.
type ProbeResponse struct {
	Hit  bool          `json:"hit"`
	File *FileNodeInfo `json:"file,omitempty"`
}

// FileNodeInfo is the wire shape of a file or folder node.
type FileNodeInfo struct {
	ID          string    `json:"id"`
	AppID       string    `json:"app_id"`
	BusinessID  string    `json:"business_id,omitempty"`
	BusinessTag string    `json:"business_tag,omitempty"`
	ParentID    string    `json:"parent_id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	Suffix      string    `json:"suffix,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	TypeCode    string    `json:"type_code,omitempty"`
	Hash        string    `json:"hash,omitempty"`
	Kind        int       `json:"kind"`
	CreatorID   string    `json:"creator_id"`
	CreatorName string    `json:"creator_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListChildrenResponse is a folder listing.
type ListChildrenResponse struct {
	ParentID string          `json:"parent_id"`
	Items    []*FileNodeInfo `json:"items"`
}

func toFileNodeInfo(node *biz.FileNode) *FileNodeInfo {
	if node == nil {
		return nil
	}
	return &FileNodeInfo{
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
		CreatorID:   node.CreatorID,
		CreatorName: node.CreatorName,
		CreatedAt:   node.CreatedAt,
		UpdatedAt:   node.UpdatedAt,
	}
}
