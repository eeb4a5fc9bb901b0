package biz

import (
	"context"
	"io"
	"time"
)

// Node kinds, after the wire values used by clients.
const (
	KindFolder = 0
	KindFile   = 1
)

// RootParentID is the sentinel parent id of top-level nodes.
const RootParentID = ""

// FileNode is a file or folder in a user application's hierarchy. A folder
// carries no content hash and zero size; a file's hash never changes once set,
// rename and move touch only Name and ParentID.
type FileNode struct {
	ID          string
	AppID       string
	BusinessID  string
	BusinessTag string
	ParentID    string
	Name        string
	Size        int64
	Suffix      string
	Icon        string // base64
	TypeCode    string
	Hash        string // content SHA-256, empty for folders
	Kind        int    // KindFolder or KindFile
	Deleted     bool
	CreatorID   string
	CreatorName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsFolder reports whether the node is a folder.
func (n *FileNode) IsFolder() bool {
	return n.Kind == KindFolder
}

// ChunkRecord is one uploaded fragment of a file still being assembled. The
// payload bytes live in staging under ObjectKey; the record itself lives in
// the ephemeral store with a TTL so abandoned sessions reclaim themselves.
type ChunkRecord struct {
	SessionID string    `json:"session_id"`
	Index     int       `json:"index"`
	Offset    int64     `json:"offset"` // -1 when the client did not declare one
	Size      int64     `json:"size"`
	Hash      string    `json:"hash"` // SHA-256 of the chunk bytes
	ObjectKey string    `json:"object_key"`
	ArrivedAt time.Time `json:"arrived_at"`
}

// BlobReference is the physical content object, addressed by hash and
// independent of any FileNode. It is written at most once per distinct hash.
type BlobReference struct {
	Hash             string
	Bucket           string
	ObjectKey        string
	Size             int64
	ContentType      string
	ReferenceCount   int64
	FirstUploadedAt  time.Time
	LastReferencedAt time.Time
}

// ChunkRegistry tracks in-flight chunk records for upload sessions.
type ChunkRegistry interface {
	// Record stores the chunk record unless the same index was already
	// recorded. Returns false for an identical re-send (idempotent no-op);
	// a differing hash for the same index is a chunk conflict error.
	Record(ctx context.Context, rec *ChunkRecord, ttl time.Duration) (bool, error)

	// ReceivedCount returns the number of distinct chunks recorded so far.
	ReceivedCount(ctx context.Context, sessionID string) (int64, error)

	// AllPresent reports whether every index in [0, total) is recorded.
	AllPresent(ctx context.Context, sessionID string, total int) (bool, error)

	// Chunks loads all records for [0, total); a missing index is an error.
	Chunks(ctx context.Context, sessionID string, total int) ([]*ChunkRecord, error)

	// ClaimAssembly atomically flips the session from incomplete to assembling.
	// Exactly one concurrent caller wins.
	ClaimAssembly(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)

	// ReleaseAssembly clears the assembling flag so a later retry can claim it.
	ReleaseAssembly(ctx context.Context, sessionID string) error

	// FailAttempt counts a failed assembly and returns the running total.
	FailAttempt(ctx context.Context, sessionID string, ttl time.Duration) (int64, error)

	// Clear removes every record and flag belonging to the session.
	Clear(ctx context.Context, sessionID string, total int) error
}

// ChunkStaging holds chunk payload bytes until assembly consumes them.
type ChunkStaging interface {
	Stage(ctx context.Context, sessionID string, index int, data []byte) (string, error)
	Read(ctx context.Context, objectKey string) ([]byte, error)
	Remove(ctx context.Context, objectKeys []string) error
}

// BlobStore is the content-addressed physical store.
type BlobStore interface {
	Exists(ctx context.Context, hash string) (bool, error)
	Write(ctx context.Context, hash string, data []byte, contentType string) (string, error)
	Open(ctx context.Context, hash string) (io.ReadCloser, error)
	Remove(ctx context.Context, hash string) error
}

// FileRepo persists FileNode rows. Lookups return (nil, nil) when absent.
type FileRepo interface {
	Upsert(ctx context.Context, node *FileNode) error
	GetByID(ctx context.Context, id string) (*FileNode, error)
	ListChildren(ctx context.Context, appID, parentID string) ([]*FileNode, error)
	UpdateName(ctx context.Context, id, name string) error
	UpdateParent(ctx context.Context, id, parentID string) error
	SoftDelete(ctx context.Context, id string) error
}

// BlobRefRepo persists blob reference rows with their reference counts.
// GetByHash returns (nil, nil) when absent.
type BlobRefRepo interface {
	GetByHash(ctx context.Context, hash string) (*BlobReference, error)
	Create(ctx context.Context, ref *BlobReference) error
	IncrementReference(ctx context.Context, hash string) error
	DecrementReference(ctx context.Context, hash string) error
}
