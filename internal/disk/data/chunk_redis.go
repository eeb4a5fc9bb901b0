package data

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/micro-chain/netdisk/internal/disk/biz"
	apperrors "github.com/micro-chain/netdisk/internal/pkg/errors"
	pkgredis "github.com/micro-chain/netdisk/internal/pkg/redis"
)

// Key layout under one upload session:
//
//	disk:upload:{session}:chunk:{index}  ChunkRecord JSON
//	disk:upload:{session}:recv           distinct-chunk counter
//	disk:upload:{session}:claim          assembly claim flag
//	disk:upload:{session}:attempts       failed-assembly counter
//
// Every key carries the session TTL so abandoned uploads expire on their own.
const chunkKeyPrefix = "disk:upload:"

func chunkKey(sessionID string, index int) string {
	return fmt.Sprintf("%s%s:chunk:%d", chunkKeyPrefix, sessionID, index)
}

func recvKey(sessionID string) string {
	return chunkKeyPrefix + sessionID + ":recv"
}

func claimKey(sessionID string) string {
	return chunkKeyPrefix + sessionID + ":claim"
}

func attemptsKey(sessionID string) string {
	return chunkKeyPrefix + sessionID + ":attempts"
}

// chunkStore is the subset of redis operations the registry runs on;
// *pkgredis.Client satisfies it.
type chunkStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	MGet(ctx context.Context, keys ...string) ([]interface{}, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
}

var _ chunkStore = (*pkgredis.Client)(nil)

// ChunkRegistryRedis implements biz.ChunkRegistry on Redis.
type ChunkRegistryRedis struct {
	client chunkStore
}

// NewChunkRegistryRedis creates a Redis-backed chunk registry.
func NewChunkRegistryRedis(client *pkgredis.Client) *ChunkRegistryRedis {
	return &ChunkRegistryRedis{client: client}
}

// Record stores the chunk record with set-if-absent semantics. An identical
// re-send is accepted silently; a differing hash for a recorded index is a
// chunk conflict.
func (r *ChunkRegistryRedis) Record(ctx context.Context, rec *biz.ChunkRecord, ttl time.Duration) (bool, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal chunk record: %w", err)
	}

	key := chunkKey(rec.SessionID, rec.Index)
	ok, err := r.client.SetNX(ctx, key, payload, ttl)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrStorageFailed, "chunk record")
	}

	if !ok {
		existing, err := r.client.Get(ctx, key)
		if err != nil {
			if pkgredis.IsNil(err) {
				// Expired between SetNX and Get; the client retry will land it.
				return false, apperrors.New(apperrors.ErrSessionNotFound, rec.SessionID)
			}
			return false, apperrors.Wrap(err, apperrors.ErrStorageFailed, "chunk record read")
		}

		var prev biz.ChunkRecord
		if err := json.Unmarshal([]byte(existing), &prev); err != nil {
			return false, fmt.Errorf("unmarshal chunk record: %w", err)
		}

		if prev.Hash != rec.Hash {
			return false, apperrors.New(apperrors.ErrChunkConflict,
				fmt.Sprintf("session %s chunk %d", rec.SessionID, rec.Index))
		}

		// Identical retry, refresh the expiry and move on.
		_, _ = r.client.Expire(ctx, key, ttl)
		return false, nil
	}

	if _, err := r.client.Incr(ctx, recvKey(rec.SessionID)); err != nil {
		// Roll the record back, otherwise every retry of this chunk would
		// take the identical-hash branch above and the counter would stay
		// short of total forever. With the key gone the retry re-runs the
		// full record path.
		_, _ = r.client.Del(ctx, key)
		return false, apperrors.Wrap(err, apperrors.ErrStorageFailed, "received counter")
	}
	_, _ = r.client.Expire(ctx, recvKey(rec.SessionID), ttl)

	return true, nil
}

// ReceivedCount returns the number of distinct recorded chunks.
func (r *ChunkRegistryRedis) ReceivedCount(ctx context.Context, sessionID string) (int64, error) {
	val, err := r.client.Get(ctx, recvKey(sessionID))
	if err != nil {
		if pkgredis.IsNil(err) {
			return 0, nil
		}
		return 0, err
	}

	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse received counter: %w", err)
	}
	return n, nil
}

// AllPresent reports whether every chunk key in [0, total) exists.
func (r *ChunkRegistryRedis) AllPresent(ctx context.Context, sessionID string, total int) (bool, error) {
	keys := make([]string, total)
	for i := 0; i < total; i++ {
		keys[i] = chunkKey(sessionID, i)
	}

	n, err := r.client.Exists(ctx, keys...)
	if err != nil {
		return false, err
	}
	return n == int64(total), nil
}

// Chunks loads every record in [0, total); a missing index is an incomplete
// upload error.
func (r *ChunkRegistryRedis) Chunks(ctx context.Context, sessionID string, total int) ([]*biz.ChunkRecord, error) {
	keys := make([]string, total)
	for i := 0; i < total; i++ {
		keys[i] = chunkKey(sessionID, i)
	}

	vals, err := r.client.MGet(ctx, keys...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "chunk records read")
	}

	records := make([]*biz.ChunkRecord, 0, total)
	for i, val := range vals {
		raw, ok := val.(string)
		if !ok || raw == "" {
			return nil, apperrors.New(apperrors.ErrUploadIncomplete,
				fmt.Sprintf("session %s chunk %d missing", sessionID, i))
		}

		var rec biz.ChunkRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal chunk record %d: %w", i, err)
		}
		records = append(records, &rec)
	}

	return records, nil
}

// ClaimAssembly flips the session into the assembling state; set-if-absent
// makes the transition single-winner across processes.
func (r *ChunkRegistryRedis) ClaimAssembly(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, claimKey(sessionID), "1", ttl)
}

// ReleaseAssembly clears the claim so a retry can re-trigger assembly.
func (r *ChunkRegistryRedis) ReleaseAssembly(ctx context.Context, sessionID string) error {
	_, err := r.client.Del(ctx, claimKey(sessionID))
	return err
}

// FailAttempt counts one failed assembly.
func (r *ChunkRegistryRedis) FailAttempt(ctx context.Context, sessionID string, ttl time.Duration) (int64, error) {
	n, err := r.client.Incr(ctx, attemptsKey(sessionID))
	if err != nil {
		return 0, err
	}
	_, _ = r.client.Expire(ctx, attemptsKey(sessionID), ttl)
	return n, nil
}

// Clear removes everything the session left in the store.
func (r *ChunkRegistryRedis) Clear(ctx context.Context, sessionID string, total int) error {
	keys := make([]string, 0, total+3)
	for i := 0; i < total; i++ {
		keys = append(keys, chunkKey(sessionID, i))
	}
	keys = append(keys, recvKey(sessionID), claimKey(sessionID), attemptsKey(sessionID))

	_, err := r.client.Del(ctx, keys...)
	return err
}
