// Package redis stores catalog records as Redis hashes, one per program, plus a set of
// known ids.
package redis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/R3E-Network/zkgate/internal/catalog"
	"github.com/R3E-Network/zkgate/internal/zkvm"
)

const defaultPrefix = "zkgate"

// Store implements catalog.Catalog.
type Store struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ catalog.Catalog = (*Store)(nil)

// New wraps client. Keys are namespaced under prefix ("zkgate" when empty).
func New(client goredis.UniversalClient, prefix string) *Store {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix, now: time.Now}
}

// Open parses a redis:// URL, pings the server and returns a store.
func Open(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, prefix), nil
}

func (s *Store) recordKey(id string) string {
	return s.prefix + ":program:" + id
}

func (s *Store) indexKey() string {
	return s.prefix + ":programs"
}

func (s *Store) Put(ctx context.Context, rec catalog.Record) error {
	now := s.now().UTC()
	rec.UpdatedAt = now
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
		if existing, err := s.client.HGet(ctx, s.recordKey(rec.ID), "created_at").Result(); err == nil {
			if t, err := time.Parse(time.RFC3339Nano, existing); err == nil {
				rec.CreatedAt = t
			}
		}
	}

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, s.recordKey(rec.ID), toHash(rec))
		pipe.SAdd(ctx, s.indexKey(), rec.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put program %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (catalog.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return catalog.Record{}, fmt.Errorf("get program %s: %w", id, err)
	}
	if len(fields) == 0 {
		return catalog.Record{}, catalog.ErrNotFound
	}
	return fromHash(id, fields)
}

func (s *Store) List(ctx context.Context) ([]catalog.Record, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	sort.Strings(ids)

	cmds := make([]*goredis.StringStringMapCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.recordKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}

	out := make([]catalog.Record, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := fromHash(id, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(id))
		pipe.SRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete program %s: %w", id, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func toHash(rec catalog.Record) map[string]interface{} {
	return map[string]interface{}{
		"name":             rec.Name,
		"vendor":           rec.Vendor.String(),
		"digest":           rec.Digest,
		"compiler_version": rec.CompilerVersion,
		"artifact_path":    rec.ArtifactPath,
		"created_at":       rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":       rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func fromHash(id string, fields map[string]string) (catalog.Record, error) {
	vendor, err := zkvm.ParseVendor(fields["vendor"])
	if err != nil {
		return catalog.Record{}, fmt.Errorf("program %s: %w", id, err)
	}
	rec := catalog.Record{
		ID:              id,
		Name:            fields["name"],
		Vendor:          vendor,
		Digest:          fields["digest"],
		CompilerVersion: fields["compiler_version"],
		ArtifactPath:    fields["artifact_path"],
	}
	if rec.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return catalog.Record{}, fmt.Errorf("program %s: created_at: %w", id, err)
	}
	if rec.UpdatedAt, err = parseTime(fields["updated_at"]); err != nil {
		return catalog.Record{}, fmt.Errorf("program %s: updated_at: %w", id, err)
	}
	return rec, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}
