package relay

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// PresenceStore mirrors room membership so it can be inspected outside the hub.
type PresenceStore interface {
	Reset(ctx context.Context) error
	Join(ctx context.Context, room, id string) error
	Leave(ctx context.Context, room, id string) error
	Rooms(ctx context.Context) (map[string][]string, error)
}

// MemoryPresence keeps membership in process.
type MemoryPresence struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{rooms: make(map[string]map[string]struct{})}
}

func (s *MemoryPresence) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = make(map[string]map[string]struct{})
	return nil
}

func (s *MemoryPresence) Join(_ context.Context, room, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		s.rooms[room] = members
	}
	members[id] = struct{}{}
	return nil
}

func (s *MemoryPresence) Leave(_ context.Context, room, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.rooms[room]
	if !ok {
		return nil
	}
	delete(members, id)
	if len(members) == 0 {
		delete(s.rooms, room)
	}
	return nil
}

func (s *MemoryPresence) Rooms(context.Context) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(s.rooms))
	for room, members := range s.rooms {
		ids := make([]string, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[room] = ids
	}
	return out, nil
}

// RedisPresence stores membership in Redis sets: one set of room names and
// one member set per room.
type RedisPresence struct {
	rdb      *redis.Client
	prefix   string
	keyRooms string
}

// NewRedisPresence builds a PresenceStore backed by Redis. Prefix defaults to "roomcall".
func NewRedisPresence(rdb *redis.Client, prefix string) *RedisPresence {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "roomcall"
	}
	return &RedisPresence{
		rdb:      rdb,
		prefix:   p,
		keyRooms: fmt.Sprintf("%s:rooms", p),
	}
}

func (s *RedisPresence) roomKey(room string) string {
	return fmt.Sprintf("%s:room:%s", s.prefix, room)
}

func (s *RedisPresence) Reset(ctx context.Context) error {
	rooms, err := s.rdb.SMembers(ctx, s.keyRooms).Result()
	if err != nil {
		return err
	}
	keys := []string{s.keyRooms}
	for _, room := range rooms {
		keys = append(keys, s.roomKey(room))
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *RedisPresence) Join(ctx context.Context, room, id string) error {
	pipe := s.rdb.TxPipeline()
	_ = pipe.SAdd(ctx, s.keyRooms, room)
	_ = pipe.SAdd(ctx, s.roomKey(room), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisPresence) Leave(ctx context.Context, room, id string) error {
	pipe := s.rdb.TxPipeline()
	_ = pipe.SRem(ctx, s.roomKey(room), id)
	left := pipe.SCard(ctx, s.roomKey(room))
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if left.Val() == 0 {
		return s.rdb.SRem(ctx, s.keyRooms, room).Err()
	}
	return nil
}

func (s *RedisPresence) Rooms(ctx context.Context) (map[string][]string, error) {
	rooms, err := s.rdb.SMembers(ctx, s.keyRooms).Result()
	if err != nil {
		return nil, err
	}

	pipe := s.rdb.Pipeline()
	cmds := make(map[string]*redis.StringSliceCmd, len(rooms))
	for _, room := range rooms {
		cmds[room] = pipe.SMembers(ctx, s.roomKey(room))
	}
	if len(cmds) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}

	out := make(map[string][]string, len(rooms))
	for room, cmd := range cmds {
		ids := cmd.Val()
		if len(ids) == 0 {
			continue
		}
		sort.Strings(ids)
		out[room] = ids
	}
	return out, nil
}
