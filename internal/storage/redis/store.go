// Package redis is the Redis-backed HistoryStore: rooms in a hash,
// messages in per-room lists (arrival order), members and read positions
// in per-room hashes. Suitable for a broker shared between processes.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ssafy13th-common/glml-chat/internal/storage"
)

const roomsKey = "rooms"

func msgsKey(roomID string) string    { return "room:" + roomID + ":msgs" }
func membersKey(roomID string) string { return "room:" + roomID + ":members" }
func readKey(roomID string) string    { return "room:" + roomID + ":read" }

// Store is the Redis implementation of storage.HistoryStore.
type Store struct {
	cli *redis.Client
}

// New connects and pings; a dead Redis fails fast at startup.
func New(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{cli: cli}, nil
}

func (s *Store) Close() error {
	return s.cli.Close()
}

func (s *Store) CreateRoom(ctx context.Context, id, name string) error {
	exists, err := s.cli.HExists(ctx, roomsKey, id).Result()
	if err != nil {
		return fmt.Errorf("redis room exists: %w", err)
	}
	if exists {
		return nil
	}
	room := storage.Room{ID: id, Name: name, CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	if err := s.cli.HSet(ctx, roomsKey, id, data).Err(); err != nil {
		return fmt.Errorf("redis create room: %w", err)
	}
	return nil
}

func (s *Store) RoomExists(ctx context.Context, id string) (bool, error) {
	exists, err := s.cli.HExists(ctx, roomsKey, id).Result()
	if err != nil {
		return false, fmt.Errorf("redis room exists: %w", err)
	}
	return exists, nil
}

func (s *Store) Rooms(ctx context.Context) ([]storage.Room, error) {
	vals, err := s.cli.HVals(ctx, roomsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis rooms: %w", err)
	}
	out := make([]storage.Room, 0, len(vals))
	for _, v := range vals {
		var r storage.Room
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) AddMember(ctx context.Context, roomID string, m storage.Member) error {
	if err := s.cli.HSet(ctx, membersKey(roomID), m.Email, m.Nickname).Err(); err != nil {
		return fmt.Errorf("redis add member: %w", err)
	}
	return nil
}

func (s *Store) Members(ctx context.Context, roomID string) ([]storage.Member, error) {
	kv, err := s.cli.HGetAll(ctx, membersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis members: %w", err)
	}
	out := make([]storage.Member, 0, len(kv))
	for email, nick := range kv {
		out = append(out, storage.Member{Email: email, Nickname: nick})
	}
	return out, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg storage.StoredMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.cli.RPush(ctx, msgsKey(msg.RoomID), data).Err(); err != nil {
		return fmt.Errorf("redis append message: %w", err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, roomID string, page, size int) ([]storage.StoredMessage, int, error) {
	total64, err := s.cli.LLen(ctx, msgsKey(roomID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis history len: %w", err)
	}
	total := int(total64)

	end := total - page*size
	start := end - size
	if end <= 0 {
		return nil, total, nil
	}
	if start < 0 {
		start = 0
	}
	raw, err := s.cli.LRange(ctx, msgsKey(roomID), int64(start), int64(end-1)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis history range: %w", err)
	}
	positions, err := s.readPositions(ctx, roomID)
	if err != nil {
		return nil, 0, err
	}

	// raw is chronological; emit newest-first.
	out := make([]storage.StoredMessage, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m storage.StoredMessage
		if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
			continue
		}
		m.ReadCount = countCovering(positions, start+i)
		out = append(out, m)
	}
	return out, total, nil
}

func (s *Store) MarkRead(ctx context.Context, roomID, messageID, reader string) ([]storage.StoredMessage, error) {
	raw, err := s.cli.LRange(ctx, msgsKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mark read: %w", err)
	}
	idx := -1
	msgs := make([]storage.StoredMessage, len(raw))
	for i, v := range raw {
		if err := json.Unmarshal([]byte(v), &msgs[i]); err != nil {
			continue
		}
		if msgs[i].ID == messageID {
			idx = i
		}
	}
	if idx < 0 {
		return nil, nil
	}

	prevStr, err := s.cli.HGet(ctx, readKey(roomID), reader).Result()
	seen := err == nil
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis mark read: %w", err)
	}
	prev := -1
	if seen {
		prev, _ = strconv.Atoi(prevStr)
	}
	if idx <= prev {
		return nil, nil
	}
	if err := s.cli.HSet(ctx, readKey(roomID), reader, strconv.Itoa(idx)).Err(); err != nil {
		return nil, fmt.Errorf("redis mark read: %w", err)
	}

	positions, err := s.readPositions(ctx, roomID)
	if err != nil {
		return nil, err
	}
	affected := make([]storage.StoredMessage, 0, idx-prev)
	for i := prev + 1; i <= idx; i++ {
		m := msgs[i]
		m.ReadCount = countCovering(positions, i)
		affected = append(affected, m)
	}
	return affected, nil
}

func (s *Store) readPositions(ctx context.Context, roomID string) ([]int, error) {
	kv, err := s.cli.HGetAll(ctx, readKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read positions: %w", err)
	}
	out := make([]int, 0, len(kv))
	for _, v := range kv {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func countCovering(positions []int, i int) int {
	n := 0
	for _, pos := range positions {
		if pos >= i {
			n++
		}
	}
	return n
}
