package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/core/port"
	"github.com/incplusplus/thermostat-accounts/internal/repository"
)

// registerScript stores a session and indexes it, optionally evicting the
// principal's other sessions in the same atomic step.
//
// KEYS[1] session hash, KEYS[2] active zset, KEYS[3] principal set, KEYS[4] sequence
// ARGV[1] handle, ARGV[2] principal id, ARGV[3] payload, ARGV[4] ttl ms (0 = none),
// ARGV[5] single session flag, ARGV[6] session key prefix
var registerScript = redis.NewScript(`
local evicted = 0
if ARGV[5] == "1" then
  local handles = redis.call("SMEMBERS", KEYS[3])
  for _, h in ipairs(handles) do
    if h ~= ARGV[1] then
      redis.call("DEL", ARGV[6] .. h)
      redis.call("ZREM", KEYS[2], h)
      redis.call("SREM", KEYS[3], h)
      evicted = evicted + 1
    end
  end
end
local seq = redis.call("INCR", KEYS[4])
redis.call("HSET", KEYS[1], "principal_id", ARGV[2], "payload", ARGV[3], "seq", seq)
if tonumber(ARGV[4]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[4])
end
redis.call("ZADD", KEYS[2], seq, ARGV[1])
redis.call("SADD", KEYS[3], ARGV[1])
return evicted
`)

type sessionPayload struct {
	Handle      string    `json:"handle"`
	PrincipalID string    `json:"principal_id"`
	Email       string    `json:"email"`
	Authorities []string  `json:"authorities"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SessionConfig configures the Redis session registry.
type SessionConfig struct {
	KeyPrefix     string
	SingleSession bool
}

// SessionRegistry implements port.SessionRegistry on Redis. Each session is a
// hash expiring with the session; a sorted set scored by a registration
// sequence keeps listing order and a per-principal set supports revocation.
type SessionRegistry struct {
	client *redis.Client
	cfg    SessionConfig
	now    func() time.Time
}

// NewSessionRegistry constructs a registry using the provided client.
func NewSessionRegistry(client *redis.Client, cfg SessionConfig) *SessionRegistry {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "session"
	}
	return &SessionRegistry{client: client, cfg: cfg, now: time.Now}
}

// WithClock overrides the clock used for expiry checks.
func (r *SessionRegistry) WithClock(now func() time.Time) *SessionRegistry {
	if now != nil {
		r.now = now
	}
	return r
}

func (r *SessionRegistry) Register(ctx context.Context, entry domain.SessionEntry) error {
	if entry.Handle == "" || entry.PrincipalID == "" {
		return errors.New("session handle and principal are required")
	}

	var ttl time.Duration
	if !entry.ExpiresAt.IsZero() {
		ttl = entry.ExpiresAt.Sub(r.now())
		if ttl <= 0 {
			return errors.New("session already expired")
		}
	}

	payload, err := json.Marshal(sessionPayload{
		Handle:      entry.Handle,
		PrincipalID: entry.PrincipalID,
		Email:       entry.Email,
		Authorities: entry.Authorities,
		CreatedAt:   entry.CreatedAt.UTC(),
		ExpiresAt:   entry.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	single := "0"
	if r.cfg.SingleSession {
		single = "1"
	}

	keys := []string{r.sessionKey(entry.Handle), r.activeKey(), r.principalKey(entry.PrincipalID), r.seqKey()}
	args := []any{entry.Handle, entry.PrincipalID, string(payload), ttl.Milliseconds(), single, r.sessionKey("")}

	if err := registerScript.Run(ctx, r.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis register session: %w", err)
	}
	return nil
}

// Unregister removes the session; unknown handles are a no-op.
func (r *SessionRegistry) Unregister(ctx context.Context, handle string) error {
	principalID, err := r.client.HGet(ctx, r.sessionKey(handle), "principal_id").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis hget session: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.sessionKey(handle))
		pipe.ZRem(ctx, r.activeKey(), handle)
		if principalID != "" {
			pipe.SRem(ctx, r.principalKey(principalID), handle)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis unregister session: %w", err)
	}
	return nil
}

func (r *SessionRegistry) UnregisterPrincipal(ctx context.Context, principalID string) (int, error) {
	handles, err := r.client.SMembers(ctx, r.principalKey(principalID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis smembers: %w", err)
	}
	if len(handles) == 0 {
		return 0, nil
	}

	members := make([]any, 0, len(handles))
	for _, h := range handles {
		members = append(members, h)
	}

	var deleted *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		keys := make([]string, 0, len(handles))
		for _, h := range handles {
			keys = append(keys, r.sessionKey(h))
		}
		deleted = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, r.activeKey(), members...)
		pipe.Del(ctx, r.principalKey(principalID))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis unregister principal: %w", err)
	}

	return int(deleted.Val()), nil
}

func (r *SessionRegistry) Get(ctx context.Context, handle string) (*domain.SessionEntry, error) {
	raw, err := r.client.HGet(ctx, r.sessionKey(handle), "payload").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis hget session: %w", err)
	}

	entry, err := decodeSession(raw)
	if err != nil {
		return nil, err
	}
	if entry.IsExpired(r.now()) {
		return nil, repository.ErrNotFound
	}
	return &entry, nil
}

func (r *SessionRegistry) ListActivePrincipals(ctx context.Context) ([]string, error) {
	handles, err := r.client.ZRange(ctx, r.activeKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}

	entries, stale, err := r.load(ctx, handles)
	if err != nil {
		return nil, err
	}
	r.dropStale(ctx, stale)

	seen := make(map[string]struct{}, len(entries))
	principals := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.entry.PrincipalID]; ok {
			continue
		}
		seen[e.entry.PrincipalID] = struct{}{}
		principals = append(principals, e.entry.PrincipalID)
	}
	return principals, nil
}

func (r *SessionRegistry) ListSessions(ctx context.Context, principalID string) ([]domain.SessionEntry, error) {
	handles, err := r.client.SMembers(ctx, r.principalKey(principalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}

	entries, stale, err := r.load(ctx, handles)
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		members := make([]any, 0, len(stale))
		for _, h := range stale {
			members = append(members, h)
		}
		_ = r.client.SRem(ctx, r.principalKey(principalID), members...).Err()
		r.dropStale(ctx, stale)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]domain.SessionEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.entry)
	}
	return out, nil
}

type loadedSession struct {
	entry domain.SessionEntry
	seq   int64
}

// load fetches sessions for handles preserving order. Handles whose hash
// expired are returned as stale.
func (r *SessionRegistry) load(ctx context.Context, handles []string) ([]loadedSession, []string, error) {
	if len(handles) == 0 {
		return nil, nil, nil
	}

	cmds := make([]*redis.SliceCmd, len(handles))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, h := range handles {
			cmds[i] = pipe.HMGet(ctx, r.sessionKey(h), "payload", "seq")
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("redis load sessions: %w", err)
	}

	now := r.now()
	entries := make([]loadedSession, 0, len(handles))
	var stale []string
	for i, cmd := range cmds {
		vals := cmd.Val()
		payload, ok := vals[0].(string)
		if !ok {
			stale = append(stale, handles[i])
			continue
		}
		entry, err := decodeSession(payload)
		if err != nil {
			return nil, nil, err
		}
		if entry.IsExpired(now) {
			continue
		}
		var seq int64
		if s, ok := vals[1].(string); ok {
			seq, _ = strconv.ParseInt(s, 10, 64)
		}
		entries = append(entries, loadedSession{entry: entry, seq: seq})
	}
	return entries, stale, nil
}

func (r *SessionRegistry) dropStale(ctx context.Context, handles []string) {
	if len(handles) == 0 {
		return
	}
	members := make([]any, 0, len(handles))
	for _, h := range handles {
		members = append(members, h)
	}
	_ = r.client.ZRem(ctx, r.activeKey(), members...).Err()
}

func decodeSession(raw string) (domain.SessionEntry, error) {
	var p sessionPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.SessionEntry{}, fmt.Errorf("decode session: %w", err)
	}
	authorities := p.Authorities
	if authorities == nil {
		authorities = []string{}
	}
	return domain.SessionEntry{
		Handle:      p.Handle,
		PrincipalID: p.PrincipalID,
		Email:       p.Email,
		Authorities: authorities,
		CreatedAt:   p.CreatedAt,
		ExpiresAt:   p.ExpiresAt,
	}, nil
}

func (r *SessionRegistry) sessionKey(handle string) string {
	return r.cfg.KeyPrefix + ":handle:" + handle
}

func (r *SessionRegistry) activeKey() string {
	return r.cfg.KeyPrefix + ":active"
}

func (r *SessionRegistry) principalKey(principalID string) string {
	return r.cfg.KeyPrefix + ":principal:" + principalID
}

func (r *SessionRegistry) seqKey() string {
	return r.cfg.KeyPrefix + ":seq"
}

var _ port.SessionRegistry = (*SessionRegistry)(nil)
