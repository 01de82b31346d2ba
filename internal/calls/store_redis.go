package calls

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps schedule items in Redis: one hash per item, a by_time zset
// of pending items scored by due timestamp, an in_progress zset scored by
// claim timestamp (for lease sweeps), a per-patient id set, and a running
// status-count hash. All multi-key mutations go through Lua so that no
// partially updated index is ever visible.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "postop:calls"}
}

func (s *RedisStore) itemKey(id string) string    { return s.prefix + ":" + id }
func (s *RedisStore) byTimeKey() string           { return s.prefix + ":by_time" }
func (s *RedisStore) inProgressKey() string       { return s.prefix + ":in_progress" }
func (s *RedisStore) patientKey(p string) string  { return s.prefix + ":patient:" + p }
func (s *RedisStore) countsKey() string           { return s.prefix + ":status_counts" }
func (s *RedisStore) itemKeyPrefixArg() string    { return s.prefix + ":" }

var insertScript = redis.NewScript(`
-- KEYS[1] item hash, KEYS[2] by_time zset, KEYS[3] patient set, KEYS[4] counts
-- ARGV[1] id, ARGV[2] due score, ARGV[3..] hash field/value pairs
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
for i = 3, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('HINCRBY', KEYS[4], 'pending', 1)
return 1
`)

var claimDueScript = redis.NewScript(`
-- KEYS[1] by_time, KEYS[2] item key prefix, KEYS[3] in_progress, KEYS[4] counts
-- ARGV[1] max due score, ARGV[2] limit, ARGV[3] now iso, ARGV[4] now unix
local due = redis.call('ZRANGEBYSCORE', KEYS[1], 0, ARGV[1], 'LIMIT', 0, ARGV[2])
local claimed = {}
for i = 1, #due do
  local id = due[i]
  local key = KEYS[2] .. id
  if redis.call('HGET', key, 'status') == 'pending' then
    redis.call('HSET', key, 'status', 'in_progress', 'updated_at', ARGV[3])
    redis.call('ZREM', KEYS[1], id)
    redis.call('ZADD', KEYS[3], ARGV[4], id)
    redis.call('HINCRBY', KEYS[4], 'pending', -1)
    redis.call('HINCRBY', KEYS[4], 'in_progress', 1)
    table.insert(claimed, id)
  end
end
return claimed
`)

var casStatusScript = redis.NewScript(`
-- KEYS[1] item hash, KEYS[2] by_time, KEYS[3] in_progress, KEYS[4] counts
-- ARGV[1] expected, ARGV[2] next, ARGV[3] now iso, ARGV[4] note, ARGV[5] id, ARGV[6] now unix
local current = redis.call('HGET', KEYS[1], 'status')
if current ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[3])
if ARGV[4] ~= '' then
  redis.call('HSET', KEYS[1], 'notes', ARGV[4])
end
if ARGV[2] == 'completed' or ARGV[2] == 'failed' or ARGV[2] == 'cancelled' then
  redis.call('ZREM', KEYS[2], ARGV[5])
  redis.call('ZREM', KEYS[3], ARGV[5])
elseif ARGV[2] == 'in_progress' then
  redis.call('ZREM', KEYS[2], ARGV[5])
  redis.call('ZADD', KEYS[3], ARGV[6], ARGV[5])
elseif ARGV[2] == 'pending' then
  local ts = redis.call('HGET', KEYS[1], 'scheduled_ts')
  redis.call('ZREM', KEYS[3], ARGV[5])
  redis.call('ZADD', KEYS[2], ts, ARGV[5])
end
redis.call('HINCRBY', KEYS[4], ARGV[1], -1)
redis.call('HINCRBY', KEYS[4], ARGV[2], 1)
return 1
`)

var requeueScript = redis.NewScript(`
-- KEYS[1] item hash, KEYS[2] by_time, KEYS[3] in_progress, KEYS[4] counts
-- ARGV[1] new time iso, ARGV[2] new due score, ARGV[3] attempt_count,
-- ARGV[4] note, ARGV[5] id, ARGV[6] now iso
local current = redis.call('HGET', KEYS[1], 'status')
if current ~= 'in_progress' then
  return 0
end
redis.call('HSET', KEYS[1],
  'status', 'pending',
  'scheduled_time', ARGV[1],
  'scheduled_ts', ARGV[2],
  'attempt_count', ARGV[3],
  'updated_at', ARGV[6])
if ARGV[4] ~= '' then
  redis.call('HSET', KEYS[1], 'notes', ARGV[4])
end
redis.call('ZREM', KEYS[3], ARGV[5])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[5])
redis.call('HINCRBY', KEYS[4], 'in_progress', -1)
redis.call('HINCRBY', KEYS[4], 'pending', 1)
return 1
`)

var expediteScript = redis.NewScript(`
-- KEYS[1] item hash, KEYS[2] by_time
-- ARGV[1] id, ARGV[2] new time iso, ARGV[3] new due score, ARGV[4] now iso
if redis.call('HGET', KEYS[1], 'status') ~= 'pending' then
  return 0
end
redis.call('HSET', KEYS[1],
  'scheduled_time', ARGV[2],
  'scheduled_ts', ARGV[3],
  'updated_at', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`)

var sweepScript = redis.NewScript(`
-- KEYS[1] in_progress, KEYS[2] item key prefix, KEYS[3] by_time, KEYS[4] counts
-- ARGV[1] cutoff unix, ARGV[2] now iso
local stale = redis.call('ZRANGEBYSCORE', KEYS[1], 0, ARGV[1])
local swept = {}
for i = 1, #stale do
  local id = stale[i]
  local key = KEYS[2] .. id
  if redis.call('HGET', key, 'status') == 'in_progress' then
    redis.call('HSET', key,
      'status', 'pending',
      'updated_at', ARGV[2],
      'notes', 'claim lease expired; returned to pending')
    local ts = redis.call('HGET', key, 'scheduled_ts')
    redis.call('ZADD', KEYS[3], ts, id)
    redis.call('HINCRBY', KEYS[4], 'in_progress', -1)
    redis.call('HINCRBY', KEYS[4], 'pending', 1)
    table.insert(swept, id)
  end
  redis.call('ZREM', KEYS[1], id)
end
return swept
`)

func (s *RedisStore) Insert(ctx context.Context, item CallScheduleItem) error {
	fields, err := itemToFields(item)
	if err != nil {
		return err
	}
	args := make([]interface{}, 0, 2+len(fields))
	args = append(args, item.ID, item.ScheduledTime.Unix())
	args = append(args, fields...)

	res, err := insertScript.Run(ctx, s.rdb,
		[]string{s.itemKey(item.ID), s.byTimeKey(), s.patientKey(item.PatientID), s.countsKey()},
		args...,
	).Int()
	if err != nil {
		return storeErr(err)
	}
	if res == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, item.ID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (CallScheduleItem, error) {
	data, err := s.rdb.HGetAll(ctx, s.itemKey(id)).Result()
	if err != nil {
		return CallScheduleItem{}, storeErr(err)
	}
	if len(data) == 0 {
		return CallScheduleItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return itemFromFields(data)
}

func (s *RedisStore) ListDue(ctx context.Context, asOf time.Time, limit int) ([]CallScheduleItem, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.byTimeKey(), &redis.ZRangeBy{
		Min:   "0",
		Max:   strconv.FormatInt(asOf.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, storeErr(err)
	}

	items := make([]CallScheduleItem, 0, len(ids))
	for _, id := range ids {
		item, err := s.Get(ctx, id)
		if err != nil {
			// The item may have been claimed or cancelled between the index
			// read and the hash read; skip it rather than failing the batch.
			continue
		}
		if item.Status == StatusPending {
			items = append(items, item)
		}
	}
	sortDue(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *RedisStore) ListByPatient(ctx context.Context, patientID string) ([]CallScheduleItem, error) {
	ids, err := s.rdb.SMembers(ctx, s.patientKey(patientID)).Result()
	if err != nil {
		return nil, storeErr(err)
	}
	items := make([]CallScheduleItem, 0, len(ids))
	for _, id := range ids {
		item, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(a, b int) bool {
		return items[a].ScheduledTime.Before(items[b].ScheduledTime)
	})
	return items, nil
}

func (s *RedisStore) CompareAndSetStatus(ctx context.Context, id string, from, to CallStatus, note string) (bool, error) {
	now := time.Now().UTC()
	res, err := casStatusScript.Run(ctx, s.rdb,
		[]string{s.itemKey(id), s.byTimeKey(), s.inProgressKey(), s.countsKey()},
		string(from), string(to), now.Format(time.RFC3339Nano), note, id, now.Unix(),
	).Int()
	if err != nil {
		return false, storeErr(err)
	}
	return res == 1, nil
}

func (s *RedisStore) ClaimDue(ctx context.Context, asOf time.Time, limit int) ([]CallScheduleItem, error) {
	now := time.Now().UTC()
	ids, err := claimDueScript.Run(ctx, s.rdb,
		[]string{s.byTimeKey(), s.itemKeyPrefixArg(), s.inProgressKey(), s.countsKey()},
		asOf.Unix(), limit, now.Format(time.RFC3339Nano), now.Unix(),
	).StringSlice()
	if err != nil {
		return nil, storeErr(err)
	}

	items := make([]CallScheduleItem, 0, len(ids))
	for _, id := range ids {
		item, err := s.Get(ctx, id)
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	sortDue(items)
	return items, nil
}

func (s *RedisStore) RequeueForRetry(ctx context.Context, id string, at time.Time, attemptCount int, note string) error {
	now := time.Now().UTC()
	res, err := requeueScript.Run(ctx, s.rdb,
		[]string{s.itemKey(id), s.byTimeKey(), s.inProgressKey(), s.countsKey()},
		at.UTC().Format(time.RFC3339Nano), at.Unix(), attemptCount, note, id, now.Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return storeErr(err)
	}
	if res == 0 {
		return fmt.Errorf("%w: item %s is not in_progress", ErrInvalidTransition, id)
	}
	return nil
}

func (s *RedisStore) Expedite(ctx context.Context, id string, at time.Time) (bool, error) {
	exists, err := s.rdb.Exists(ctx, s.itemKey(id)).Result()
	if err != nil {
		return false, storeErr(err)
	}
	if exists == 0 {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	res, err := expediteScript.Run(ctx, s.rdb,
		[]string{s.itemKey(id), s.byTimeKey()},
		id, at.UTC().Format(time.RFC3339Nano), at.Unix(), time.Now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return false, storeErr(err)
	}
	return res == 1, nil
}

func (s *RedisStore) SweepStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := sweepScript.Run(ctx, s.rdb,
		[]string{s.inProgressKey(), s.itemKeyPrefixArg(), s.byTimeKey(), s.countsKey()},
		cutoff.Unix(), time.Now().UTC().Format(time.RFC3339Nano),
	).StringSlice()
	if err != nil {
		return nil, storeErr(err)
	}
	return ids, nil
}

func (s *RedisStore) CountByStatus(ctx context.Context) (map[CallStatus]int, error) {
	raw, err := s.rdb.HGetAll(ctx, s.countsKey()).Result()
	if err != nil {
		return nil, storeErr(err)
	}
	out := make(map[CallStatus]int, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		out[CallStatus(k)] = n
	}
	return out, nil
}

func sortDue(items []CallScheduleItem) {
	sort.Slice(items, func(a, b int) bool {
		if !items[a].ScheduledTime.Equal(items[b].ScheduledTime) {
			return items[a].ScheduledTime.Before(items[b].ScheduledTime)
		}
		return items[a].Priority < items[b].Priority
	})
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func itemToFields(item CallScheduleItem) ([]interface{}, error) {
	meta, err := json.Marshal(item.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata not serializable: %v", ErrValidation, err)
	}
	return []interface{}{
		"id", item.ID,
		"clinic_id", item.ClinicID,
		"patient_id", item.PatientID,
		"patient_phone", item.PatientPhone,
		"scheduled_time", item.ScheduledTime.UTC().Format(time.RFC3339Nano),
		"scheduled_ts", item.ScheduledTime.Unix(),
		"call_type", string(item.CallType),
		"priority", item.Priority,
		"llm_prompt", item.LLMPrompt,
		"status", string(item.Status),
		"max_attempts", item.MaxAttempts,
		"attempt_count", item.AttemptCount,
		"related_order_id", item.RelatedOrderID,
		"metadata", string(meta),
		"notes", item.Notes,
		"created_at", item.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at", item.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func itemFromFields(data map[string]string) (CallScheduleItem, error) {
	var item CallScheduleItem
	var err error

	item.ID = data["id"]
	item.ClinicID = data["clinic_id"]
	item.PatientID = data["patient_id"]
	item.PatientPhone = data["patient_phone"]
	item.CallType = CallType(data["call_type"])
	item.Status = CallStatus(data["status"])
	item.LLMPrompt = data["llm_prompt"]
	item.RelatedOrderID = data["related_order_id"]
	item.Notes = data["notes"]

	if item.ScheduledTime, err = parseTimeField(data, "scheduled_time"); err != nil {
		return item, err
	}
	if item.CreatedAt, err = parseTimeField(data, "created_at"); err != nil {
		return item, err
	}
	if item.UpdatedAt, err = parseTimeField(data, "updated_at"); err != nil {
		return item, err
	}
	if item.Priority, err = parseIntField(data, "priority"); err != nil {
		return item, err
	}
	if item.MaxAttempts, err = parseIntField(data, "max_attempts"); err != nil {
		return item, err
	}
	if item.AttemptCount, err = parseIntField(data, "attempt_count"); err != nil {
		return item, err
	}

	if raw := data["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &item.Metadata); err != nil {
			return item, fmt.Errorf("item %s: bad metadata: %w", item.ID, err)
		}
	}
	if item.Metadata == nil {
		item.Metadata = map[string]string{}
	}
	return item, nil
}

func parseTimeField(data map[string]string, field string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, data[field])
	if err != nil {
		return time.Time{}, fmt.Errorf("item %s: bad %s %q", data["id"], field, data[field])
	}
	return t, nil
}

func parseIntField(data map[string]string, field string) (int, error) {
	n, err := strconv.Atoi(data[field])
	if err != nil {
		return 0, fmt.Errorf("item %s: bad %s %q", data["id"], field, data[field])
	}
	return n, nil
}
