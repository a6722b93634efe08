package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"

	"github.com/sells-group/price-discovery/internal/model"
)

const defaultKeyPrefix = "price:job:"

// tryAcquireScript creates a pending job unless an active one exists.
// KEYS[1] job key, KEYS[2] provider index set.
// ARGV[1] new job JSON (attempt filled in here), ARGV[2] ttl ms.
// Returns {acquired, job JSON}.
var tryAcquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
local attempt = 1
if cur then
	local job = cjson.decode(cur)
	if job.state == 'pending' or job.state == 'running' then
		return {0, cur}
	end
	attempt = (tonumber(job.attempt) or 0) + 1
end
local job = cjson.decode(ARGV[1])
job.attempt = attempt
local encoded = cjson.encode(job)
redis.call('SET', KEYS[1], encoded, 'PX', ARGV[2])
redis.call('SADD', KEYS[2], KEYS[1])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
return {1, encoded}
`)

// RedisStore shares job state between processes. Acquisition is a single
// Lua script; Start and Finish use optimistic WATCH transactions.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a RedisStore. A non-positive ttl uses DefaultTTL.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *RedisStore) jobKey(key model.JobKey) string {
	return s.prefix + key.String()
}

func (s *RedisStore) providerKey(providerID string) string {
	return s.prefix + "provider:" + providerID
}

func (s *RedisStore) TryAcquire(ctx context.Context, key model.JobKey) (model.DiscoveryJob, bool, error) {
	if err := validateKey(key); err != nil {
		return model.DiscoveryJob{}, false, err
	}
	payload, err := json.Marshal(newJob(key, 1, s.now().UTC()))
	if err != nil {
		return model.DiscoveryJob{}, false, eris.Wrap(err, "jobs: marshal job")
	}

	res, err := tryAcquireScript.Run(ctx, s.client,
		[]string{s.jobKey(key), s.providerKey(key.ProviderID)},
		string(payload), s.ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return model.DiscoveryJob{}, false, eris.Wrap(err, "jobs: redis try acquire")
	}
	return parseAcquireReply(res)
}

func parseAcquireReply(res []interface{}) (model.DiscoveryJob, bool, error) {
	if len(res) != 2 {
		return model.DiscoveryJob{}, false, eris.Errorf("jobs: unexpected script reply %v", res)
	}
	acquired, _ := res[0].(int64)
	raw, _ := res[1].(string)
	job, err := decodeJob(raw)
	if err != nil {
		return model.DiscoveryJob{}, false, err
	}
	return job, acquired == 1, nil
}

func decodeJob(raw string) (model.DiscoveryJob, error) {
	var job model.DiscoveryJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return job, eris.Wrap(err, "jobs: decode job")
	}
	return job, nil
}

// update applies fn to the stored job inside a WATCH transaction.
func (s *RedisStore) update(ctx context.Context, key model.JobKey, fn func(*model.DiscoveryJob) error) error {
	k := s.jobKey(key)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			return eris.Wrapf(model.ErrNotFound, "jobs: %s", key)
		}
		if err != nil {
			return eris.Wrap(err, "jobs: redis get")
		}
		job, err := decodeJob(raw)
		if err != nil {
			return err
		}
		if err := fn(&job); err != nil {
			return err
		}
		encoded, err := json.Marshal(job)
		if err != nil {
			return eris.Wrap(err, "jobs: marshal job")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, encoded, s.ttl)
			return nil
		})
		return err
	}

	for range 3 {
		err := s.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return eris.Errorf("jobs: %s: too much contention", key)
}

func (s *RedisStore) Start(ctx context.Context, key model.JobKey) error {
	return s.update(ctx, key, func(j *model.DiscoveryJob) error {
		return applyStart(j, s.now().UTC())
	})
}

func (s *RedisStore) Finish(ctx context.Context, key model.JobKey, state model.JobState, outcome string) error {
	return s.update(ctx, key, func(j *model.DiscoveryJob) error {
		return applyFinish(j, state, outcome, s.now().UTC())
	})
}

func (s *RedisStore) Get(ctx context.Context, key model.JobKey) (*model.DiscoveryJob, error) {
	raw, err := s.client.Get(ctx, s.jobKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "jobs: redis get")
	}
	job, err := decodeJob(raw)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *RedisStore) Active(ctx context.Context, providerID string) ([]model.DiscoveryJob, error) {
	pk := s.providerKey(providerID)
	keys, err := s.client.SMembers(ctx, pk).Result()
	if err != nil {
		return nil, eris.Wrap(err, "jobs: redis smembers")
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, eris.Wrap(err, "jobs: redis mget")
	}

	var out []model.DiscoveryJob
	var stale []interface{}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, keys[i])
			continue
		}
		job, err := decodeJob(raw)
		if err != nil {
			return nil, err
		}
		if job.Active() {
			out = append(out, job)
		}
	}
	if len(stale) > 0 {
		s.client.SRem(ctx, pk, stale...)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Key.ServiceType < out[k].Key.ServiceType })
	return out, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.client.Ping(ctx).Err(), "jobs: redis ping")
}
