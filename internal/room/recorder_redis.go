package room

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisRecorder struct {
	rdb *redis.Client
}

func NewRedisRecorder(rdb *redis.Client) *RedisRecorder {
	return &RedisRecorder{rdb: rdb}
}

// key 约定：
//
//	kv: pc:session:{id}     -> session JSON
//	kv: pc:conn:{connId}    -> session id
const keyPrefix = "pc:"

func sessionKey(id string) string {
	return fmt.Sprintf("%ssession:%s", keyPrefix, id)
}

func connKey(connID string) string {
	return fmt.Sprintf("%sconn:%s", keyPrefix, connID)
}

func (r *RedisRecorder) Save(ctx context.Context, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	p := r.rdb.TxPipeline()
	p.Set(ctx, sessionKey(s.ID), data, 0)
	p.Set(ctx, connKey(s.First), s.ID, 0)
	p.Set(ctx, connKey(s.Second), s.ID, 0)
	_, err = p.Exec(ctx)
	return err
}

func (r *RedisRecorder) Delete(ctx context.Context, s Session) error {
	return r.rdb.Del(ctx, sessionKey(s.ID), connKey(s.First), connKey(s.Second)).Err()
}

// Reset removes every mirrored key. Called once at startup so nothing
// from a previous process outlives it.
func (r *RedisRecorder) Reset(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Count returns how many sessions are mirrored.
func (r *RedisRecorder) Count(ctx context.Context) (int, error) {
	var n int
	iter := r.rdb.Scan(ctx, 0, keyPrefix+"session:*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}
