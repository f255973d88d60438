package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

var ErrNilClient = errors.New("store: nil redis client")

const (
	redisRegistryKey = "cardcache:tables"
	redisKeyPrefix   = "cardcache:"
	redisRowsPrefix  = "cardcache:rows:"
)

// RedisStore keeps counts in Redis, one hash per (table, family). Hash
// fields are cbor-encoded (value, visibility) tuples, so arbitrary
// values and labels are binary-safe; counts are native hash integers
// maintained with HINCRBY.
//
// Writers buffer increments locally and replay them through one
// pipeline on Flush, which is the visibility boundary the contract
// requires: nothing is observable before Exec, everything is after.
type RedisStore struct {
	rdb redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &RedisStore{rdb: client}, nil
}

// fieldTuple is the hash-field encoding of one counted cell.
type fieldTuple struct {
	Value      string `cbor:"1,keyasint"`
	Visibility string `cbor:"2,keyasint"`
}

func encodeField(value, visibility string) (string, error) {
	b, err := cbor.Marshal(fieldTuple{Value: value, Visibility: visibility})
	if err != nil {
		return "", fmt.Errorf("encode field: %w", err)
	}
	return string(b), nil
}

func decodeField(field string) (fieldTuple, error) {
	var t fieldTuple
	if err := cbor.Unmarshal([]byte(field), &t); err != nil {
		return t, fmt.Errorf("decode field: %w", err)
	}
	return t, nil
}

func familyKey(schema, table, family string) string {
	return redisKeyPrefix + schema + "." + table + ":" + family
}

func rowsKey(schema, table string) string {
	return redisRowsPrefix + schema + "." + table
}

func (s *RedisStore) Create(ctx context.Context, schema, table string) error {
	added, err := s.rdb.SAdd(ctx, redisRegistryKey, schema+"."+table).Result()
	if err != nil {
		return err
	}
	if added == 0 {
		return fmt.Errorf("create %s.%s: %w", schema, table, ErrTableExists)
	}
	return nil
}

func (s *RedisStore) Drop(ctx context.Context, schema, table string) error {
	removed, err := s.rdb.SRem(ctx, redisRegistryKey, schema+"."+table).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("drop %s.%s: %w", schema, table, ErrTableNotFound)
	}
	iter := s.rdb.Scan(ctx, 0, redisKeyPrefix+schema+"."+table+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return s.rdb.Del(ctx, rowsKey(schema, table)).Err()
}

func (s *RedisStore) Rename(ctx context.Context, schema, oldName, newName string) error {
	ok, err := s.Exists(ctx, schema, oldName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("rename %s.%s: %w", schema, oldName, ErrTableNotFound)
	}
	ok, err = s.Exists(ctx, schema, newName)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("rename to %s.%s: %w", schema, newName, ErrTableExists)
	}

	oldPrefix := redisKeyPrefix + schema + "." + oldName + ":"
	newPrefix := redisKeyPrefix + schema + "." + newName + ":"
	iter := s.rdb.Scan(ctx, 0, oldPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if err := s.rdb.Rename(ctx, k, newPrefix+k[len(oldPrefix):]).Err(); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if n, err := s.rdb.Exists(ctx, rowsKey(schema, oldName)).Result(); err != nil {
		return err
	} else if n > 0 {
		if err := s.rdb.Rename(ctx, rowsKey(schema, oldName), rowsKey(schema, newName)).Err(); err != nil {
			return err
		}
	}
	if err := s.rdb.SRem(ctx, redisRegistryKey, schema+"."+oldName).Err(); err != nil {
		return err
	}
	return s.rdb.SAdd(ctx, redisRegistryKey, schema+"."+newName).Err()
}

func (s *RedisStore) Exists(ctx context.Context, schema, table string) (bool, error) {
	return s.rdb.SIsMember(ctx, redisRegistryKey, schema+"."+table).Result()
}

func (s *RedisStore) Writer(schema, table string) Writer {
	return &redisWriter{
		s:      s,
		schema: schema,
		table:  table,
		incs:   make(map[string]map[string]int64),
	}
}

func (s *RedisStore) Reader() Reader { return &redisReader{s: s} }

type redisWriter struct {
	s      *RedisStore
	schema string
	table  string
	incs   map[string]map[string]int64 // hash key -> field -> delta
	rows   int64
	encErr error
}

func (w *redisWriter) IncrementCardinality(value, family, visibility string) {
	field, err := encodeField(value, visibility)
	if err != nil {
		// surfaced on Flush; increments never fail silently
		if w.encErr == nil {
			w.encErr = err
		}
		return
	}
	k := familyKey(w.schema, w.table, family)
	fields := w.incs[k]
	if fields == nil {
		fields = make(map[string]int64)
		w.incs[k] = fields
	}
	fields[field]++
}

func (w *redisWriter) IncrementRowCount() { w.rows++ }

func (w *redisWriter) Flush(ctx context.Context) error {
	if w.encErr != nil {
		err := w.encErr
		w.encErr = nil
		return err
	}
	if len(w.incs) == 0 && w.rows == 0 {
		return nil
	}
	ok, err := w.s.Exists(ctx, w.schema, w.table)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("flush %s.%s: %w", w.schema, w.table, ErrTableNotFound)
	}
	_, err = w.s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for k, fields := range w.incs {
			for field, delta := range fields {
				p.HIncrBy(ctx, k, field, delta)
			}
		}
		if w.rows > 0 {
			p.IncrBy(ctx, rowsKey(w.schema, w.table), w.rows)
		}
		return nil
	})
	if err != nil {
		return err
	}
	w.incs = make(map[string]map[string]int64)
	w.rows = 0
	return nil
}

func (w *redisWriter) Close(ctx context.Context) error { return w.Flush(ctx) }

type redisReader struct {
	s *RedisStore
}

// candidateFields lists the hash fields an exact key may match: the
// unlabeled cell plus one cell per held label.
func candidateFields(key CacheKey) ([]string, error) {
	labels := append([]string{""}, key.Auths.Labels()...)
	fields := make([]string, 0, len(labels))
	for _, l := range labels {
		f, err := encodeField(key.Range.Value(), l)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func (r *redisReader) checkTable(ctx context.Context, schema, table string) error {
	ok, err := r.s.Exists(ctx, schema, table)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("read %s.%s: %w", schema, table, ErrTableNotFound)
	}
	return nil
}

func sumHMGet(vals []interface{}) (int64, error) {
	var sum int64
	for _, v := range vals {
		if v == nil {
			continue
		}
		sv, ok := v.(string)
		if !ok {
			return 0, fmt.Errorf("unexpected hash value type %T", v)
		}
		n, err := strconv.ParseInt(sv, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse count: %w", err)
		}
		sum += n
	}
	return sum, nil
}

func sumHGetAll(all map[string]string, key CacheKey) (int64, error) {
	var sum int64
	for field, raw := range all {
		t, err := decodeField(field)
		if err != nil {
			return 0, err
		}
		if !key.Auths.Visible(t.Visibility) || !key.Range.Contains(t.Value) {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse count: %w", err)
		}
		sum += n
	}
	return sum, nil
}

func (r *redisReader) GetCardinality(ctx context.Context, key CacheKey) (int64, error) {
	if err := r.checkTable(ctx, key.Schema, key.Table); err != nil {
		return 0, err
	}
	k := familyKey(key.Schema, key.Table, key.Family)
	if key.IsExact() {
		fields, err := candidateFields(key)
		if err != nil {
			return 0, err
		}
		vals, err := r.s.rdb.HMGet(ctx, k, fields...).Result()
		if err != nil {
			return 0, err
		}
		return sumHMGet(vals)
	}
	all, err := r.s.rdb.HGetAll(ctx, k).Result()
	if err != nil {
		return 0, err
	}
	return sumHGetAll(all, key)
}

func (r *redisReader) SumCardinalities(ctx context.Context, keys []CacheKey) (int64, error) {
	counts, err := r.GetCardinalities(ctx, keys)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, n := range counts {
		sum += n
	}
	return sum, nil
}

func (r *redisReader) GetCardinalities(ctx context.Context, keys []CacheKey) (map[CacheKey]int64, error) {
	out := make(map[CacheKey]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	checked := make(map[tableName]bool)
	for _, key := range keys {
		n := tableName{key.Schema, key.Table}
		if checked[n] {
			continue
		}
		if err := r.checkTable(ctx, key.Schema, key.Table); err != nil {
			return nil, err
		}
		checked[n] = true
	}

	// one round trip for the whole batch
	exactCmds := make(map[CacheKey]*redis.SliceCmd, len(keys))
	rangeCmds := make(map[CacheKey]*redis.MapStringStringCmd)
	_, err := r.s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, key := range keys {
			if _, dup := out[key]; dup {
				continue
			}
			out[key] = 0
			k := familyKey(key.Schema, key.Table, key.Family)
			if key.IsExact() {
				fields, err := candidateFields(key)
				if err != nil {
					return err
				}
				exactCmds[key] = p.HMGet(ctx, k, fields...)
			} else {
				rangeCmds[key] = p.HGetAll(ctx, k)
			}
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, err
	}
	for key, cmd := range exactCmds {
		n, err := sumHMGet(cmd.Val())
		if err != nil {
			return nil, err
		}
		out[key] = n
	}
	for key, cmd := range rangeCmds {
		n, err := sumHGetAll(cmd.Val(), key)
		if err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, nil
}

func (r *redisReader) NumRows(ctx context.Context, schema, table string) (int64, error) {
	if err := r.checkTable(ctx, schema, table); err != nil {
		return 0, err
	}
	res, err := r.s.rdb.Get(ctx, rowsKey(schema, table)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse row count: %w", err)
	}
	return n, nil
}
