package counter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const topicViewsKey = "topic:counters:views"

// Counter buffers topic view increments in a Redis hash and applies them
// to the topics table in batches.
type Counter struct {
	rdb *redis.Client
	db  *gorm.DB
}

func New(rdb *redis.Client, db *gorm.DB) *Counter {
	return &Counter{rdb: rdb, db: db}
}

// AddTopicView increments the pending view counter for a topic.
func (c *Counter) AddTopicView(ctx context.Context, topicID uint) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	field := strconv.FormatUint(uint64(topicID), 10)
	return c.rdb.HIncrBy(ctx, topicViewsKey, field, 1).Err()
}

// Flush drains pending views into topics.view_count.
func (c *Counter) Flush(ctx context.Context) error {
	if c == nil || c.rdb == nil || c.db == nil {
		return nil
	}
	return c.flushHashToTable(ctx, topicViewsKey, "topics", "view_count")
}

// flushHashToTable drains a Redis hash and applies batched increments.
// RENAME to a temporary key keeps increments arriving during the flush.
func (c *Counter) flushHashToTable(ctx context.Context, redisKey, table, column string) error {
	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := c.rdb.Rename(ctx, redisKey, tmpKey).Err(); err != nil {
		if errors.Is(err, redis.Nil) || strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		return err
	}
	defer c.rdb.Del(ctx, tmpKey)

	data, err := c.rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}

	sql, args := buildIncrementSQL(table, column, data)
	if sql == "" {
		return nil
	}
	return c.db.WithContext(ctx).Exec(sql, args...).Error
}

// buildIncrementSQL composes
// UPDATE <table> SET <col> = <col> + CASE id WHEN ? THEN ? ... END WHERE id IN (...)
// for the parsable entries of data. It returns "" when nothing applies.
func buildIncrementSQL(table, column string, data map[string]string) (string, []interface{}) {
	type pair struct {
		id  uint64
		inc int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		id, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{id: id, inc: inc})
	}
	if len(pairs) == 0 {
		return "", nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	var b strings.Builder
	args := make([]interface{}, 0, len(pairs)*3)
	fmt.Fprintf(&b, "UPDATE %s SET %s = %s + CASE id", table, column, column)
	for _, p := range pairs {
		b.WriteString(" WHEN ? THEN ?")
		args = append(args, p.id, p.inc)
	}
	b.WriteString(" END WHERE id IN (")
	for i, p := range pairs {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("?")
		args = append(args, p.id)
	}
	b.WriteString(")")
	return b.String(), args
}
