package eventlog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLog is a Log backed by Redis Streams. Each partition maps to one
// stream:
//
//	<prefix>log:<partition>  => stream of {payload}
//
// Offsets map to explicit stream IDs "<offset+1>-0" so that per-partition
// offsets stay dense and stable across restarts (stream IDs must be
// strictly positive, hence the +1 shift).
type RedisLog struct {
	client *redis.Client
	prefix string
}

var _ Log = (*RedisLog)(nil)

// NewRedisLog creates a RedisLog.
// prefix is optional but recommended (e.g. "floe:").
func NewRedisLog(client *redis.Client, prefix string) *RedisLog {
	if prefix == "" {
		prefix = "floe:"
	}
	return &RedisLog{
		client: client,
		prefix: prefix,
	}
}

func (l *RedisLog) streamKey(partition string) string {
	return l.prefix + "log:" + partition
}

func offsetToID(offset int64) string {
	return fmt.Sprintf("%d-0", offset+1)
}

func idToOffset(id string) (int64, error) {
	ms, _, ok := strings.Cut(id, "-")
	if !ok {
		return 0, fmt.Errorf("eventlog: malformed stream id %q", id)
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("eventlog: malformed stream id %q: %w", id, err)
	}
	return n - 1, nil
}

// appendScript reads the stream length and appends under that offset in
// one atomic step. Entries are never removed from a stream, so XLEN is
// always the next dense offset; without the script two producers on the
// same partition could race to one explicit stream ID.
var appendScript = redis.NewScript(`
local next = redis.call("XLEN", KEYS[1])
redis.call("XADD", KEYS[1], tostring(next + 1) .. "-0", "payload", ARGV[1])
return next`)

func (l *RedisLog) Append(ctx context.Context, partition string, payload []byte) (int64, error) {
	return appendScript.Run(ctx, l.client, []string{l.streamKey(partition)}, payload).Int64()
}

func (l *RedisLog) ReplayFrom(ctx context.Context, partition string, offset int64) ([]Event, error) {
	if offset < 0 {
		offset = 0
	}

	msgs, err := l.client.XRange(ctx, l.streamKey(partition), offsetToID(offset), "+").Result()
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		off, err := idToOffset(msg.ID)
		if err != nil {
			return nil, err
		}

		var payload []byte
		if v, ok := msg.Values["payload"]; ok {
			if s, ok := v.(string); ok {
				payload = []byte(s)
			}
		}

		events = append(events, Event{
			Partition:  partition,
			Offset:     off,
			Payload:    payload,
			AppendedAt: time.Unix(0, 0),
		})
	}
	return events, nil
}

func (l *RedisLog) LatestOffset(ctx context.Context, partition string) (int64, error) {
	msgs, err := l.client.XRevRangeN(ctx, l.streamKey(partition), "+", "-", 1).Result()
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return -1, nil
	}
	return idToOffset(msgs[0].ID)
}
