package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"serotonyl.ru/aura-points/internal/features/aura"
	"serotonyl.ru/aura-points/internal/metrics"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newTestRedisQueue(t *testing.T, maxAttempts int) (*RedisQueue, *metrics.Aura, *time.Time) {
	t.Helper()
	_, client := newTestRedis(t)
	m, err := metrics.New()
	if err != nil {
		t.Fatalf("metrics.New error: %v", err)
	}
	now := time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC)
	q := NewRedisQueue(client, "aura:test", maxAttempts, m)
	q.now = func() time.Time { return now }
	return q, m, &now
}

func mustNext(t *testing.T, q *RedisQueue) *Delivery {
	t.Helper()
	d, err := q.Next(context.Background(), 50*time.Millisecond)
	if err != nil || d == nil {
		t.Fatalf("Next = %v, %v", d, err)
	}
	return d
}

func listLen(t *testing.T, q *RedisQueue, key string) int64 {
	t.Helper()
	n, err := q.client.LLen(context.Background(), key).Result()
	if err != nil {
		t.Fatalf("LLEN %s error: %v", key, err)
	}
	return n
}

func TestRedisQueueAck(t *testing.T) {
	q, _, _ := newTestRedisQueue(t, 3)
	ctx := context.Background()

	if err := q.Enqueue(ctx, milestone()); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if n, _ := q.Len(ctx); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}

	d := mustNext(t, q)
	if d.Request.UniqueKey != milestone().UniqueKey {
		t.Errorf("key = %s", d.Request.UniqueKey)
	}
	if listLen(t, q, q.processing) != 1 {
		t.Fatal("claimed message must sit in processing")
	}
	if err := q.Ack(ctx, d); err != nil {
		t.Fatalf("Ack error: %v", err)
	}
	if listLen(t, q, q.processing) != 0 || listLen(t, q, q.key) != 0 {
		t.Error("acked message left in redis")
	}
	if n, _ := q.client.ZCard(ctx, q.claims).Result(); n != 0 {
		t.Errorf("claims = %d, want 0", n)
	}

	if d, err := q.Next(ctx, 10*time.Millisecond); err != nil || d != nil {
		t.Errorf("empty queue Next = %v, %v", d, err)
	}
}

func TestRedisQueueNackThenDrop(t *testing.T) {
	q, m, _ := newTestRedisQueue(t, 2)
	ctx := context.Background()
	_ = q.Enqueue(ctx, aura.LevelUpRequest("u1", 2))

	d := mustNext(t, q)
	if err := q.Nack(ctx, d, errors.New("db down")); err != nil {
		t.Fatalf("Nack error: %v", err)
	}
	d = mustNext(t, q)
	if d.Attempts != 1 || d.LastError != "db down" {
		t.Fatalf("redelivery = %+v", d.Envelope)
	}

	if err := q.Nack(ctx, d, errors.New("db down")); err != nil {
		t.Fatalf("Nack error: %v", err)
	}
	if listLen(t, q, q.key) != 0 || listLen(t, q, q.processing) != 0 {
		t.Error("dropped message left in redis")
	}
	if m.LostFollowOns() != 1 {
		t.Errorf("lost follow-ons = %d, want 1", m.LostFollowOns())
	}
}

func TestRedisQueueRecoverUsesClaimTime(t *testing.T) {
	q, _, now := newTestRedisQueue(t, 3)
	ctx := context.Background()
	_ = q.Enqueue(ctx, milestone())

	// Сообщение пролежало в очереди час, но взято воркером только сейчас
	*now = now.Add(time.Hour)
	d := mustNext(t, q)

	*now = now.Add(time.Minute)
	if n, err := q.Recover(ctx, 5*time.Minute); err != nil || n != 0 {
		t.Fatalf("Recover = %d, %v; fresh claim must stay with the worker", n, err)
	}

	*now = now.Add(5 * time.Minute)
	if n, err := q.Recover(ctx, 5*time.Minute); err != nil || n != 1 {
		t.Fatalf("Recover = %d, %v, want 1", n, err)
	}
	if listLen(t, q, q.key) != 1 || listLen(t, q, q.processing) != 0 {
		t.Fatal("stale message not moved back to the queue")
	}

	// Опоздавший воркер не создаёт вторую копию и не теряет сообщение
	if err := q.Nack(ctx, d, errors.New("slow")); err != nil {
		t.Fatalf("Nack error: %v", err)
	}
	if err := q.Ack(ctx, d); err != nil {
		t.Fatalf("Ack error: %v", err)
	}
	if listLen(t, q, q.key) != 1 {
		t.Errorf("queue len = %d, want 1", listLen(t, q, q.key))
	}
}

func TestRedisQueueRecoverStampsUnclaimed(t *testing.T) {
	q, _, now := newTestRedisQueue(t, 3)
	ctx := context.Background()

	// Воркер упал между BLMOVE и отметкой захвата
	raw, err := encode(newEnvelope(milestone(), *now))
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if err := q.client.LPush(ctx, q.processing, raw).Err(); err != nil {
		t.Fatalf("LPUSH error: %v", err)
	}

	if n, _ := q.Recover(ctx, 5*time.Minute); n != 0 {
		t.Fatalf("first pass recovered %d, want 0", n)
	}
	*now = now.Add(6 * time.Minute)
	if n, _ := q.Recover(ctx, 5*time.Minute); n != 1 {
		t.Fatalf("second pass recovered %d, want 1", n)
	}
}

func TestRedisQueueDropsBadMessage(t *testing.T) {
	q, m, _ := newTestRedisQueue(t, 3)
	ctx := context.Background()
	_ = q.client.LPush(ctx, q.key, "{not json").Err()

	if d, err := q.Next(ctx, 50*time.Millisecond); err != nil || d != nil {
		t.Fatalf("Next = %v, %v", d, err)
	}
	if listLen(t, q, q.processing) != 0 {
		t.Error("bad message left in processing")
	}
	if m.LostFollowOns() != 1 {
		t.Errorf("lost follow-ons = %d, want 1", m.LostFollowOns())
	}
}

func TestRedisProgress(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC)
	p := NewRedisProgress(client, time.UTC)
	p.now = func() time.Time { return now }

	_ = p.OnActivityRecorded(ctx, "u1", aura.ActivityJournalEntry, 12)
	_ = p.OnActivityRecorded(ctx, "u1", aura.ActivityJournalEntry, 10)
	_ = p.OnActivityRecorded(ctx, "u1", aura.ActivitySocialPost, 5)

	got, err := p.Weekly(ctx, "u1")
	if err != nil {
		t.Fatalf("Weekly error: %v", err)
	}
	if got["journal_entry"] != 2 || got["journal_entry:points"] != 22 || got["points"] != 27 {
		t.Errorf("weekly = %v", got)
	}
	if ttl := mr.TTL(WeekKey("u1", now, time.UTC)); ttl != progressTTL {
		t.Errorf("ttl = %v, want %v", ttl, progressTTL)
	}
}
