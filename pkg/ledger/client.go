package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client provides namespace-scoped Redis operations for the ledger.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// NewClient creates a ledger client for the given namespace.
// Returns an error if namespace is empty.
func NewClient(redisOpts *redis.Options, namespace string) (*Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	return &Client{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
	}, nil
}

// NewClientFromURL parses a redis:// URL and creates a ledger client.
func NewClientFromURL(url, namespace string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return NewClient(opts, namespace)
}

// Namespace returns the namespace the client writes to.
func (c *Client) Namespace() string {
	return c.namespace
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// CreateArtifact writes an artifact and adds it to its run's artifact set.
// Writing the same artifact twice is safe.
func (c *Client) CreateArtifact(ctx context.Context, a *Artifact) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid artifact: %w", err)
	}
	hash, err := ArtifactToHash(a)
	if err != nil {
		return fmt.Errorf("failed to serialize artifact: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, ArtifactKey(c.namespace, a.ID), hash)
	pipe.SAdd(ctx, RunArtifactsKey(c.namespace, a.RunID), a.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write artifact to Redis: %w", err)
	}
	return nil
}

// GetArtifact retrieves an artifact by ID.
// Returns (nil, redis.Nil) if the artifact doesn't exist; use IsNotFound.
func (c *Client) GetArtifact(ctx context.Context, artifactID string) (*Artifact, error) {
	hashData, err := c.rdb.HGetAll(ctx, ArtifactKey(c.namespace, artifactID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	a, err := HashToArtifact(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize artifact: %w", err)
	}
	return a, nil
}

// ArtifactExists checks if an artifact exists without fetching it.
func (c *Client) ArtifactExists(ctx context.Context, artifactID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, ArtifactKey(c.namespace, artifactID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check artifact existence: %w", err)
	}
	return n > 0, nil
}

// ScanArtifactIDs returns the IDs of every artifact whose ID starts with
// prefix (all artifacts when prefix is empty), sorted.
// Uses SCAN so large ledgers never block the server.
func (c *Client) ScanArtifactIDs(ctx context.Context, prefix string) ([]string, error) {
	base := ArtifactKey(c.namespace, "")
	iter := c.rdb.Scan(ctx, 0, base+prefix+"*", 100).Iterator()

	var ids []string
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), base))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan artifacts: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// RunArtifactIDs returns the artifact IDs recorded for a run, sorted.
func (c *Client) RunArtifactIDs(ctx context.Context, runID string) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, RunArtifactsKey(c.namespace, runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run artifacts: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// PutInvocation stores an invocation under its hash, replacing any earlier
// record for the same hash.
func (c *Client) PutInvocation(ctx context.Context, inv *Invocation) error {
	if err := inv.Validate(); err != nil {
		return fmt.Errorf("invalid invocation: %w", err)
	}
	hash, err := InvocationToHash(inv)
	if err != nil {
		return fmt.Errorf("failed to serialize invocation: %w", err)
	}
	key := InvocationKey(c.namespace, inv.Hash)
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, hash)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write invocation to Redis: %w", err)
	}
	return nil
}

// GetInvocation looks up an invocation by hash.
// Returns (nil, redis.Nil) when no invocation with that hash was recorded.
func (c *Client) GetInvocation(ctx context.Context, hash string) (*Invocation, error) {
	hashData, err := c.rdb.HGetAll(ctx, InvocationKey(c.namespace, hash)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read invocation from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	inv, err := HashToInvocation(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize invocation: %w", err)
	}
	return inv, nil
}

// DeleteInvocation forgets an invocation, e.g. after its outputs were
// found missing or modified.
func (c *Client) DeleteInvocation(ctx context.Context, hash string) error {
	if err := c.rdb.Del(ctx, InvocationKey(c.namespace, hash)).Err(); err != nil {
		return fmt.Errorf("failed to delete invocation: %w", err)
	}
	return nil
}

// SaveRun creates or fully replaces a run record.
func (c *Client) SaveRun(ctx context.Context, r *Run) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	hash, err := RunToHash(r)
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}
	if err := c.rdb.HSet(ctx, RunKey(c.namespace, r.ID), hash).Err(); err != nil {
		return fmt.Errorf("failed to write run to Redis: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
// Returns (nil, redis.Nil) if the run doesn't exist.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	hashData, err := c.rdb.HGetAll(ctx, RunKey(c.namespace, runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	r, err := HashToRun(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize run: %w", err)
	}
	return r, nil
}

// ListRuns returns every run in the namespace, newest first.
func (c *Client) ListRuns(ctx context.Context) ([]*Run, error) {
	iter := c.rdb.Scan(ctx, 0, RunKeyPattern(c.namespace), 100).Iterator()
	var runs []*Run
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, ":artifacts") {
			continue
		}
		runID := strings.TrimPrefix(key, RunKey(c.namespace, ""))
		r, err := c.GetRun(ctx, runID)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan runs: %w", err)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAtMs > runs[j].StartedAtMs })
	return runs, nil
}

// PublishStageEvent publishes a stage event on the namespace channel.
func (c *Client) PublishStageEvent(ctx context.Context, ev *StageEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal stage event: %w", err)
	}
	if err := c.rdb.Publish(ctx, StageEventsChannel(c.namespace), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish stage event: %w", err)
	}
	return nil
}

// Subscription represents an active Pub/Sub subscription to stage events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *StageEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of stage events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *StageEvent {
	return s.events
}

// Errors returns the channel of subscription errors. Malformed messages are
// reported here and skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeStageEvents subscribes to stage events for this namespace.
// It returns once Redis has confirmed the subscription, so events published
// afterwards are not missed. Delivery is at-most-once.
func (c *Client) SubscribeStageEvents(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, StageEventsChannel(c.namespace))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to stage events: %w", err)
	}

	eventsChan := make(chan *StageEvent, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev StageEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal stage event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
