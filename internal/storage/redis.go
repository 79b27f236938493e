package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/piwi3910/vnfm/internal/models"
)

const (
	// Redis key prefixes
	instanceKeyPrefix     = "vnfm:instance:"
	instanceSetKey        = "vnfm:instances"
	opOccKeyPrefix        = "vnfm:opocc:"
	opOccSetKey           = "vnfm:opoccs"
	activeOpOccKeyPrefix  = "vnfm:active:"
	workKeyPrefix         = "vnfm:work:"
	grantKeyPrefix        = "vnfm:grant:"
	subscriptionKeyPrefix = "vnfm:subscription:"
	subscriptionSetKey    = "vnfm:subscriptions"
)

// releaseActiveScript deletes the active marker only if it still points
// at the given op-occ.
var releaseActiveScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig holds configuration for Redis connection.
type RedisConfig struct {
	// Addr is the Redis server address (host:port) for standalone mode.
	// Ignored if UseSentinel is true.
	Addr string

	// Password for Redis authentication.
	Password string

	// DB is the Redis database number (0-15).
	DB int

	// UseSentinel enables Redis Sentinel mode for high availability.
	UseSentinel bool

	// SentinelAddrs is the list of Sentinel server addresses.
	SentinelAddrs []string

	// MasterName is the name of the Redis master in Sentinel mode.
	MasterName string

	// MaxRetries is the maximum number of retries for failed commands.
	MaxRetries int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// PoolSize is the maximum number of socket connections.
	PoolSize int
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}
}

// NewClient creates a Redis client, configuring Sentinel if enabled.
// The client is shared by the store, the instance locker and the
// notification queue.
func NewClient(cfg *RedisConfig) redis.UniversalClient {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	if cfg.UseSentinel {
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
			MaxRetries:    cfg.MaxRetries,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
			PoolSize:      cfg.PoolSize,
		})
	}

	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})
}

// RedisStore implements Store using Redis as the backend.
//
// Data Model:
//   - vnfm:instance:<id> (string) - sealed VnfInstance JSON
//   - vnfm:instances (set) - instance IDs
//   - vnfm:opocc:<id> (string) - sealed VnfLcmOpOcc JSON
//   - vnfm:opoccs (set) - op-occ IDs
//   - vnfm:active:<instanceId> (string) - ID of the non-terminal op-occ
//   - vnfm:work:<opOccId> (string) - sealed OpOccWork JSON
//   - vnfm:grant:<opOccId> (string) - sealed GrantRecord JSON
//   - vnfm:subscription:<id> (string), vnfm:subscriptions (set)
type RedisStore struct {
	client redis.UniversalClient
	sealer *Sealer
}

// NewRedisStore creates a new RedisStore on an existing client.
// A nil sealer stores credentials in plaintext.
func NewRedisStore(client redis.UniversalClient, sealer *Sealer) *RedisStore {
	if sealer == nil {
		sealer = &Sealer{}
	}
	return &RedisStore{
		client: client,
		sealer: sealer,
	}
}

func (r *RedisStore) put(ctx context.Context, pipe redis.Pipeliner, key string, v interface{}) error {
	data, err := r.sealer.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	pipe.Set(ctx, key, data, 0)
	return nil
}

func (r *RedisStore) get(ctx context.Context, key string, out interface{}) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := r.sealer.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %s existence: %w", key, err)
	}
	return n > 0, nil
}

// CreateInstance stores a new VNF instance.
func (r *RedisStore) CreateInstance(ctx context.Context, inst *models.VnfInstance) error {
	if inst.ID == "" {
		return ErrInvalidID
	}
	key := instanceKeyPrefix + inst.ID

	ok, err := r.exists(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("vnf instance %s: %w", inst.ID, ErrAlreadyExists)
	}

	pipe := r.client.TxPipeline()
	if err := r.put(ctx, pipe, key, inst); err != nil {
		return err
	}
	pipe.SAdd(ctx, instanceSetKey, inst.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create vnf instance: %w", err)
	}
	return nil
}

// GetInstance retrieves a VNF instance by ID.
func (r *RedisStore) GetInstance(ctx context.Context, id string) (*models.VnfInstance, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	var inst models.VnfInstance
	if err := r.get(ctx, instanceKeyPrefix+id, &inst); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("vnf instance %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &inst, nil
}

// UpdateInstance replaces an existing VNF instance.
func (r *RedisStore) UpdateInstance(ctx context.Context, inst *models.VnfInstance) error {
	if inst.ID == "" {
		return ErrInvalidID
	}
	key := instanceKeyPrefix + inst.ID

	ok, err := r.exists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("vnf instance %s: %w", inst.ID, ErrNotFound)
	}

	pipe := r.client.TxPipeline()
	if err := r.put(ctx, pipe, key, inst); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update vnf instance: %w", err)
	}
	return nil
}

// DeleteInstance removes a VNF instance.
func (r *RedisStore) DeleteInstance(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	n, err := r.client.Del(ctx, instanceKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete vnf instance: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("vnf instance %s: %w", id, ErrNotFound)
	}
	if err := r.client.SRem(ctx, instanceSetKey, id).Err(); err != nil {
		return fmt.Errorf("failed to remove vnf instance from index: %w", err)
	}
	return nil
}

// ListInstances retrieves all VNF instances.
func (r *RedisStore) ListInstances(ctx context.Context) ([]*models.VnfInstance, error) {
	ids, err := r.client.SMembers(ctx, instanceSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list vnf instance IDs: %w", err)
	}
	sort.Strings(ids)

	insts := make([]*models.VnfInstance, 0, len(ids))
	for _, id := range ids {
		inst, err := r.GetInstance(ctx, id)
		if err != nil {
			// Skip records deleted concurrently
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		insts = append(insts, inst)
	}
	return insts, nil
}

// CreateOpOcc stores a new op-occ and marks it active for its instance.
func (r *RedisStore) CreateOpOcc(ctx context.Context, opOcc *models.VnfLcmOpOcc) error {
	if opOcc.ID == "" || opOcc.VnfInstanceID == "" {
		return ErrInvalidID
	}

	activeKey := activeOpOccKeyPrefix + opOcc.VnfInstanceID
	if !opOcc.IsTerminal() {
		ok, err := r.client.SetNX(ctx, activeKey, opOcc.ID, 0).Result()
		if err != nil {
			return fmt.Errorf("failed to mark op-occ active: %w", err)
		}
		if !ok {
			return fmt.Errorf("vnf instance %s: %w", opOcc.VnfInstanceID, ErrOperationInProgress)
		}
	}

	pipe := r.client.TxPipeline()
	if err := r.put(ctx, pipe, opOccKeyPrefix+opOcc.ID, opOcc); err != nil {
		r.client.Del(ctx, activeKey)
		return err
	}
	pipe.SAdd(ctx, opOccSetKey, opOcc.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		_ = releaseActiveScript.Run(ctx, r.client, []string{activeKey}, opOcc.ID).Err()
		return fmt.Errorf("failed to create op-occ: %w", err)
	}
	return nil
}

// GetOpOcc retrieves an op-occ by ID.
func (r *RedisStore) GetOpOcc(ctx context.Context, id string) (*models.VnfLcmOpOcc, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	var opOcc models.VnfLcmOpOcc
	if err := r.get(ctx, opOccKeyPrefix+id, &opOcc); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("vnf lcm op occ %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &opOcc, nil
}

// UpdateOpOcc replaces an existing op-occ.
func (r *RedisStore) UpdateOpOcc(ctx context.Context, opOcc *models.VnfLcmOpOcc) error {
	if opOcc.ID == "" {
		return ErrInvalidID
	}

	_, err := r.mutateOpOcc(ctx, opOcc.ID, func(cur *models.VnfLcmOpOcc) error {
		if cur.IsCancelPending && !opOcc.IsCancelPending &&
			cur.OperationState.IsRunning() && opOcc.OperationState.IsRunning() {
			opOcc.IsCancelPending = true
			opOcc.CancelMode = cur.CancelMode
		}
		*cur = *opOcc
		return nil
	})
	if err != nil {
		return err
	}

	if opOcc.IsTerminal() {
		activeKey := activeOpOccKeyPrefix + opOcc.VnfInstanceID
		if err := releaseActiveScript.Run(ctx, r.client, []string{activeKey}, opOcc.ID).Err(); err != nil {
			return fmt.Errorf("failed to clear active op-occ: %w", err)
		}
	}
	return nil
}

// RequestCancel flags a running op-occ for cancellation.
func (r *RedisStore) RequestCancel(ctx context.Context, id, mode string) (*models.VnfLcmOpOcc, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	return r.mutateOpOcc(ctx, id, func(cur *models.VnfLcmOpOcc) error {
		if !cur.OperationState.IsRunning() {
			return fmt.Errorf("op-occ %s is %s: %w", id, cur.OperationState, ErrStateConflict)
		}
		cur.IsCancelPending = true
		cur.CancelMode = mode
		return nil
	})
}

// maxTxAttempts bounds the optimistic retries of mutateOpOcc.
const maxTxAttempts = 16

// mutateOpOcc applies fn to the stored op-occ and writes the result under
// WATCH, so a concurrent write in between makes the attempt start over.
func (r *RedisStore) mutateOpOcc(ctx context.Context, id string, fn func(cur *models.VnfLcmOpOcc) error) (*models.VnfLcmOpOcc, error) {
	key := opOccKeyPrefix + id

	var out *models.VnfLcmOpOcc
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("vnf lcm op occ %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get %s: %w", key, err)
		}
		var cur models.VnfLcmOpOcc
		if err := r.sealer.Unmarshal(data, &cur); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		if err := fn(&cur); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.put(ctx, pipe, key, &cur)
		})
		if err != nil {
			return err
		}
		out = &cur
		return nil
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStateConflict) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to update op-occ: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("failed to update op-occ %s: too many concurrent writers", id)
}

// ListOpOccs retrieves all op-occs ordered by start time.
func (r *RedisStore) ListOpOccs(ctx context.Context) ([]*models.VnfLcmOpOcc, error) {
	ids, err := r.client.SMembers(ctx, opOccSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list op-occ IDs: %w", err)
	}

	opOccs := make([]*models.VnfLcmOpOcc, 0, len(ids))
	for _, id := range ids {
		opOcc, err := r.GetOpOcc(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		opOccs = append(opOccs, opOcc)
	}

	sort.Slice(opOccs, func(i, j int) bool {
		if opOccs[i].StartTime.Equal(opOccs[j].StartTime) {
			return opOccs[i].ID < opOccs[j].ID
		}
		return opOccs[i].StartTime.Before(opOccs[j].StartTime)
	})
	return opOccs, nil
}

// ActiveOpOcc returns the non-terminal op-occ of an instance.
func (r *RedisStore) ActiveOpOcc(ctx context.Context, instanceID string) (*models.VnfLcmOpOcc, error) {
	id, err := r.client.Get(ctx, activeOpOccKeyPrefix+instanceID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active op-occ: %w", err)
	}
	return r.GetOpOcc(ctx, id)
}

// GetWork retrieves the work record of an op-occ.
func (r *RedisStore) GetWork(ctx context.Context, opOccID string) (*OpOccWork, error) {
	var work OpOccWork
	if err := r.get(ctx, workKeyPrefix+opOccID, &work); err != nil {
		return nil, err
	}
	return &work, nil
}

// PutWork creates or replaces the work record of an op-occ.
func (r *RedisStore) PutWork(ctx context.Context, work *OpOccWork) error {
	if work.OpOccID == "" {
		return ErrInvalidID
	}
	work.UpdatedAt = time.Now().UTC()

	pipe := r.client.TxPipeline()
	if err := r.put(ctx, pipe, workKeyPrefix+work.OpOccID, work); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to put op-occ work: %w", err)
	}
	return nil
}

// DeleteWork removes the work record of an op-occ.
func (r *RedisStore) DeleteWork(ctx context.Context, opOccID string) error {
	if err := r.client.Del(ctx, workKeyPrefix+opOccID).Err(); err != nil {
		return fmt.Errorf("failed to delete op-occ work: %w", err)
	}
	return nil
}

// PutGrant creates or replaces the grant record of an op-occ.
func (r *RedisStore) PutGrant(ctx context.Context, rec *GrantRecord) error {
	if rec.OpOccID == "" {
		return ErrInvalidID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	pipe := r.client.TxPipeline()
	if err := r.put(ctx, pipe, grantKeyPrefix+rec.OpOccID, rec); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to put grant: %w", err)
	}
	return nil
}

// GetGrant retrieves the grant record of an op-occ.
func (r *RedisStore) GetGrant(ctx context.Context, opOccID string) (*GrantRecord, error) {
	var rec GrantRecord
	if err := r.get(ctx, grantKeyPrefix+opOccID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteGrant removes the grant record of an op-occ.
func (r *RedisStore) DeleteGrant(ctx context.Context, opOccID string) error {
	if err := r.client.Del(ctx, grantKeyPrefix+opOccID).Err(); err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	return nil
}

// CreateSubscription stores a new subscription.
func (r *RedisStore) CreateSubscription(ctx context.Context, sub *models.LccnSubscription) error {
	if sub.ID == "" {
		return ErrInvalidID
	}
	if err := validateCallbackURL(sub.CallbackURI); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	key := subscriptionKeyPrefix + sub.ID

	ok, err := r.exists(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("subscription %s: %w", sub.ID, ErrAlreadyExists)
	}

	pipe := r.client.TxPipeline()
	if err := r.put(ctx, pipe, key, sub); err != nil {
		return err
	}
	pipe.SAdd(ctx, subscriptionSetKey, sub.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (r *RedisStore) GetSubscription(ctx context.Context, id string) (*models.LccnSubscription, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	var sub models.LccnSubscription
	if err := r.get(ctx, subscriptionKeyPrefix+id, &sub); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &sub, nil
}

// DeleteSubscription deletes a subscription by ID.
func (r *RedisStore) DeleteSubscription(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, subscriptionKeyPrefix+id)
	pipe.SRem(ctx, subscriptionSetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListSubscriptions retrieves all subscriptions.
// Returns an empty slice if no subscriptions exist.
func (r *RedisStore) ListSubscriptions(ctx context.Context) ([]*models.LccnSubscription, error) {
	ids, err := r.client.SMembers(ctx, subscriptionSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list subscription IDs: %w", err)
	}
	sort.Strings(ids)

	subs := make([]*models.LccnSubscription, 0, len(ids))
	for _, id := range ids {
		sub, err := r.GetSubscription(ctx, id)
		if err != nil {
			// Skip subscriptions that failed to load (e.g., deleted concurrently)
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Close closes the Redis connection and releases resources.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Ping checks if Redis is available.
// Returns ErrStorageUnavailable if Redis cannot be reached.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// validateCallbackURL validates that a callback URL is properly formatted.
func validateCallbackURL(callback string) error {
	if callback == "" {
		return fmt.Errorf("callback URL is empty")
	}

	u, err := url.Parse(callback)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("callback URL must use http or https scheme")
	}

	if u.Host == "" {
		return fmt.Errorf("callback URL must have a host")
	}

	return nil
}
