package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/apply_stock.lua
var applyStockScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/claim_key.lua
var claimKeyScript string

const pendingMarker = "pending"

type Client struct {
	rdb           *redis.Client
	applyScript   *redis.Script
	releaseScript *redis.Script
	claimScript   *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing connection
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		applyScript:   redis.NewScript(applyStockScript),
		releaseScript: redis.NewScript(releaseLockScript),
		claimScript:   redis.NewScript(claimKeyScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// StockLevel is one projected counter value
type StockLevel struct {
	ProductID int64
	BranchID  int64
	SectionID *int64
	Quantity  int
	Seq       int64
}

// StockKey returns the projection key of a counter
func StockKey(productID, branchID int64, sectionID *int64) string {
	if sectionID != nil {
		return fmt.Sprintf("stock:section:%d:product:%d", *sectionID, productID)
	}
	return fmt.Sprintf("stock:branch:%d:product:%d", branchID, productID)
}

// ApplyStock atomically stores the level unless a newer movement was
// already applied. Returns true if the projection changed.
func (c *Client) ApplyStock(ctx context.Context, level StockLevel) (bool, error) {
	key := StockKey(level.ProductID, level.BranchID, level.SectionID)

	result, err := c.applyScript.Run(ctx, c.rdb, []string{key}, level.Quantity, level.Seq).Result()
	if err != nil {
		return false, fmt.Errorf("apply stock script failed: %w", err)
	}

	applied, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	return applied == 1, nil
}

// GetStock retrieves a projected counter. found is false when the counter
// was never projected.
func (c *Client) GetStock(ctx context.Context, productID, branchID int64, sectionID *int64) (level StockLevel, found bool, err error) {
	key := StockKey(productID, branchID, sectionID)

	result, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return StockLevel{}, false, err
	}
	if len(result) == 0 {
		return StockLevel{}, false, nil
	}

	level = StockLevel{ProductID: productID, BranchID: branchID, SectionID: sectionID}
	if level.Quantity, err = strconv.Atoi(result["qty"]); err != nil {
		return StockLevel{}, false, fmt.Errorf("invalid projected qty %q: %w", result["qty"], err)
	}
	if level.Seq, err = strconv.ParseInt(result["seq"], 10, 64); err != nil {
		return StockLevel{}, false, fmt.Errorf("invalid projected seq %q: %w", result["seq"], err)
	}
	return level, true, nil
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

// ClaimIdempotencyKey reserves key for a new request. A completed key
// returns its order ID; a key held by an in-flight request returns
// claimed=false with no ID.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (int64, bool, error) {
	result, err := c.claimScript.Run(ctx, c.rdb, []string{idempotencyKey(key)}, ttl.Milliseconds()).Text()
	if err != nil {
		return 0, false, fmt.Errorf("claim idempotency key failed: %w", err)
	}

	switch result {
	case "claimed":
		return 0, true, nil
	case pendingMarker:
		return 0, false, nil
	}

	orderID, err := strconv.ParseInt(result, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid idempotency value %q: %w", result, err)
	}
	return orderID, false, nil
}

// CompleteIdempotencyKey stores the order produced for key
func (c *Client) CompleteIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(key), orderID, ttl).Err()
}

// ReleaseIdempotencyKey forgets a claim so the request can be retried
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, idempotencyKey(key)).Err()
}

// AcquireLock acquires a distributed lock and returns the holder token
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock if token still holds it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
