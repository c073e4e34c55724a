package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// cachedCatalogClient is a read-through cache in front of the catalog
// service. Product base prices change rarely; a short TTL keeps the order
// path off the catalog service for hot products.
type cachedCatalogClient struct {
	next        CatalogClient
	redisClient *redis.Client
	cacheTTL    time.Duration
}

func NewCachedCatalogClient(next CatalogClient, redisClient *redis.Client) CatalogClient {
	return &cachedCatalogClient{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    10 * time.Minute,
	}
}

func (c *cachedCatalogClient) Get(ctx context.Context, productID uuid.UUID) (*Product, error) {
	key := fmt.Sprintf("product:%s", productID)

	val, err := c.redisClient.Get(ctx, key).Result()
	if err == nil {
		var product Product
		if err := json.Unmarshal([]byte(val), &product); err == nil {
			return &product, nil
		}
	}

	product, err := c.next.Get(ctx, productID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(product); err == nil {
		c.redisClient.Set(ctx, key, data, c.cacheTTL)
	}

	return product, nil
}
