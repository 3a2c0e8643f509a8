// Copyright 2025 Longopass
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package guard

import (
	"context"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisKeyPrefix namespaces label entries so the cache can share a
// database with other gateway state.
const redisKeyPrefix = "longopass:topic:"

// RedisCache is a LabelCache backed by Redis. It lets multiple gateway
// instances share classification results; Redis handles TTL expiry.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (Label, bool) {
	val, err := c.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		// Treat any Redis failure as a cache miss so classification
		// still proceeds when the cache is unavailable.
		if err != redis.Nil {
			log.Printf("[Guard] Redis label cache get failed: %v", err)
		}
		return "", false
	}
	return Label(val), true
}

func (c *RedisCache) Set(ctx context.Context, key string, label Label, ttl time.Duration) {
	if err := c.client.Set(ctx, redisKeyPrefix+key, string(label), ttl).Err(); err != nil {
		log.Printf("[Guard] Redis label cache set failed: %v", err)
	}
}

// Close releases the underlying Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
