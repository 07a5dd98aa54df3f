// Copyright (c) 2026 John Earle
//
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

// Package lock provides a Redis-backed mutual exclusion lock so that only
// one worker instance runs an import cycle at a time.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed holder can block other instances.
	DefaultTTL = 45 * time.Minute

	// keyPrefix namespaces lock keys in Redis.
	keyPrefix = "casalead:lock:"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a named lock shared by every instance using the same Redis.
type Lock struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// New creates a lock with the given name. A non-positive ttl uses DefaultTTL.
func New(rdb *redis.Client, name string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Lock{
		rdb: rdb,
		key: keyPrefix + name,
		ttl: ttl,
	}
}

// Acquire tries once to take the lock. When ok is true the caller must call
// release when done.
func (l *Lock) Acquire(ctx context.Context) (release func(context.Context) error, ok bool, err error) {
	token := uuid.New().String()

	// SET NX = set only if key does not exist. Returns true if the key was set.
	set, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock SETNX: %w", err)
	}
	if !set {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("lock release: %w", err)
		}
		return nil
	}
	return release, true, nil
}
