/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package redis_db

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 500 * time.Millisecond

// Redis wraps the universal client shared by the cache, the nonce store, the
// dispatch locks and the asynq queue.
type Redis struct {
	addresses []string
	client    redis.UniversalClient
}

// ParseRedisURL accepts bare host:port addresses, redis:// and rediss:// URLs and
// password-only URLs of the form redis://secret@host:port.
func ParseRedisURL(rawURL string, skipTLSVerify bool) (*redis.Options, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("redis address is empty")
	}

	var opts *redis.Options
	switch {
	case isBareAddress(rawURL):
		opts = &redis.Options{Addr: rawURL}
	default:
		parsed, err := redis.ParseURL(withPasswordOnlyUser(rawURL))
		if err != nil {
			parsed = looseOptions(rawURL)
		}
		opts = parsed
	}

	if isAzureHost(opts.Addr) && opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if opts.TLSConfig != nil && skipTLSVerify {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: true}
	}
	return opts, nil
}

// isBareAddress reports docker-style host:port values such as redis:6379.
func isBareAddress(raw string) bool {
	return strings.Count(raw, ":") == 1 && !strings.ContainsAny(raw, "@/")
}

// withPasswordOnlyUser rewrites redis://secret@host to redis://:secret@host.
func withPasswordOnlyUser(raw string) string {
	rest, ok := strings.CutPrefix(raw, "redis://")
	if !ok {
		return raw
	}
	userinfo, host, found := strings.Cut(rest, "@")
	if !found || strings.Contains(userinfo, ":") {
		return raw
	}
	return fmt.Sprintf("redis://:%s@%s", userinfo, host)
}

func looseOptions(raw string) *redis.Options {
	host, password := raw, ""
	if at := strings.LastIndex(raw, "@"); at >= 0 {
		password = strings.TrimPrefix(raw[:at], "redis://")
		host = raw[at+1:]
	}
	return &redis.Options{Addr: host, Password: password}
}

func isAzureHost(addr string) bool {
	return strings.Contains(addr, ".redis.cache.windows.net")
}

// NewRedisClient connects to a single instance when one address is given and to a
// cluster otherwise. The connection is verified with a ping.
func NewRedisClient(addresses []string, skipTLSVerify bool) (*Redis, error) {
	if len(addresses) == 0 {
		return nil, errors.New("redis addresses list cannot be empty")
	}

	var client redis.UniversalClient
	if len(addresses) == 1 {
		opts, err := ParseRedisURL(addresses[0], skipTLSVerify)
		if err != nil {
			return nil, err
		}
		client = redis.NewClient(opts)
	} else {
		opts, err := clusterOptions(addresses, skipTLSVerify)
		if err != nil {
			return nil, err
		}
		client = redis.NewUniversalClient(opts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %v: %w", addresses, err)
	}
	return &Redis{addresses: addresses, client: client}, nil
}

// clusterOptions merges per-node URLs. The first password found applies to every
// node, and TLS is on when any node asks for it.
func clusterOptions(addresses []string, skipTLSVerify bool) (*redis.UniversalOptions, error) {
	out := &redis.UniversalOptions{}
	for _, addr := range addresses {
		node, err := ParseRedisURL(addr, skipTLSVerify)
		if err != nil {
			return nil, err
		}
		out.Addrs = append(out.Addrs, node.Addr)
		if out.Password == "" {
			out.Password = node.Password
		}
		if node.TLSConfig != nil && out.TLSConfig == nil {
			out.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: skipTLSVerify}
		}
	}
	return out, nil
}

// Client returns the underlying universal client.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

func (r *Redis) Close() error {
	return r.client.Close()
}
