package redis

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	"github.com/incplusplus/thermostat-accounts/internal/infra/config"
)

func TestOptionsFor(t *testing.T) {
	opts := optionsFor(config.RedisSettings{Host: "cache", Port: 6380, DB: 2, PoolSize: 20, TLSEnabled: true}, "thermostat-accounts")

	if opts.Addr != "cache:6380" || opts.DB != 2 {
		t.Fatalf("unexpected target %s/%d", opts.Addr, opts.DB)
	}
	if opts.ClientName != "thermostat-accounts" {
		t.Fatalf("unexpected client name %q", opts.ClientName)
	}
	if opts.PoolSize != 20 || opts.MinIdleConns != 4 {
		t.Fatalf("unexpected pool sizing %d/%d", opts.PoolSize, opts.MinIdleConns)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.ServerName != "cache" {
		t.Fatalf("expected TLS config for host cache")
	}

	defaults := optionsFor(config.RedisSettings{Host: "localhost", Port: 6379}, "")
	if defaults.PoolSize != 10 || defaults.MinIdleConns != 2 || defaults.TLSConfig != nil {
		t.Fatalf("unexpected defaults %+v", defaults)
	}
}

func TestNewClientHealthCheck(t *testing.T) {
	mr := miniredis.RunT(t)

	settings := config.RedisSettings{Host: mr.Host(), Port: mustPort(t, mr)}
	client, err := NewClient(settings, "", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}

	mr.Close()
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatalf("expected health check to fail once the server is gone")
	}
}

func TestNewClientFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	settings := config.RedisSettings{Host: mr.Host(), Port: mustPort(t, mr)}
	mr.Close()

	if _, err := NewClient(settings, "", zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected NewClient to fail when redis is unreachable")
	}
}

func mustPort(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("parse miniredis port %q: %v", mr.Port(), err)
	}
	return port
}
