// Package redishost implements sessions.SessionHost on Redis so several
// server processes behind one load balancer can honour each other's
// Mcp-Session-Id values.
//
// Each record is a JSON blob under "<prefix><session id>" whose Redis TTL
// mirrors the record's sliding TTL. MutateSession uses WATCH/MULTI for an
// optimistic read-modify-write.
//
// Example:
//
//	host, err := redishost.New(ctx, redishost.Config{RedisAddr: "localhost:6379"})
//	if err != nil { return err }
//	defer host.Close()
package redishost
