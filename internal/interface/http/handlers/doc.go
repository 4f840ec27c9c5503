// Package handlers holds the HTTP pieces that do not depend on the progress
// use cases: the composite health checker behind /health and /ready, and the
// generic response middleware.
//
// The server registers the database as a required check and Redis and the
// token-metadata service as optional ones, so losing either of those shows
// up in /health without taking the instance out of rotation:
//
//	checker := handlers.NewCompositeHealthChecker(version, handlers.WithCheckTimeout(2*time.Second))
//	checker.AddCheck("database", handlers.NewPingCheck(backend))
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
package handlers
