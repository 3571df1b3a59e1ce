// Package netcache models captured network traffic per browsing target and
// exposes the read-only query surface the tool layer depends on. The
// orchestrator never mutates entries; capture pipelines feed the in-memory
// implementation through Add.
package netcache
