// Package refserver serves reference data over HTTP from the fixture store.
//
// Routes:
//
//	GET /api/*path  - stored body for (path, canonical query), or 404
//	GET /healthz    - store reachability
//	GET /metrics    - Prometheus metrics
//
// The query string is canonicalized with refdata.ParseQuery and
// refdata.Request.Query, the same signature the client uses as its cache
// key, so an HTTPFetcher pointed at this server hits exactly the fixtures a
// FixtureFetcher would read from the store directly.
package refserver
