// Package lifecycle provides member startup and shutdown orchestration.
//
// The Service runs the member protocol server, the admin API server and
// background tasks under one errgroup, then tears the remaining components
// down in reverse registration order.
package lifecycle
