// Package crawler implements the fork/join frontier engine: a run starts one
// root task over the submitted targets, tasks split oversized frontiers by
// forking workers onto a shared pool, every task merges its results into the
// root handler, and Run returns once the join counter drains to zero.
package crawler
