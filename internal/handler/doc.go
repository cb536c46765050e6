// Package handler provides crawler.Handler building blocks: Base fetches a
// batch through an Opener and filters the discovered links, and the concrete
// handlers accumulate links, suffix matches or regex captures with a Merge
// that is order independent.
package handler
