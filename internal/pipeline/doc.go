// Package pipeline runs select, fetch, transform and publish against one
// release snapshot.
//
// The Executor fans selected assets out to a bounded worker pool and fans
// the transform results back in. The Publisher replaces same-named assets on
// the release. The Driver sequences both and records a Report.
package pipeline
