// Package ledger records pipeline provenance in Redis.
//
// # Overview
//
// Every stage that completes writes one Artifact per declared output (path,
// semantic type, sha256 and the artifacts it was derived from) and one
// Invocation keyed by the invocation hash. A later run computing the same
// hash can look the invocation up and reuse its outputs instead of calling
// the tool again, provided the files on disk still match the recorded
// checksums.
//
// Runs group the artifacts produced by one `ampli run`, and stage progress is
// published as StageEvent messages for `ampli watch`.
//
// # Redis Schema
//
// All keys follow the pattern: ampli:{namespace}:{entity}:{id}
//
// Artifacts: ampli:{namespace}:artifact:{artifact_id}
// Invocations: ampli:{namespace}:invocation:{hash}
// Runs: ampli:{namespace}:run:{run_id}
// Run artifacts (set): ampli:{namespace}:run:{run_id}:artifacts
//
// Pub/Sub channel: ampli:{namespace}:stage_events
//
// Namespaces isolate projects sharing one Redis server.
package ledger
