package ledger

import "fmt"

// Redis key pattern helpers
//
// Key pattern: ampli:{namespace}:{entity}:{id}
// Channel pattern: ampli:{namespace}:{event_type}_events

// ArtifactKey returns the Redis key for an artifact.
func ArtifactKey(namespace, artifactID string) string {
	return fmt.Sprintf("ampli:%s:artifact:%s", namespace, artifactID)
}

// ArtifactKeyPattern matches every artifact key of a namespace (for SCAN).
func ArtifactKeyPattern(namespace string) string {
	return fmt.Sprintf("ampli:%s:artifact:*", namespace)
}

// InvocationKey returns the Redis key for an invocation record.
func InvocationKey(namespace, hash string) string {
	return fmt.Sprintf("ampli:%s:invocation:%s", namespace, hash)
}

// RunKey returns the Redis key for a run.
func RunKey(namespace, runID string) string {
	return fmt.Sprintf("ampli:%s:run:%s", namespace, runID)
}

// RunKeyPattern matches every run hash of a namespace. Run artifact sets
// share the prefix and are filtered out by callers.
func RunKeyPattern(namespace string) string {
	return fmt.Sprintf("ampli:%s:run:*", namespace)
}

// RunArtifactsKey returns the Redis key for the set of artifacts a run produced.
func RunArtifactsKey(namespace, runID string) string {
	return fmt.Sprintf("ampli:%s:run:%s:artifacts", namespace, runID)
}

// StageEventsChannel returns the Pub/Sub channel for stage events.
func StageEventsChannel(namespace string) string {
	return fmt.Sprintf("ampli:%s:stage_events", namespace)
}
