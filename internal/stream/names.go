// Package stream implements the session-scoped messaging pipeline:
// deterministic namespace derivation, per-user stream provisioning,
// concurrent batched publishing, and the batching subscriber driven by
// consume connections.
package stream

// Name derivation is the single source of truth shared by the provisioner,
// publisher, and subscriber so they can never disagree on naming.

// StreamName derives the durable stream name owned by a user.
func StreamName(userID string) string {
	return "stream-" + userID
}

// SubjectName derives the unique subject bound to one session.
func SubjectName(userID, sessionID string) string {
	return "subject." + userID + "." + sessionID
}

// SubjectPattern matches every subject under a user's stream.
func SubjectPattern(userID string) string {
	return "subject." + userID + ".*"
}
