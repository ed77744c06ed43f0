// Package lifecycle tracks transient pause/resume/save/load state for
// interview sessions, independent of the durable conversation record.
//
// The tracker is constructed at process start and passed to its consumers;
// records live in a mutex-protected map and every mutation issues a fresh
// version token. Callers that replay a previously loaded token are rejected
// when the record has moved on, which closes the lost-update race between
// concurrent writers on the same session key. Saving writes a checkpoint
// alongside the activity status rather than replacing it, so a checkpointed
// session can still be paused and resumed.
package lifecycle
