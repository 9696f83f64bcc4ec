// Package format converts raw group messages into transcript-ready
// records.
//
// A Formatter dispatches every segment of a message to the pure segment
// rules, the reference Resolver (mentions and quoted replies) or the
// forward Flattener. Resolution walks a fallback chain of the shared
// caches, the batch being formatted, and an optional remote lookup.
// Unresolvable references and pathological nesting degrade to inline
// placeholders; formatting never fails a batch.
package format
