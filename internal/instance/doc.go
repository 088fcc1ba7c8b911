// Package instance implements the named, independently replaceable
// translator instance registry spec.md §5 and §9 describe: an
// RCU-style atomic root pointer swap for readers, serialized by a
// writer mutex, with delayed reclamation of a replaced instance once a
// grace period has let in-flight readers finish (spec.md §5: "After
// removal, the entry is reclaimed only after a grace period has elapsed
// allowing all in-flight readers to finish").
package instance
