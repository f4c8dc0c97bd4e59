// Package storage persists per-admin ad configuration and the audit trail.
//
// Two drivers exist: "file" (atomic JSON snapshot + JSONL audit log) and
// "sqlite" (optional, build tag "sqlite").
package storage
