// Copyright © 2018 One Concern

// Package storage provides copy-on-write file primitives on top of an afero.Fs.
//
// Readers of a file managed by this package never observe a partially written file:
// content goes to a staging file, is flushed to stable storage, then renamed into place.
//
// Two flavors of staging files are supported:
//   - lock files ("<path>.lock"), created exclusively, which double as a per-file lock
//   - anonymous temporary files, for files protected by some outer lock
package storage
