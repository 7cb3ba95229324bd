// Package actions reconciles user decisions about candidate patches with the
// files on disk, the issue fragments and the issue tree.
//
// This package is organized into several files:
//   - actions.go: Package entry point (this file)
//   - processor.go: Engine struct, constructor, and setters
//   - decision_file.go: Apply and Decline
//   - undo.go: Undo
//   - patch.go: Patch loading and Preview
//   - navigate.go: Next/previous fix navigation
//   - decision_log.go: Append-only text decision log
package actions
