// Package storage is the repository behind the tracker core.
//
// It holds everything that must survive restarts:
//   - Tracked boards, challenges and the subject roster (config data)
//   - Award records per (subject, period), monotone within a period
//   - The bounded per-subject log of already-announced achievement ids
//
// Rank snapshots are deliberately NOT here; they are rebuilt in memory as a
// fresh baseline on restart.
package storage
