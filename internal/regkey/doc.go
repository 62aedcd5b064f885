// Package regkey owns the native side of a registry watch: resolving a hive,
// opening a key with read and change-notify rights, arming one-shot change
// notifications and waiting on the associated event object.
//
// The Key interface is the platform boundary. On Windows it is backed by
// golang.org/x/sys/windows; elsewhere Open always fails with ErrUnsupported.
// FakeKey is an in-memory implementation for tests of code built on Key.
package regkey
