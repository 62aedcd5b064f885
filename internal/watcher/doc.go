// Package watcher delivers change notifications for a single registry key
// and its subtree.
//
// A Watcher owns one opened key. Start launches a notification loop on a
// goroutine locked to its OS thread; the loop arms a one-shot change
// registration, waits on the key's event with a bounded timeout and, on a
// genuine signal, dispatches one Event to every subscriber before re-arming.
// Changes that happen while no registration is armed are not reported.
//
// Callbacks run synchronously on the loop goroutine, in registration order.
// A slow callback delays the next re-arm; hand work off to another goroutine
// when that matters. Hub manages many watchers and republishes their events
// on an event.Bus.
package watcher
