// Package flags caches feature flag evaluations per endpoint.
//
// Get serves the cached snapshot without blocking and refreshes in the
// background once a snapshot is an hour old. Evaluate performs a single
// blocking remote evaluation for unknown flags and fails closed to false.
// OnChange subscriptions are diffed against a canonical JSON serialization
// of their prefix-filtered view, so callbacks fire only on real changes.
// The periodic refresh timer is armed only while a subscription exists.
package flags
