// Package notifications delivers routing outcomes via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Delivery is guarded by a rate limiter and a circuit breaker so an
// unreachable ntfy server costs one failed request, not one per moved file.
//
// Routing code never talks to ntfy directly: the Dispatcher implements
// routing.Notifier, queues outcomes without blocking the worker that produced
// them, and filters them by the notification toggles before sending.
package notifications
