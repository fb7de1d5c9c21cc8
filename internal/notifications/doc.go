// Package notifications delivers evaluation lifecycle events via
// pluggable notifiers.
//
// The default implementation publishes to an ntfy-style webhook
// configured in config.toml and gracefully degrades to a no-op when no
// webhook is set. Category toggles in the [notifications] section
// suppress whole event groups (evaluation outcomes, worker lifecycle,
// errors) without touching call sites.
//
// Extend this package if you need alternative transports; callers
// depend only on the Service interface.
package notifications
