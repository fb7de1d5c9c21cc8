// Package preflight provides readiness checks for the external services
// and filesystem paths desceval depends on.
//
// These checks run in two contexts:
//   - The CLI "desceval status" command runs RunAll to display readiness
//     alongside the daemon snapshot.
//   - "desceval config check" verifies a configuration file before the
//     daemon's first start.
//
// Checks gated on optional features are skipped while the feature is
// disabled; the *FromConfig variants report "Disabled" instead for
// status displays.
package preflight
