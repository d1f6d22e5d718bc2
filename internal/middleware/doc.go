// Package middleware provides HTTP middleware for request logging and
// Prometheus instrumentation.
//
// Request logs use W3C Extended Log Format with field sanitization to
// prevent log injection. The metrics middleware collapses job
// identifiers in paths so label cardinality stays bounded.
package middleware
