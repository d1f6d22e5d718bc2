// Package metrics defines the Prometheus metrics exposed on the
// dedicated metrics port. All metrics use the media_jobd_ prefix and
// are registered at init via promauto.
package metrics
