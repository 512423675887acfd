// Package metrics defines the Prometheus collectors for the companion API,
// covering HTTP endpoints, sobriety-date writes, support-form submissions,
// the notification queue, mail delivery, the archive and the audit trail.
package metrics
