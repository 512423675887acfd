// Package mail provides notification delivery for the companion API: SMTP
// sending through gomail, embedded HTML templates for support notifications,
// and a delayed task queue with bounded retries, per-attempt timeouts and an
// overall delivery deadline.
package mail
