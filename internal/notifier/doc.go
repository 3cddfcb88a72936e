// Package notifier forwards alarm lifecycle events to an operator webhook.
//
// Delivery is asynchronous: a bounded queue feeds a small worker pool behind
// a token-bucket rate limit, with a dedup window so a flapping alarm does not
// spam the endpoint. Delivery is best-effort; a full queue drops rather than
// blocks the scheduler.
package notifier
