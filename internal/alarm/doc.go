// Package alarm holds the recurrence rule model and the pure scheduling
// logic built on it:
//   - parsing persisted recurrence tokens into typed rules
//   - computing the next fire instant of a rule after a reference time
//   - conflict checking between alarms sharing a time of day
//   - the rolling "upcoming within horizon" calculation
//
// Nothing in this package does I/O or owns timers; the scheduler service
// consumes it.
package alarm
