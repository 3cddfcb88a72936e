// Package scheduler owns the live set of armed alarm triggers.
//
// The scheduler is responsible only for:
//   - arming one trigger per alarm (recurring rules via cron schedules,
//     one-time alarms via guarded timers)
//   - invoking the injected playback action when a trigger fires
//   - re-arming recurring triggers and retiring one-time ones
//
// Rule semantics (what "next fire" means) live in the alarm package; the
// control surface decides when to arm, disarm or reload.
package scheduler
