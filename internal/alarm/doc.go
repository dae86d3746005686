// Package alarm schedules cron alarms that announce themselves on the bus.
//
// Alarms use standard five-field cron specs ("30 7 * * 1-5") or the
// @daily style descriptors, and are persisted in SQLite. The Scheduler polls
// the stored alarms; each alarm that is due publishes alarm.triggered.
// One-shot alarms are deleted after they fire. A missed alarm fires once when
// the hub comes back, not once per missed occurrence.
package alarm
