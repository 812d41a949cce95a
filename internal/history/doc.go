// Package history keeps a local record of detector parameter values in
// SQLite, so recent temperatures and setpoint changes survive restarts
// and remain available when the time-series database is not.
//
// The bridge records every value change it observes; the API lists them
// per address. Old rows are removed by Prune on a retention schedule.
package history
