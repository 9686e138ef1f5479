// Package stores persists converge history in SQLite: one row per run, the
// per-resource results of each run, and the telemetry events published while
// it ran. Schema changes ship as embedded golang-migrate migrations.
package stores
