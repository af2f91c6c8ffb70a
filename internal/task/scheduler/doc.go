// Package scheduler runs named periodic jobs on robfig/cron triggers.
//
// Jobs never overlap with themselves; a trigger that fires while the previous
// run is still going is skipped. Each run gets the service context, bounded
// by the job timeout.
package scheduler
