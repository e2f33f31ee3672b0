// Package dedupe provides notification suppression using a time-based
// cache so repeated identical pushes within a window are dropped.
package dedupe
