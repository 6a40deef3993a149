// Package cron parses and evaluates cron expressions beyond what
// github.com/robfig/cron/v3 supports: the last-day, nearest-weekday, and
// nth-weekday-of-month modifiers, plus DST-aware occurrence queries.
//
// Expressions have 5, 6, or 7 whitespace-separated fields. A 5-field
// expression is minute hour dom month dow. A 6-field expression prepends
// seconds; a 7-field expression prepends seconds and appends year.
package cron
