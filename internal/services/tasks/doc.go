// Package tasksvc implements task admission and inspection over the queue
// engine: validation and normalization of producer submissions, duplicate
// suppression keyed on submitted content, and CEL-filtered dead-letter
// listings.
package tasksvc
