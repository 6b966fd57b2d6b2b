// Package stream defines the durable ordered event log carrying
// recompute-done notifications from the harvester to the challenge
// evaluator, with consumer-group delivery, acknowledgement, and a
// pending-entry recovery scan.
package stream
