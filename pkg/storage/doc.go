// Package storage provides the GORM-backed implementations of the
// pipeline's stores: executions, entities, snapshots, rules, achievements,
// dedup markers, the reward ledger, and the durable event log.
package storage
