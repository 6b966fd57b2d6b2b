// Package harvest wires the activity-harvesting pipeline: a priority
// scheduler launching collection executions through a rate-gated API
// client, a durable event log carrying recompute notifications, and a
// rule engine granting challenge rewards exactly once.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	db, _ := gorm.Open(sqlite.Open("harvest.db"), &gorm.Config{})
//	store := harvest.NewStore(db)
//	store.Migrate(ctx)
//
//	budget := harvest.NewBudget(5000, 100, time.Hour)
//	api := harvest.NewClient("https://api.example.com/graphql", token, budget)
//	publisher, _ := harvest.NewPublisher(store.Log(), "harvest:recompute")
//	runner := harvest.NewCollector(api, store.Entities(), store.Stats(), publisher)
//
//	sched := harvest.NewScheduler(store.Executions(), store.Entities(), runner)
//	sched.Submit(memberID, harvest.PriorityHigh)
//	sched.Start(ctx)
package harvest

import (
	"github.com/campuscode/harvest/pkg/client"
	"github.com/campuscode/harvest/pkg/collect"
	"github.com/campuscode/harvest/pkg/config"
	"github.com/campuscode/harvest/pkg/core"
	"github.com/campuscode/harvest/pkg/metrics"
	"github.com/campuscode/harvest/pkg/ratelimit"
	"github.com/campuscode/harvest/pkg/rules"
	"github.com/campuscode/harvest/pkg/scheduler"
	"github.com/campuscode/harvest/pkg/storage"
	"github.com/campuscode/harvest/pkg/stream"
)

// Type aliases re-exported from the pkg/ packages.
type (
	// Priority orders queued collection requests.
	Priority = core.Priority

	// JobRequest is a pending request to collect data for one entity.
	JobRequest = core.JobRequest

	// Execution records one logical collection run.
	Execution = core.Execution

	// ExecutionStatus is the state of a collection run.
	ExecutionStatus = core.ExecutionStatus

	// Entity is a platform member whose activity is harvested.
	Entity = core.Entity

	// Stats is the computed metrics snapshot for an entity.
	Stats = core.Stats

	// Rule is an administered challenge definition.
	Rule = core.Rule

	// Achievement tracks one entity's progress against one rule.
	Achievement = core.Achievement

	// Reward is a ledger row written when an achievement fires.
	Reward = core.Reward

	// RateLimitedError indicates the local rate budget rejected a call.
	RateLimitedError = core.RateLimitedError

	// RemoteThrottledError indicates server-side throttling outlasted the
	// bounded retries.
	RemoteThrottledError = core.RemoteThrottledError

	// Budget is the rolling-window rate budget.
	Budget = ratelimit.Budget

	// Admission is one budget decision.
	Admission = ratelimit.Admission

	// Client is the rate-gated GraphQL client.
	Client = client.Client

	// Scheduler drains the priority queue of collection requests.
	Scheduler = scheduler.Scheduler

	// Runner performs the collection work for one execution.
	Runner = scheduler.Runner

	// RunnerFunc adapts a function to the Runner interface.
	RunnerFunc = scheduler.RunnerFunc

	// Sweeper runs named periodic tasks.
	Sweeper = scheduler.Sweeper

	// Sweep is one named periodic task.
	Sweep = scheduler.Sweep

	// Entry is one event in the durable log.
	Entry = stream.Entry

	// Log is the durable ordered event log.
	Log = stream.Log

	// Publisher appends recompute events to the log.
	Publisher = stream.Publisher

	// Consumer reads a stream as a member of a consumer group.
	Consumer = stream.Consumer

	// Engine evaluates challenge rules against snapshots.
	Engine = rules.Engine

	// Store is the GORM-backed implementation of every store.
	Store = storage.Store

	// Collector runs one collection per execution.
	Collector = collect.Collector

	// Metrics bundles the pipeline's Prometheus metrics.
	Metrics = metrics.Collector

	// Config is the full process configuration.
	Config = config.Config
)

// Priority levels.
const (
	PriorityHigh = core.PriorityHigh
	PriorityLow  = core.PriorityLow
)

// Execution states.
const (
	ExecutionRunning   = core.ExecutionRunning
	ExecutionFailed    = core.ExecutionFailed
	ExecutionSucceeded = core.ExecutionSucceeded
)

// Sentinel errors.
var (
	ErrEntityNotFound    = core.ErrEntityNotFound
	ErrExecutionNotFound = core.ErrExecutionNotFound
)

// Constructors re-exported from the pkg/ packages.
var (
	NewStore      = storage.New
	NewBudget     = ratelimit.NewBudget
	NewClient     = client.New
	NewScheduler  = scheduler.New
	NewSweeper    = scheduler.NewSweeper
	NewPublisher  = stream.NewPublisher
	NewConsumer   = stream.NewConsumer
	NewEngine     = rules.NewEngine
	NewHandler    = rules.NewHandler
	NewCollector  = collect.New
	NewMetrics    = metrics.NewCollector
	LoadConfig    = config.Load
	DefaultConfig = config.Default
	ParseRule     = rules.Parse
)

// Schedule helpers.
var (
	Every = scheduler.Every
	Daily = scheduler.Daily
	Cron  = scheduler.Cron
)
