package models

import "time"

// CycleOutcome records how a reflection cycle ended.
type CycleOutcome string

const (
	// OutcomeContinued: a continuation prompt was pushed into the session.
	OutcomeContinued CycleOutcome = "continued"
	// OutcomeConfirmed: the judge certified the session complete.
	OutcomeConfirmed CycleOutcome = "confirmed"
	// OutcomeHumanAction: escalated to the user, nothing sent to the agent.
	OutcomeHumanAction CycleOutcome = "human_action"
	// OutcomeStopped: legitimate stop, no gaps found, nothing sent.
	OutcomeStopped CycleOutcome = "stopped"
	// OutcomeStale: a newer user message or an abort arrived mid-cycle.
	OutcomeStale CycleOutcome = "stale"
	// OutcomeError: the cycle was abandoned after a transport or judge failure.
	OutcomeError CycleOutcome = "error"
)

// ReflectionCycle is one recorded Ask/Await/Judge/Act sequence for a session.
type ReflectionCycle struct {
	ID              string
	SessionID       string
	AnchorMessageID string
	Outcome         CycleOutcome
	Severity        Severity
	Reason          string
	VerdictJSON     string // raw verdict for later inspection, "" when no verdict was produced
	StartedAt       time.Time
	FinishedAt      time.Time
}
