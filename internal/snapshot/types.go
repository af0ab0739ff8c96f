// Package snapshot composes cached collaborator state into one coherent
// bridge snapshot per cycle. Snapshots are ephemeral: always rebuilt, never
// persisted, handed to consumers by value.
package snapshot

import (
	"time"

	"github.com/p-blackswan/bridge/internal/collab"
)

// Snapshot is the aggregate view of all monitored systems at one instant.
type Snapshot struct {
	Timestamp time.Time              `json:"timestamp"`
	Stardate  string                 `json:"stardate"`
	System    collab.SystemInfo      `json:"system"`
	Gateway   collab.GatewayStatus   `json:"gateway"`
	Sessions  []collab.Session       `json:"sessions"`
	Git       []collab.GitStatus     `json:"git"`
	Crew      map[string]*CrewMember `json:"crew"`
}

// CrewMember is the derived state of one logical agent.
type CrewMember struct {
	Status      string         `json:"status"` // ACTIVE, IDLE or OFFLINE
	Role        string         `json:"role"`
	ActiveTasks int            `json:"activeTasks"`
	Tasks       []TaskRef      `json:"tasks"`
	Sessions    []string       `json:"sessions,omitempty"` // session labels routed here
	Portfolio   *PortfolioView `json:"portfolio,omitempty"`
	Uptime      string         `json:"uptime,omitempty"`
}

// TaskRef is the compact task projection shown on crew cards.
type TaskRef struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// PortfolioView is the derived trading state attached to the trader agent.
type PortfolioView struct {
	StartingBalance float64   `json:"startingBalance"`
	Balance         float64   `json:"balance"`
	TradeCount      int       `json:"tradeCount"`
	Streak          Streak    `json:"streak"`
	Sparkline       []float64 `json:"sparkline"`
}

// Streak is a run of consecutive same-result trades counted from the most
// recent trade backward. Type is null when there is no history.
type Streak struct {
	Count int     `json:"count"`
	Type  *string `json:"type"`
}

// TaskSource supplies per-agent task projections. Implemented by the task
// store; decoupled here so the aggregator stays testable with fakes.
type TaskSource interface {
	TasksByAssignee() map[string][]TaskRef
}
