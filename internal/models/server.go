package models

import "time"

// InstanceState is the lifecycle state of a supervised server
type InstanceState string

const (
	StateStopped  InstanceState = "stopped"
	StateRunning  InstanceState = "running"
	StateStopping InstanceState = "stopping"
)

// ActionResult is returned by start, stop and command operations
type ActionResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	EULARequired bool   `json:"eula_required,omitempty"`
	Forced       bool   `json:"forced,omitempty"`
}

// InstanceStatus is the observable state of one server
type InstanceStatus struct {
	Name          string        `json:"name"`
	Status        InstanceState `json:"status"`
	OnlinePlayers int           `json:"online_players"`
	PID           *int          `json:"pid"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
}

// ServerListItem represents a configured server with its current status
type ServerListItem struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Platform    string         `json:"platform"`
	Status      InstanceStatus `json:"status"`
	LastExit    string         `json:"last_exit,omitempty"`
	ExitCode    *int           `json:"exit_code,omitempty"`
}

// CommandRequest represents a console command request
type CommandRequest struct {
	Command string `json:"command" binding:"required"`
}

// LogsResponse carries recent console output
type LogsResponse struct {
	Server string   `json:"server"`
	Lines  []string `json:"lines"`
}

// PlayersResponse carries the presence set of a server
type PlayersResponse struct {
	Server  string   `json:"server"`
	Count   int      `json:"count"`
	Players []string `json:"players"`
}

// EventRequest reports an event from an external collaborator
type EventRequest struct {
	Trigger string `json:"trigger" binding:"required"`
	Detail  string `json:"detail"`
}
