package webhook

import "fmt"

// Trigger names an event that may fire an outbound notification
type Trigger string

const (
	TriggerServerStarted    Trigger = "server_started"
	TriggerServerStopped    Trigger = "server_stopped"
	TriggerServerCrashed    Trigger = "server_crashed"
	TriggerServerTerminated Trigger = "server_terminated"
	TriggerCommandReceived  Trigger = "command_received"
	TriggerPlayerJoinMatch  Trigger = "player_join_match"
	TriggerJarUpdated       Trigger = "jar_updated"
	TriggerBackupCompleted  Trigger = "backup_completed"
)

// AllTriggers lists every known trigger in display order
var AllTriggers = []Trigger{
	TriggerServerStarted,
	TriggerServerStopped,
	TriggerServerCrashed,
	TriggerBackupCompleted,
	TriggerJarUpdated,
	TriggerCommandReceived,
	TriggerServerTerminated,
	TriggerPlayerJoinMatch,
}

// ParseTrigger validates a trigger name
func ParseTrigger(name string) (Trigger, error) {
	for _, t := range AllTriggers {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown trigger %q", name)
}

// Message renders the notification text for a trigger
func Message(t Trigger, server, detail string) string {
	switch t {
	case TriggerServerStarted:
		return fmt.Sprintf("Server '%s' started", server)
	case TriggerServerStopped:
		return fmt.Sprintf("Server '%s' stopped", server)
	case TriggerServerTerminated:
		return fmt.Sprintf("Server '%s' terminated", server)
	case TriggerServerCrashed:
		return fmt.Sprintf("Server '%s' stopped unexpectedly", server)
	case TriggerCommandReceived:
		return fmt.Sprintf("Command received on '%s': `%s`", server, detail)
	case TriggerPlayerJoinMatch:
		return fmt.Sprintf("Player '%s' joined server '%s'", detail, server)
	case TriggerJarUpdated:
		return fmt.Sprintf("Server executable for '%s' updated: %s", server, detail)
	case TriggerBackupCompleted:
		return fmt.Sprintf("Backup '%s' of '%s' completed", detail, server)
	default:
		return fmt.Sprintf("[%s] %s: %s", t, server, detail)
	}
}
