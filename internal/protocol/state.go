package protocol

// CommandState is the lifecycle state of a command as understood by the control system.
type CommandState string

const (
	StatePreparingOnGateway    CommandState = "preparing_on_gateway"
	StateUplinkingToSystem     CommandState = "uplinking_to_system"
	StateTransmittedToSystem   CommandState = "transmitted_to_system"
	StateAckedBySystem         CommandState = "acked_by_system"
	StateExecutingOnSystem     CommandState = "executing_on_system"
	StateDownlinkingFromSystem CommandState = "downlinking_from_system"
	StateProcessingOnGateway   CommandState = "processing_on_gateway"
	StateCompleted             CommandState = "completed"
	StateFailed                CommandState = "failed"
)

var stateRank = map[CommandState]int{
	StatePreparingOnGateway:    0,
	StateUplinkingToSystem:     1,
	StateTransmittedToSystem:   2,
	StateAckedBySystem:         3,
	StateExecutingOnSystem:     4,
	StateDownlinkingFromSystem: 5,
	StateProcessingOnGateway:   6,
	StateCompleted:             7,
	StateFailed:                7,
}

// Valid reports whether s is one of the known states.
func (s CommandState) Valid() bool {
	_, ok := stateRank[s]
	return ok
}

// IsTerminal reports whether no further transitions may follow s.
func (s CommandState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Rank orders states along a single execution. Unknown states rank -1.
func (s CommandState) Rank() int {
	if r, ok := stateRank[s]; ok {
		return r
	}
	return -1
}
