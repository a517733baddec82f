package remote

import "github.com/google/uuid"

// Command is one batched mutation submitted through the incremental sync
// endpoint. UUID deduplicates the command on the remote side; TempID is set
// only for create operations and is echoed back through TempIDMapping.
type Command struct {
	Type   string                 `json:"type"`
	UUID   string                 `json:"uuid"`
	TempID string                 `json:"temp_id,omitempty"`
	Args   map[string]interface{} `json:"args"`
}

// NewCommand builds a mutation command with a fresh v4 uuid.
func NewCommand(commandType string, args map[string]interface{}) Command {
	return Command{
		Type: commandType,
		UUID: uuid.NewString(),
		Args: args,
	}
}

// NewCreateCommand builds a create command carrying a locally generated
// temporary id the remote service will map to its real id.
func NewCreateCommand(commandType string, args map[string]interface{}) Command {
	command := NewCommand(commandType, args)
	command.TempID = uuid.NewString()
	return command
}
