package model

import "time"

// CommandKind selects how a command's argv is assembled.
type CommandKind string

const (
	CommandKindExecutable        CommandKind = "executable"
	CommandKindManagedSubcommand CommandKind = "managed-subcommand"
)

// ParameterType is the declared type of a command parameter.
type ParameterType string

const (
	ParameterTypeString  ParameterType = "string"
	ParameterTypeInteger ParameterType = "integer"
	ParameterTypeBoolean ParameterType = "boolean"
	ParameterTypeDate    ParameterType = "date"
)

type Parameter struct {
	Type        ParameterType `json:"type"`
	Required    bool          `json:"required"`
	Description string        `json:"description,omitempty"`
}

// Command is a named external invocation. Name is the executable path for
// executables and the subcommand name for managed subcommands.
type Command struct {
	ID         string               `json:"id"`
	Kind       CommandKind          `json:"kind"`
	Name       string               `json:"name"`
	Parameters map[string]Parameter `json:"parameters"`
	Template   string               `json:"parameter_format_string"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}
