package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/batchrun/internal/model"
)

func invoicingCommand() *model.Command {
	return &model.Command{
		Kind: model.CommandKindManagedSubcommand,
		Name: "send_invoices",
		Parameters: map[string]model.Parameter{
			"due_date": {Type: model.ParameterTypeDate, Required: true},
			"limit":    {Type: model.ParameterTypeInteger},
			"dry_run":  {Type: model.ParameterTypeBoolean},
			"label":    {Type: model.ParameterTypeString},
		},
		Template: "--due-date={due_date} --limit {limit} --dry-run={dry_run}",
	}
}

func TestProgramOf(t *testing.T) {
	p, err := ProgramOf(&model.Command{Kind: model.CommandKindExecutable, Name: "/usr/bin/env"})
	require.NoError(t, err)
	assert.Equal(t, Executable{Path: "/usr/bin/env"}, p)

	p, err = ProgramOf(&model.Command{Kind: model.CommandKindManagedSubcommand, Name: "index_audit_log"})
	require.NoError(t, err)
	assert.Equal(t, ManagedSubcommand{Name: "index_audit_log"}, p)

	_, err = ProgramOf(&model.Command{Kind: "script", Name: "x"})
	require.Error(t, err)
}

func TestRenderArgv_Managed(t *testing.T) {
	argv, err := RenderArgv(invoicingCommand(), map[string]any{
		"due_date": "2024-06-30",
		"limit":    float64(50),
		"dry_run":  true,
	}, "/opt/leasing/manage")
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/leasing/manage", "send_invoices", "--due-date=2024-06-30", "--limit", "50", "--dry-run=true"}, argv)
}

func TestRenderArgv_DropsUnboundOptional(t *testing.T) {
	argv, err := RenderArgv(invoicingCommand(), map[string]any{"due_date": "2024-06-30"}, "/opt/leasing/manage")
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/leasing/manage", "send_invoices", "--due-date=2024-06-30", "--limit"}, argv)
}

func TestRenderArgv_Executable(t *testing.T) {
	cmd := &model.Command{
		Kind:       model.CommandKindExecutable,
		Name:       "/bin/echo",
		Parameters: map[string]model.Parameter{"word": {Type: model.ParameterTypeString}},
		Template:   "hello   {word}",
	}
	argv, err := RenderArgv(cmd, map[string]any{"word": "world"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/echo", "hello", "world"}, argv)
}

func TestRenderArgv_ManagedWithoutBinary(t *testing.T) {
	_, err := RenderArgv(invoicingCommand(), map[string]any{"due_date": "2024-06-30"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no managed command binary")
}

func TestRenderArgv_Deterministic(t *testing.T) {
	args := map[string]any{"due_date": "2024-06-30", "limit": 3, "dry_run": false, "label": "x"}
	first, err := RenderArgv(invoicingCommand(), args, "m")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := RenderArgv(invoicingCommand(), args, "m")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestValidateArguments(t *testing.T) {
	params := invoicingCommand().Parameters
	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"minimal", map[string]any{"due_date": "2024-06-30"}, false},
		{"all", map[string]any{"due_date": "2024-06-30", "limit": float64(10), "dry_run": false, "label": "q2"}, false},
		{"int limit", map[string]any{"due_date": "2024-06-30", "limit": 10}, false},
		{"null optional", map[string]any{"due_date": "2024-06-30", "limit": nil}, false},
		{"missing required", map[string]any{"limit": 10}, true},
		{"unknown", map[string]any{"due_date": "2024-06-30", "color": "red"}, true},
		{"bad date", map[string]any{"due_date": "30.6.2024"}, true},
		{"fractional", map[string]any{"due_date": "2024-06-30", "limit": 1.5}, true},
		{"string bool", map[string]any{"due_date": "2024-06-30", "dry_run": "yes"}, true},
		{"numeric string", map[string]any{"due_date": "2024-06-30", "label": 5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArguments(params, tt.args)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArguments)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	assert.NoError(t, ValidateCommand(invoicingCommand()))

	undeclared := invoicingCommand()
	undeclared.Template += " {since}"
	assert.Error(t, ValidateCommand(undeclared))

	badType := invoicingCommand()
	badType.Parameters["limit"] = model.Parameter{Type: "float"}
	assert.Error(t, ValidateCommand(badType))

	noName := invoicingCommand()
	noName.Name = " "
	assert.Error(t, ValidateCommand(noName))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Placeholders("{b} x{a}y {b} {not-a-name}"))
	assert.Empty(t, Placeholders("--flag"))
}
