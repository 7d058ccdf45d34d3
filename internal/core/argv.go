package core

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/edvin/batchrun/internal/model"
)

// Program is what a command runs: either an Executable or a
// ManagedSubcommand.
type Program interface {
	program()
}

// Executable runs a binary by path.
type Executable struct {
	Path string
}

// ManagedSubcommand runs a subcommand of the managed command binary.
type ManagedSubcommand struct {
	Name string
}

func (Executable) program()        {}
func (ManagedSubcommand) program() {}

// ProgramOf returns the program variant of c.
func ProgramOf(c *model.Command) (Program, error) {
	switch c.Kind {
	case model.CommandKindExecutable:
		return Executable{Path: c.Name}, nil
	case model.CommandKindManagedSubcommand:
		return ManagedSubcommand{Name: c.Name}, nil
	default:
		return nil, fmt.Errorf("unknown command kind %q", c.Kind)
	}
}

// programArgv returns the leading argv elements of p.
func programArgv(p Program, managedBinary string) ([]string, error) {
	switch p := p.(type) {
	case Executable:
		return []string{p.Path}, nil
	case ManagedSubcommand:
		if managedBinary == "" {
			return nil, fmt.Errorf("managed subcommand %q: no managed command binary configured", p.Name)
		}
		return []string{managedBinary, p.Name}, nil
	default:
		return nil, fmt.Errorf("unsupported program %T", p)
	}
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Placeholders returns the parameter names referenced by template, sorted
// and without duplicates.
func Placeholders(template string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	sort.Strings(names)
	return names
}

// RenderArgv renders the full argv of cmd bound to args. The template is
// split on whitespace; a token referencing an unbound argument is dropped.
func RenderArgv(cmd *model.Command, args map[string]any, managedBinary string) ([]string, error) {
	p, err := ProgramOf(cmd)
	if err != nil {
		return nil, err
	}
	argv, err := programArgv(p, managedBinary)
	if err != nil {
		return nil, err
	}

	for _, token := range strings.Fields(cmd.Template) {
		unbound := false
		rendered := placeholderRe.ReplaceAllStringFunc(token, func(m string) string {
			v, ok := args[m[1:len(m)-1]]
			if !ok || v == nil {
				unbound = true
				return ""
			}
			return formatArgument(v)
		})
		if unbound {
			continue
		}
		argv = append(argv, rendered)
	}
	return argv, nil
}

func formatArgument(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// ValidateCommand checks the kind, the parameter types and that every
// placeholder in the template is a declared parameter.
func ValidateCommand(c *model.Command) error {
	if _, err := ProgramOf(c); err != nil {
		return err
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("command name is required")
	}
	for name, p := range c.Parameters {
		switch p.Type {
		case model.ParameterTypeString, model.ParameterTypeInteger, model.ParameterTypeBoolean, model.ParameterTypeDate:
		default:
			return fmt.Errorf("parameter %q: unknown type %q", name, p.Type)
		}
	}
	for _, name := range Placeholders(c.Template) {
		if _, ok := c.Parameters[name]; !ok {
			return fmt.Errorf("template references undeclared parameter %q", name)
		}
	}
	return nil
}

// ValidateArguments checks args against the parameter schema: no unknown
// names, every required parameter bound, and each value of the declared type.
func ValidateArguments(params map[string]model.Parameter, args map[string]any) error {
	for name := range args {
		if _, ok := params[name]; !ok {
			return fmt.Errorf("%w: unknown argument %q", ErrInvalidArguments, name)
		}
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := params[name]
		v, ok := args[name]
		if !ok || v == nil {
			if p.Required {
				return fmt.Errorf("%w: missing required argument %q", ErrInvalidArguments, name)
			}
			continue
		}
		if err := checkType(p.Type, v); err != nil {
			return fmt.Errorf("%w: argument %q: %v", ErrInvalidArguments, name, err)
		}
	}
	return nil
}

func checkType(t model.ParameterType, v any) error {
	switch t {
	case model.ParameterTypeString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("want string, got %T", v)
		}
	case model.ParameterTypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("want boolean, got %T", v)
		}
	case model.ParameterTypeInteger:
		switch n := v.(type) {
		case int, int64:
		case float64:
			if n != math.Trunc(n) {
				return fmt.Errorf("want integer, got %v", n)
			}
		default:
			return fmt.Errorf("want integer, got %T", v)
		}
	case model.ParameterTypeDate:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("want date, got %T", v)
		}
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			return fmt.Errorf("want date YYYY-MM-DD, got %q", s)
		}
	default:
		return fmt.Errorf("unknown type %q", t)
	}
	return nil
}
