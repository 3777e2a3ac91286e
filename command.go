package pelican

import (
	"errors"
	"fmt"

	"github.com/pelicandb/pelican/pelconn"
	"github.com/pelicandb/pelican/sanitize"
)

// ErrRawCommandText is returned when CommandText is set on a command built
// from raw statements.
var ErrRawCommandText = errors.New("pelican: a raw-statement command has no CommandText")

// Command is an ordered list of statements to run as one pipeline. Two
// flavors feed the same core: NewCommand derives statements from command
// text (named placeholders rewritten to positional form), NewRawCommand
// takes already-positional statements as-is.
type Command struct {
	text       string
	raw        bool
	statements []*Statement
	params     []*Parameter

	// MaxRows limits each statement's result set; 0 means no limit.
	MaxRows uint32
}

// NewCommand creates a command from SQL text. The text may hold several
// semicolon-separated statements and may use @name, :name, or $n
// placeholders.
func NewCommand(text string) *Command {
	return &Command{text: text}
}

// NewRawCommand creates a command from already-positional statements. The
// core consumes them untouched.
func NewRawCommand(stmts ...*Statement) *Command {
	return &Command{raw: true, statements: stmts}
}

// CommandText returns the text this command was built from.
func (cmd *Command) CommandText() string { return cmd.text }

// SetCommandText replaces the command's text. It fails on the raw-statement
// flavor, which owns its statements directly.
func (cmd *Command) SetCommandText(text string) error {
	if cmd.raw {
		return ErrRawCommandText
	}
	cmd.text = text
	return nil
}

// Statements returns the raw flavor's statement list.
func (cmd *Command) Statements() []*Statement { return cmd.statements }

// AddParam appends a named input parameter for the text flavor.
func (cmd *Command) AddParam(name string, value any) *Command {
	cmd.params = append(cmd.params, &Parameter{Name: name, Value: value, Direction: pelconn.Input})
	return cmd
}

// AddPositionalParam appends a value for the next $n placeholder.
func (cmd *Command) AddPositionalParam(value any) *Command {
	cmd.params = append(cmd.params, &Parameter{Value: value, Direction: pelconn.Input})
	return cmd
}

// Clone deep-copies the command: statements and parameter lists are
// duplicated, parameter values are shared.
func (cmd *Command) Clone() *Command {
	cp := &Command{text: cmd.text, raw: cmd.raw, MaxRows: cmd.MaxRows}
	cp.statements = make([]*Statement, len(cmd.statements))
	for i, s := range cmd.statements {
		cp.statements[i] = s.Clone()
	}
	cp.params = make([]*Parameter, len(cmd.params))
	for i, p := range cmd.params {
		pc := *p
		cp.params[i] = &pc
	}
	return cp
}

// build produces the positional statements the core executes. For the text
// flavor this runs the named-parameter preprocessor, so the core only ever
// sees $n placeholders.
func (cmd *Command) build() ([]*Statement, error) {
	if cmd.raw {
		return cmd.statements, nil
	}

	byName := make(map[string]*Parameter)
	var positional []*Parameter
	for _, p := range cmd.params {
		if p.Name != "" {
			byName[p.Name] = p
		} else {
			positional = append(positional, p)
		}
	}

	var stmts []*Statement
	for _, sql := range sanitize.Split(cmd.text) {
		q, err := sanitize.NewQuery(sql)
		if err != nil {
			return nil, err
		}
		rewritten, names := q.Rewrite()

		s := &Statement{SQL: rewritten}
		s.InputParameters = append(s.InputParameters, positional...)
		for _, name := range names {
			p, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("pelican: no value for parameter @%s", name)
			}
			s.InputParameters = append(s.InputParameters, p)
		}
		stmts = append(stmts, s)
	}
	if len(stmts) == 0 {
		stmts = []*Statement{{SQL: ""}}
	}
	return stmts, nil
}
