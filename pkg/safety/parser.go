package safety

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ParsedCommand is the structural view of one command line.
type ParsedCommand struct {
	Program         string            // First program invoked (e.g., "rm", "curl")
	Args            []string          // Arguments to the first program
	Programs        []string          // Every program invoked, in source order
	RedirectTargets []string          // Targets of output redirects (>, >>, &>)
	IsPiped         bool              // Command contains a pipeline
	IsChained       bool              // Command chains statements (&&, ||, ;)
	HasRedirect     bool              // Command has any redirect
	Flags           map[string]string // Flags of the first program, with values
	RawCommand      string            // Original command string
	ParseError      error             // If shell parsing failed
}

// ParseCommand parses a command line into its structural parts using a
// shell AST. A command the shell grammar rejects falls back to whitespace
// splitting so classification can still run on the raw tokens.
func ParseCommand(cmd string) *ParsedCommand {
	result := &ParsedCommand{
		RawCommand: cmd,
		Args:       make([]string, 0),
		Programs:   make([]string, 0),
		Flags:      make(map[string]string),
	}

	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(cmd), "")
	if err != nil {
		result.ParseError = err
		result.parseSimple(cmd)
		return result
	}

	if len(file.Stmts) > 1 {
		result.IsChained = true
	}

	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CallExpr:
			result.parseCallExpr(n)
		case *syntax.BinaryCmd:
			switch n.Op {
			case syntax.Pipe, syntax.PipeAll:
				result.IsPiped = true
			case syntax.AndStmt, syntax.OrStmt:
				result.IsChained = true
			}
		case *syntax.Redirect:
			result.HasRedirect = true
			if n.Word != nil {
				switch n.Op {
				case syntax.RdrOut, syntax.AppOut, syntax.RdrAll, syntax.AppAll:
					result.RedirectTargets = append(result.RedirectTargets, wordToString(n.Word))
				}
			}
		}
		return true
	})

	return result
}

// parseCallExpr records one invoked program. The first call seen owns the
// Program/Args/Flags fields; every call contributes to Programs.
func (p *ParsedCommand) parseCallExpr(expr *syntax.CallExpr) {
	if len(expr.Args) == 0 {
		return
	}

	name := wordToString(expr.Args[0])
	p.Programs = append(p.Programs, name)
	if p.Program != "" {
		return
	}

	p.Program = name
	for i := 1; i < len(expr.Args); i++ {
		arg := wordToString(expr.Args[i])
		p.Args = append(p.Args, arg)

		if strings.HasPrefix(arg, "--") {
			parts := strings.SplitN(arg, "=", 2)
			if len(parts) == 2 {
				p.Flags[parts[0]] = parts[1]
			} else {
				p.Flags[arg] = ""
			}
		} else if strings.HasPrefix(arg, "-") && len(arg) > 1 {
			p.Flags[arg] = ""
		}
	}
}

// parseSimple performs whitespace-based parsing when the AST parse fails.
func (p *ParsedCommand) parseSimple(cmd string) {
	p.IsPiped = strings.Contains(cmd, "|")
	p.IsChained = strings.Contains(cmd, "&&") || strings.Contains(cmd, "||") || strings.Contains(cmd, ";")
	p.HasRedirect = strings.Contains(cmd, ">") || strings.Contains(cmd, "<")

	for _, segment := range splitOnOperators(cmd) {
		parts := strings.Fields(segment)
		if len(parts) == 0 {
			continue
		}
		p.Programs = append(p.Programs, parts[0])
		if p.Program == "" {
			p.Program = parts[0]
			if len(parts) > 1 {
				p.Args = parts[1:]
			}
		}
	}
}

// splitOnOperators splits a raw command line at pipe and chain operators.
func splitOnOperators(cmd string) []string {
	for _, op := range []string{"&&", "||", ";", "|"} {
		cmd = strings.ReplaceAll(cmd, op, "\x00")
	}
	return strings.Split(cmd, "\x00")
}

// wordToString flattens a syntax.Word to its literal text.
func wordToString(word *syntax.Word) string {
	var result strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			result.WriteString(p.Value)
		case *syntax.SglQuoted:
			result.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					result.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			result.WriteString("$")
			result.WriteString(p.Param.Value)
		case *syntax.CmdSubst:
			result.WriteString("$(...)")
		}
	}
	return result.String()
}

// HasFlag checks if the first program carries a specific flag.
func (p *ParsedCommand) HasFlag(flag string) bool {
	_, ok := p.Flags[flag]
	return ok
}

// HasAnyFlag checks if the first program carries any of the given flags.
func (p *ParsedCommand) HasAnyFlag(flags ...string) bool {
	for _, flag := range flags {
		if p.HasFlag(flag) {
			return true
		}
	}
	return false
}

// GetFlagValue returns the value of a flag, or empty if absent.
func (p *ParsedCommand) GetFlagValue(flag string) string {
	return p.Flags[flag]
}
