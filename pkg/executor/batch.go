package executor

import (
	"strings"

	"github.com/ha1tch/sqlbridge/pkg/codec"
	"github.com/ha1tch/sqlbridge/pkg/command"
)

// rowCountVar captures @@ROWCOUNT before the output SELECT resets it.
const rowCountVar = "@__sqlbridge_rc"

// buildOutputBatch renders a self-contained batch for a command with OUTPUT
// parameters. Values are embedded as literals, so the batch binds nothing.
//
// For a procedure:
//
//	DECLARE @out INT;
//	EXEC proc @in = 5, @out = @out OUTPUT;
//	SELECT @out AS [out];
//
// For raw SQL every parameter is declared so the text can reference it.
// The returned names are the output columns in declaration order.
func buildOutputBatch(cmd *command.Command) (string, []string, error) {
	var b strings.Builder
	var outputs []string
	declared := make(map[string]bool)

	b.WriteString("DECLARE " + rowCountVar + " BIGINT;\n")

	declare := func(p command.Param, out bool) error {
		clean := command.CleanName(p.Name)
		key := command.MatchKey(p.Name)
		if declared[key] {
			return nil
		}
		declared[key] = true

		value, err := codec.Encode(p.Value, p.Type)
		if err != nil {
			return err
		}

		var sqlType string
		switch {
		case p.Type != "":
			if sqlType, err = codec.DeclareType(p.Type); err != nil {
				return err
			}
		case out:
			sqlType = "NVARCHAR(MAX)"
		default:
			sqlType = codec.InferDeclareType(value)
		}

		b.WriteString("DECLARE @" + clean + " " + sqlType + ";\n")
		if value != nil {
			b.WriteString("SET @" + clean + " = " + codec.Literal(value) + ";\n")
		}
		if out {
			outputs = append(outputs, clean)
		}
		return nil
	}

	for _, p := range cmd.Params {
		if p.Output {
			if err := declare(p, true); err != nil {
				return "", nil, err
			}
		}
	}

	if cmd.IsProcedure() {
		parts := make([]string, 0, len(cmd.Params))
		for _, p := range cmd.Params {
			clean := command.CleanName(p.Name)
			if p.Output {
				parts = append(parts, "@"+clean+" = @"+clean+" OUTPUT")
				continue
			}
			value, err := codec.Encode(p.Value, p.Type)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, "@"+clean+" = "+codec.Literal(value))
		}
		b.WriteString("EXEC " + cmd.SQL)
		if len(parts) > 0 {
			b.WriteString(" " + strings.Join(parts, ", "))
		}
		b.WriteString(";\n")
	} else {
		for _, p := range cmd.Params {
			if !p.Output {
				if err := declare(p, false); err != nil {
					return "", nil, err
				}
			}
		}
		b.WriteString(cmd.SQL + ";\n")
	}

	b.WriteString("SET " + rowCountVar + " = @@ROWCOUNT;\n")

	selects := make([]string, len(outputs))
	for i, n := range outputs {
		selects[i] = "@" + n + " AS " + codec.BracketEscape(n)
	}
	b.WriteString("SELECT " + strings.Join(selects, ", ") + ";\n")
	b.WriteString("SELECT " + rowCountVar + " AS " + RowCountColumn + ";\n")

	return b.String(), outputs, nil
}
