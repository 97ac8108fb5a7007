// Package rewrite converts named parameter references in SQL text into the
// positional @P1..@Pn markers the driver binds.
package rewrite

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ha1tch/sqlbridge/pkg/command"
)

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_'
}

// Rewrite replaces every reference to a known parameter with @P<k>, k
// counting occurrences from 1, and returns the parameter index bound to each
// marker. Text inside single-quoted literals, @@system variables and
// references to unknown names are left untouched. With no params the SQL is
// returned unchanged.
func Rewrite(sql string, params []command.Param) (string, []int) {
	if len(params) == 0 {
		return sql, nil
	}

	// Later duplicates win.
	index := make(map[string]int, len(params))
	for i, p := range params {
		index[command.MatchKey(p.Name)] = i
	}

	var out strings.Builder
	out.Grow(len(sql) + 8)
	order := make([]int, 0, len(params))

	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == '\'':
			end := skipLiteral(sql, i)
			out.WriteString(sql[i:end])
			i = end

		case c == '@' && i+1 < len(sql) && sql[i+1] == '@':
			end := scanIdent(sql, i+2)
			out.WriteString(sql[i:end])
			i = end

		case c == '@':
			end := scanIdent(sql, i+1)
			if end > i+1 {
				if idx, ok := index[strings.ToLower(sql[i+1:end])]; ok {
					order = append(order, idx)
					out.WriteString("@P")
					out.WriteString(strconv.Itoa(len(order)))
					i = end
					continue
				}
			}
			out.WriteByte(c)
			i++

		default:
			out.WriteByte(c)
			i++
		}
	}

	return out.String(), order
}

// skipLiteral returns the offset just past the literal opening at start.
// Doubled quotes are escapes; an unterminated literal runs to the end.
func skipLiteral(sql string, start int) int {
	i := start + 1
	for i < len(sql) {
		if sql[i] == '\'' {
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

func scanIdent(sql string, start int) int {
	i := start
	for i < len(sql) {
		r, size := utf8.DecodeRuneInString(sql[i:])
		if !isIdentRune(r) {
			break
		}
		i += size
	}
	return i
}
