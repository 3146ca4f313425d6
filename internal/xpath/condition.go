package xpath

import (
	"strconv"
	"strings"
)

// Condition is a boolean XPath expression evaluated by the remote endpoint
type Condition string

// Count is count(a)
func Count(a Address) string {
	return "count(" + a.String() + ")"
}

// ChildCount is count(a/*)
func ChildCount(a Address) string {
	return Count(a.Children())
}

// Name is name(a)
func Name(a Address) string {
	return "name(" + a.String() + ")"
}

// String is string(a)
func String(a Address) string {
	return "string(" + a.String() + ")"
}

// Text is a/text()
func Text(a Address) string {
	return a.String() + "/text()"
}

// StringLength is string-length(expr)
func StringLength(expr string) string {
	return "string-length(" + expr + ")"
}

// Substring is substring(expr,pos,1), the character at a 1-based position
func Substring(expr string, pos int) string {
	return "substring(" + expr + "," + strconv.Itoa(pos) + ",1)"
}

// Eq is expr=n
func Eq(expr string, n int) Condition {
	return Condition(expr + "=" + strconv.Itoa(n))
}

// LessOrEqual is expr<=n
func LessOrEqual(expr string, n int) Condition {
	return Condition(expr + "<=" + strconv.Itoa(n))
}

// Greater is expr > n
func Greater(expr string, n int) Condition {
	return Condition(expr + " > " + strconv.Itoa(n))
}

// EqString is expr=LIT(s)
func EqString(expr string, s string) Condition {
	return Condition(expr + "=" + Literal(s))
}

// HasText holds when the node has non-empty direct text content
func HasText(a Address) Condition {
	return Greater(StringLength(Text(a)), 0)
}

// Literal quotes s as an XPath 1.0 string literal. XPath has no escape
// sequences, so a string holding both quote kinds is split into pieces
// joined with concat(). Backslash is an ordinary character.
func Literal(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}

	var parts []string
	for s != "" {
		i := strings.IndexAny(s, `'"`)
		switch {
		case i < 0:
			parts = append(parts, "'"+s+"'")
			s = ""
		case i > 0:
			parts = append(parts, "'"+s[:i]+"'")
			s = s[i:]
		case s[0] == '\'':
			j := strings.IndexByte(s, '"')
			if j < 0 {
				j = len(s)
			}
			parts = append(parts, `"`+s[:j]+`"`)
			s = s[j:]
		default:
			j := strings.IndexByte(s, '\'')
			if j < 0 {
				j = len(s)
			}
			parts = append(parts, "'"+s[:j]+"'")
			s = s[j:]
		}
	}
	return "concat(" + strings.Join(parts, ",") + ")"
}
