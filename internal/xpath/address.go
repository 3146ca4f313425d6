// Package xpath assembles the XPath 1.0 expressions and conditions sent
// through the oracle. Everything here is pure string building.
package xpath

import (
	"strconv"
	"strings"
)

// Address is a path expression naming a node set in the remote document,
// e.g. "/*" or "/*[2]/*[1]/*". Addresses are values and only ever extended.
type Address struct {
	path string
}

// Root returns the address of the document element set
func Root() Address {
	return Address{path: "/*"}
}

// ParseAddress wraps a caller-supplied start path such as "/*[1]/*"
func ParseAddress(path string) Address {
	path = strings.TrimSpace(path)
	if path == "" {
		return Root()
	}
	return Address{path: path}
}

// Index selects the i-th (1-based) node of the set in document order
func (a Address) Index(i int) Address {
	return Address{path: a.path + "[" + strconv.Itoa(i) + "]"}
}

// Children returns the set of element children of every node in a
func (a Address) Children() Address {
	return Address{path: a.path + "/*"}
}

// String returns the path expression
func (a Address) String() string {
	return a.path
}
