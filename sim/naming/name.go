package naming

import (
	"strconv"
	"strings"
	"unicode"
)

// A Name is a hierarchical name that includes a series of tokens separated
// by dots, for example "Core[0].Fetch".
type Name struct {
	Tokens []NameToken
}

// NameToken is a token of a name.
type NameToken struct {
	ElemName string
	Index    []int
}

// ParseName parses a name string and returns a Name object. It panics if the
// brackets do not match or an index is not an integer.
func ParseName(sname string) Name {
	tokens := strings.Split(sname, ".")
	name := Name{Tokens: make([]NameToken, len(tokens))}

	for i, token := range tokens {
		name.Tokens[i] = parseNameToken(token)
	}

	return name
}

func parseNameToken(token string) NameToken {
	bracketMustMatch(token)

	ts := strings.Split(token, "[")
	elemName := ts[0]

	indices := make([]int, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		index, err := strconv.Atoi(strings.TrimSuffix(ts[i], "]"))
		if err != nil {
			panic("name index must be integer")
		}

		indices[i-1] = index
	}

	return NameToken{ElemName: elemName, Index: indices}
}

func bracketMustMatch(name string) {
	openBracketCount := 0

	for _, c := range name {
		switch c {
		case '[':
			openBracketCount++
		case ']':
			openBracketCount--
			if openBracketCount < 0 {
				panic("name bracket must match")
			}
		}
	}

	if openBracketCount != 0 {
		panic("name bracket must match")
	}
}

// NameMustBeValid panics if the name does not follow the naming convention.
//  1. It must be organized in a hierarchical structure. For example, a name
//     "A.B.C" is valid, but "A.B.C." is not.
//  2. Individual names must not be empty. For example, "A..B" is not valid.
//  3. Individual names must not contain spaces, quotes or slashes.
//  4. Elements in a series must be named using square-bracket notation.
func NameMustBeValid(name string) {
	defer func() {
		if r := recover(); r != nil {
			panic("name \"" + name + "\" is not valid: " + r.(string))
		}
	}()

	n := ParseName(name)
	for _, token := range n.Tokens {
		tokenMustBeValid(token)
	}
}

func tokenMustBeValid(token NameToken) {
	if token.ElemName == "" {
		panic("name element must not be empty")
	}

	for _, c := range token.ElemName {
		if unicode.IsSpace(c) {
			panic("name element must not contain spaces")
		}

		if strings.ContainsRune("\"'/\\", c) {
			panic("name element must not contain " + string(c))
		}
	}
}

// BuildName builds a name from a parent name and an element name.
func BuildName(parentName, elementName string) string {
	if parentName == "" {
		return elementName
	}

	return parentName + "." + elementName
}

// BuildNameWithIndex builds a name from a parent name, an element name and an
// index.
func BuildNameWithIndex(parentName, elementName string, index int) string {
	return BuildName(parentName, elementName+"["+strconv.Itoa(index)+"]")
}
