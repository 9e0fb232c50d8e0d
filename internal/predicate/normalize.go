package predicate

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokNumber
	tokOp
	tokSpace
)

type token struct {
	kind tokenKind
	text string
}

// tokenize splits a where clause into words, numbers, quoted strings,
// operators and whitespace runs.
func tokenize(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			j := i
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			tokens = append(tokens, token{tokSpace, " "})
			i = j
		case r == '\'':
			var sb strings.Builder
			j := i + 1
			closed := false
			for j < len(runes) {
				if runes[j] == '\'' {
					// '' is an escaped quote inside SQL strings.
					if j+1 < len(runes) && runes[j+1] == '\'' {
						sb.WriteRune('\'')
						j += 2
						continue
					}
					closed = true
					j++
					break
				}
				sb.WriteRune(runes[j])
				j++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string literal at offset %d", i)
			}
			tokens = append(tokens, token{tokString, sb.String()})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			tokens = append(tokens, token{tokWord, string(runes[i:j])})
			i = j
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.' || runes[j] == 'e' || runes[j] == 'E' ||
				((runes[j] == '-' || runes[j] == '+') && (runes[j-1] == 'e' || runes[j-1] == 'E'))) {
				j++
			}
			tokens = append(tokens, token{tokNumber, string(runes[i:j])})
			i = j
		default:
			if i+1 < len(runes) {
				two := string(runes[i : i+2])
				switch two {
				case "<=", ">=", "<>", "!=", "==":
					tokens = append(tokens, token{tokOp, two})
					i += 2
					continue
				}
			}
			if !strings.ContainsRune("=<>()+-*/,", r) {
				return nil, fmt.Errorf("unexpected character %q at offset %d", r, i)
			}
			tokens = append(tokens, token{tokOp, string(r)})
			i++
		}
	}
	return tokens, nil
}

// Normalize translates a where clause into expr-lang syntax:
// = and <> become == and !=, AND/OR/NOT become &&/||/!, IS [NOT] NULL
// becomes a nil comparison. Keywords are case-insensitive.
func Normalize(where string) (string, error) {
	tokens, err := tokenize(where)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok.kind {
		case tokSpace:
			sb.WriteString(" ")
		case tokString:
			sb.WriteString(quote(tok.text))
		case tokNumber:
			sb.WriteString(tok.text)
		case tokOp:
			switch tok.text {
			case "=":
				sb.WriteString("==")
			case "<>":
				sb.WriteString("!=")
			default:
				sb.WriteString(tok.text)
			}
		case tokWord:
			switch strings.ToUpper(tok.text) {
			case "AND":
				sb.WriteString("&&")
			case "OR":
				sb.WriteString("||")
			case "NOT":
				sb.WriteString("!")
			case "NULL":
				sb.WriteString("nil")
			case "TRUE":
				sb.WriteString("true")
			case "FALSE":
				sb.WriteString("false")
			case "IS":
				next, idx := nextWord(tokens, i+1)
				if strings.EqualFold(next, "NOT") {
					sb.WriteString("!=")
					i = idx
				} else {
					sb.WriteString("==")
				}
			default:
				sb.WriteString(tok.text)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// nextWord returns the next non-space word after position i and its index.
func nextWord(tokens []token, i int) (string, int) {
	for ; i < len(tokens); i++ {
		switch tokens[i].kind {
		case tokSpace:
			continue
		case tokWord:
			return tokens[i].text, i
		default:
			return "", i
		}
	}
	return "", i
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), "'", `\'`) + "'"
}
