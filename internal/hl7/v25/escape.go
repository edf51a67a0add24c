package v25

import "strings"

// HL7 escape sequences for the fixed delimiter set. The escape
// character itself must be handled first on encode and last on decode.
var escaper = strings.NewReplacer(
	EscapeCharacter, `\E\`,
	FieldSeparator, `\F\`,
	ComponentSeparator, `\S\`,
	SubcomponentSeparator, `\T\`,
	RepetitionSeparator, `\R\`,
)

var unescaper = strings.NewReplacer(
	`\F\`, FieldSeparator,
	`\S\`, ComponentSeparator,
	`\T\`, SubcomponentSeparator,
	`\R\`, RepetitionSeparator,
	`\E\`, EscapeCharacter,
)

// Escape encodes delimiter characters in a field value so they survive
// segment construction.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Unescape decodes HL7 escape sequences back to their literal
// characters. Unrecognized sequences are left untouched.
func Unescape(s string) string {
	return unescaper.Replace(s)
}
