package csv

import (
	"fmt"

	"github.com/cuemby/warren/pkg/types"
)

// Default escape sequences, matching Dialect::defaultFieldsTerminatedBy
// et al.
const (
	DefaultFieldsTerminatedBy = `\t`
	DefaultFieldsEnclosedBy   = `\0`
	DefaultFieldsEscapedBy    = `\\`
	DefaultLinesTerminatedBy  = `\n`
)

// AllowedFieldsTerminatedBy, AllowedFieldsEnclosedBy, etc. are the
// closed sets of escape-sequence spellings the wire protocol accepts.
var (
	AllowedFieldsTerminatedBy = []string{`\t`, `,`}
	AllowedFieldsEnclosedBy   = []string{`\0`, `'`, `"`}
	AllowedFieldsEscapedBy    = []string{`\\`}
	AllowedLinesTerminatedBy  = []string{`\n`}
)

var inTranslation = map[string]byte{
	`\0`: 0,
	`\t`: '\t',
	`,`:  ',',
	`'`:  '\'',
	`"`:  '"',
	`\\`: '\\',
	`\n`: '\n',
}

var outTranslation = map[byte]string{
	0:    ``,
	'\t': `\t`,
	',':  `,`,
	'\'': `\'`,
	'"':  `"`,
	'\\': `\\`,
	'\n': `\n`,
}

// Dialect names the four characters that delimit fields, quoting and
// rows in a CSV-ish byte stream, mirroring the LOAD DATA INFILE
// grammar.
type Dialect struct {
	fieldsTerminatedBy byte
	fieldsEnclosedBy   byte // 0 means "no enclosing character"
	fieldsEscapedBy    byte
	linesTerminatedBy  byte
}

// DefaultDialect is `\t`-separated, unquoted, `\`-escaped, `\n`-terminated.
func DefaultDialect() Dialect {
	return Dialect{
		fieldsTerminatedBy: '\t',
		fieldsEnclosedBy:   0,
		fieldsEscapedBy:    '\\',
		linesTerminatedBy:  '\n',
	}
}

func parseParam(name, value string, allowed []string) (byte, error) {
	if value == "" {
		return 0, fmt.Errorf("csv: value of parameter %q is empty", name)
	}
	found := false
	for _, a := range allowed {
		if a == value {
			found = true
			break
		}
	}
	if !found {
		return 0, fmt.Errorf("csv: value %q of parameter %q is not allowed", value, name)
	}
	ch, ok := inTranslation[value]
	if !ok {
		return 0, fmt.Errorf("csv: value %q of parameter %q is not supported by the parser", value, name)
	}
	return ch, nil
}

// NewDialect validates a wire-level CsvDialectInput against the closed
// sets above and builds a Dialect from it.
func NewDialect(input types.CsvDialectInput) (Dialect, error) {
	fieldsTerminatedBy, err := parseParam("fieldsTerminatedBy", input.FieldsTerminatedBy, AllowedFieldsTerminatedBy)
	if err != nil {
		return Dialect{}, err
	}
	fieldsEnclosedBy, err := parseParam("fieldsEnclosedBy", input.FieldsEnclosedBy, AllowedFieldsEnclosedBy)
	if err != nil {
		return Dialect{}, err
	}
	fieldsEscapedBy, err := parseParam("fieldsEscapedBy", input.FieldsEscapedBy, AllowedFieldsEscapedBy)
	if err != nil {
		return Dialect{}, err
	}
	linesTerminatedBy, err := parseParam("linesTerminatedBy", input.LinesTerminatedBy, AllowedLinesTerminatedBy)
	if err != nil {
		return Dialect{}, err
	}
	return Dialect{
		fieldsTerminatedBy: fieldsTerminatedBy,
		fieldsEnclosedBy:   fieldsEnclosedBy,
		fieldsEscapedBy:    fieldsEscapedBy,
		linesTerminatedBy:  linesTerminatedBy,
	}, nil
}

// SQLOptions renders the dialect as a MySQL LOAD DATA INFILE options
// clause.
func (d Dialect) SQLOptions() string {
	opt := fmt.Sprintf("FIELDS TERMINATED BY '%s'", outTranslation[d.fieldsTerminatedBy])
	if d.fieldsEnclosedBy != 0 {
		opt += fmt.Sprintf(" ENCLOSED BY '%s'", outTranslation[d.fieldsEnclosedBy])
	}
	opt += fmt.Sprintf(" ESCAPED BY '%s'", outTranslation[d.fieldsEscapedBy])
	opt += fmt.Sprintf(" LINES TERMINATED BY '%s'", outTranslation[d.linesTerminatedBy])
	return opt
}
