package warehouse

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Column modes. REPEATED has no Redshift equivalent and maps to SUPER.
const (
	ModeNullable = "NULLABLE"
	ModeRequired = "REQUIRED"
	ModeRepeated = "REPEATED"
)

// Field is one column of a table schema.
type Field struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
	Mode string `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// Schema is an ordered list of columns.
type Schema []Field

// ErrInvalidSchema wraps every schema validation failure.
var ErrInvalidSchema = errors.New("invalid schema")

// typeAliases maps accepted type names (Redshift names and the common
// BigQuery-style aliases) to the Redshift type used in DDL.
var typeAliases = map[string]string{
	"STRING":           "VARCHAR(65535)",
	"VARCHAR":          "VARCHAR(65535)",
	"TEXT":             "VARCHAR(65535)",
	"INTEGER":          "BIGINT",
	"INT64":            "BIGINT",
	"BIGINT":           "BIGINT",
	"INT":              "INTEGER",
	"SMALLINT":         "SMALLINT",
	"FLOAT":            "DOUBLE PRECISION",
	"FLOAT64":          "DOUBLE PRECISION",
	"DOUBLE PRECISION": "DOUBLE PRECISION",
	"REAL":             "REAL",
	"NUMERIC":          "DECIMAL(38,9)",
	"DECIMAL":          "DECIMAL(38,9)",
	"BOOLEAN":          "BOOLEAN",
	"BOOL":             "BOOLEAN",
	"DATE":             "DATE",
	"TIMESTAMP":        "TIMESTAMPTZ",
	"TIMESTAMPTZ":      "TIMESTAMPTZ",
	"DATETIME":         "TIMESTAMP",
	"TIME":             "TIME",
	"JSON":             "SUPER",
	"RECORD":           "SUPER",
	"STRUCT":           "SUPER",
	"SUPER":            "SUPER",
}

// sized types pass through with their length or precision.
var sizedType = regexp.MustCompile(`^(VARCHAR|CHAR|DECIMAL|NUMERIC)\(\d+(,\s*\d+)?\)$`)

// RedshiftType returns the DDL type for a field.
func (f Field) RedshiftType() (string, error) {
	if strings.EqualFold(f.Mode, ModeRepeated) {
		return "SUPER", nil
	}
	t := strings.ToUpper(strings.TrimSpace(f.Type))
	if mapped, ok := typeAliases[t]; ok {
		return mapped, nil
	}
	if sizedType.MatchString(t) {
		return t, nil
	}
	return "", fmt.Errorf("%w: column %q has unsupported type %q", ErrInvalidSchema, f.Name, f.Type)
}

// Validate checks names, types and modes.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: no columns", ErrInvalidSchema)
	}
	seen := make(map[string]bool, len(s))
	for _, f := range s {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%w: column with empty name", ErrInvalidSchema)
		}
		key := strings.ToLower(f.Name)
		if seen[key] {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidSchema, f.Name)
		}
		seen[key] = true
		switch strings.ToUpper(f.Mode) {
		case "", ModeNullable, ModeRequired, ModeRepeated:
		default:
			return fmt.Errorf("%w: column %q has unknown mode %q", ErrInvalidSchema, f.Name, f.Mode)
		}
		if _, err := f.RedshiftType(); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// QuoteIdent quotes a Redshift identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QualifiedName returns "dataset"."table".
func QualifiedName(dataset, table string) string {
	return QuoteIdent(dataset) + "." + QuoteIdent(table)
}

func columnDef(f Field) (string, error) {
	t, err := f.RedshiftType()
	if err != nil {
		return "", err
	}
	def := QuoteIdent(f.Name) + " " + t
	if strings.EqualFold(f.Mode, ModeRequired) {
		def += " NOT NULL"
	}
	return def, nil
}

// CreateSchemaSQL creates a dataset.
func CreateSchemaSQL(dataset string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + QuoteIdent(dataset)
}

// CreateTableSQL creates a table with the schema if it does not exist.
func CreateTableSQL(dataset, table string, schema Schema) (string, error) {
	if err := schema.Validate(); err != nil {
		return "", err
	}
	cols := make([]string, len(schema))
	for i, f := range schema {
		def, err := columnDef(f)
		if err != nil {
			return "", err
		}
		cols[i] = def
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", QualifiedName(dataset, table), strings.Join(cols, ", ")), nil
}

// AddColumnSQL appends one column. New columns cannot be NOT NULL without a
// default, so REQUIRED is rejected.
func AddColumnSQL(dataset, table string, f Field) (string, error) {
	if strings.EqualFold(f.Mode, ModeRequired) {
		return "", fmt.Errorf("%w: cannot add REQUIRED column %q to an existing table", ErrInvalidSchema, f.Name)
	}
	def, err := columnDef(f)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", QualifiedName(dataset, table), def), nil
}

// DropTableSQL drops a table.
func DropTableSQL(dataset, table string) string {
	return "DROP TABLE IF EXISTS " + QualifiedName(dataset, table)
}

// CopySQL builds the COPY statement for a JSON load. With autodetect, JSON
// keys are matched to columns case-insensitively; otherwise keys must match
// the listed columns (or all columns when columns is empty).
func CopySQL(dataset, table, sourceURI string, columns []string, autodetect bool, compression, roleARN string) string {
	var b strings.Builder
	b.WriteString("COPY ")
	b.WriteString(QualifiedName(dataset, table))
	if !autodetect && len(columns) > 0 {
		quoted := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = QuoteIdent(c)
		}
		b.WriteString(" (" + strings.Join(quoted, ", ") + ")")
	}
	b.WriteString(" FROM " + quoteLiteral(sourceURI))
	if roleARN != "" {
		b.WriteString(" IAM_ROLE " + quoteLiteral(roleARN))
	} else {
		b.WriteString(" IAM_ROLE default")
	}
	if autodetect {
		b.WriteString(" FORMAT AS JSON 'auto ignorecase'")
	} else {
		b.WriteString(" FORMAT AS JSON 'auto'")
	}
	switch strings.ToLower(compression) {
	case "gzip":
		b.WriteString(" GZIP")
	case "zstd":
		b.WriteString(" ZSTD")
	}
	b.WriteString(" TIMEFORMAT 'auto'")
	return b.String()
}

// LoadSchemaFile reads a schema from a YAML (or JSON) file holding a list of
// fields, or a mapping with a "fields" key.
func LoadSchemaFile(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	var schema Schema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		var wrapped struct {
			Fields Schema `yaml:"fields"`
		}
		if werr := yaml.Unmarshal(data, &wrapped); werr != nil {
			return nil, fmt.Errorf("parse schema file %s: %w", path, err)
		}
		schema = wrapped.Fields
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("schema file %s: %w", path, err)
	}
	return schema, nil
}
