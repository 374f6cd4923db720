package warehouse

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"
	rstypes "github.com/aws/aws-sdk-go-v2/service/redshiftdata/types"
)

// fakeData implements API. Each statement walks through statuses in order;
// the last status repeats.
type fakeData struct {
	statuses  []rstypes.StatusString
	errMsg    string
	execErr   error
	columns   []rstypes.ColumnMetadata
	records   [][]rstypes.Field
	hasResult bool

	sqls      []string
	batches   [][]string
	inputs    []*redshiftdata.ExecuteStatementInput
	describes int
}

func (f *fakeData) ExecuteStatement(ctx context.Context, in *redshiftdata.ExecuteStatementInput, _ ...func(*redshiftdata.Options)) (*redshiftdata.ExecuteStatementOutput, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	f.sqls = append(f.sqls, aws.ToString(in.Sql))
	f.inputs = append(f.inputs, in)
	f.describes = 0
	return &redshiftdata.ExecuteStatementOutput{Id: aws.String("stmt-1")}, nil
}

func (f *fakeData) BatchExecuteStatement(ctx context.Context, in *redshiftdata.BatchExecuteStatementInput, _ ...func(*redshiftdata.Options)) (*redshiftdata.BatchExecuteStatementOutput, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	f.batches = append(f.batches, in.Sqls)
	f.describes = 0
	return &redshiftdata.BatchExecuteStatementOutput{Id: aws.String("batch-1")}, nil
}

func (f *fakeData) DescribeStatement(ctx context.Context, in *redshiftdata.DescribeStatementInput, _ ...func(*redshiftdata.Options)) (*redshiftdata.DescribeStatementOutput, error) {
	status := rstypes.StatusStringFinished
	if len(f.statuses) > 0 {
		status = f.statuses[min(f.describes, len(f.statuses)-1)]
	}
	f.describes++
	out := &redshiftdata.DescribeStatementOutput{
		Id:           in.Id,
		Status:       status,
		HasResultSet: aws.Bool(f.hasResult),
		ResultRows:   42,
	}
	if f.errMsg != "" {
		out.Error = aws.String(f.errMsg)
	}
	return out, nil
}

func (f *fakeData) GetStatementResult(ctx context.Context, in *redshiftdata.GetStatementResultInput, _ ...func(*redshiftdata.Options)) (*redshiftdata.GetStatementResultOutput, error) {
	return &redshiftdata.GetStatementResultOutput{ColumnMetadata: f.columns, Records: f.records}, nil
}

func (f *fakeData) DescribeTable(ctx context.Context, in *redshiftdata.DescribeTableInput, _ ...func(*redshiftdata.Options)) (*redshiftdata.DescribeTableOutput, error) {
	return &redshiftdata.DescribeTableOutput{ColumnList: f.columns, TableName: in.Table}, nil
}

func newTestClient(t *testing.T, api *fakeData) *Client {
	t.Helper()
	c, err := NewClient(api, Config{
		WorkgroupName: "analytics",
		Database:      "dev",
		PollInitial:   time.Millisecond,
		PollMax:       2 * time.Millisecond,
		MaxWait:       time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"workgroup", Config{WorkgroupName: "wg", Database: "dev"}, false},
		{"cluster", Config{ClusterID: "rs-1", Database: "dev", DBUser: "etl"}, false},
		{"no endpoint", Config{Database: "dev"}, true},
		{"both endpoints", Config{WorkgroupName: "wg", ClusterID: "rs-1", Database: "dev"}, true},
		{"no database", Config{WorkgroupName: "wg"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := QuoteIdent(`events`); got != `"events"` {
		t.Errorf("unexpected %s", got)
	}
	if got := QuoteIdent(`bad"; DROP TABLE x; --`); got != `"bad""; DROP TABLE x; --"` {
		t.Errorf("embedded quote not escaped: %s", got)
	}
}

func TestFieldRedshiftType(t *testing.T) {
	tests := []struct {
		field   Field
		want    string
		wantErr bool
	}{
		{Field{Name: "a", Type: "STRING"}, "VARCHAR(65535)", false},
		{Field{Name: "a", Type: "integer"}, "BIGINT", false},
		{Field{Name: "a", Type: "FLOAT64"}, "DOUBLE PRECISION", false},
		{Field{Name: "a", Type: "timestamp"}, "TIMESTAMPTZ", false},
		{Field{Name: "a", Type: "varchar(256)"}, "VARCHAR(256)", false},
		{Field{Name: "a", Type: "DECIMAL(10,2)"}, "DECIMAL(10,2)", false},
		{Field{Name: "a", Type: "STRING", Mode: "REPEATED"}, "SUPER", false},
		{Field{Name: "a", Type: "GEOGRAPHY"}, "", true},
		{Field{Name: "a", Type: "INT; DROP TABLE x"}, "", true},
	}
	for _, tt := range tests {
		got, err := tt.field.RedshiftType()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: error = %v, wantErr %v", tt.field.Type, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.field.Type, got, tt.want)
		}
		if err != nil && !errors.Is(err, ErrInvalidSchema) {
			t.Errorf("%s: expected ErrInvalidSchema, got %v", tt.field.Type, err)
		}
	}
}

func TestSchemaValidate(t *testing.T) {
	if err := (Schema{}).Validate(); !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("expected error for empty schema, got %v", err)
	}
	dup := Schema{{Name: "id", Type: "INTEGER"}, {Name: "ID", Type: "STRING"}}
	if err := dup.Validate(); !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("expected error for duplicate column, got %v", err)
	}
	badMode := Schema{{Name: "id", Type: "INTEGER", Mode: "OPTIONAL"}}
	if err := badMode.Validate(); !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("expected error for unknown mode, got %v", err)
	}
}

func TestCreateTableSQL(t *testing.T) {
	sql, err := CreateTableSQL("raw", "events", Schema{
		{Name: "id", Type: "INTEGER", Mode: "REQUIRED"},
		{Name: "payload", Type: "JSON"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `CREATE TABLE IF NOT EXISTS "raw"."events" ("id" BIGINT NOT NULL, "payload" SUPER)`
	if sql != want {
		t.Errorf("got  %s\nwant %s", sql, want)
	}
}

func TestAddColumnSQL(t *testing.T) {
	sql, err := AddColumnSQL("raw", "events", Field{Name: "source", Type: "STRING"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sql != `ALTER TABLE "raw"."events" ADD COLUMN "source" VARCHAR(65535)` {
		t.Errorf("unexpected %s", sql)
	}
	if _, err := AddColumnSQL("raw", "events", Field{Name: "x", Type: "STRING", Mode: "REQUIRED"}); !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("expected REQUIRED to be rejected, got %v", err)
	}
}

func TestCopySQL(t *testing.T) {
	tests := []struct {
		name        string
		columns     []string
		autodetect  bool
		compression string
		role        string
		want        string
	}{
		{
			name:       "autodetect default role",
			autodetect: true,
			want:       `COPY "raw"."events" FROM 's3://in/a.json' IAM_ROLE default FORMAT AS JSON 'auto ignorecase' TIMEFORMAT 'auto'`,
		},
		{
			name:        "columns gzip with role",
			columns:     []string{"id", "name"},
			compression: "gzip",
			role:        "arn:aws:iam::123456789012:role/copy",
			want:        `COPY "raw"."events" ("id", "name") FROM 's3://in/a.json' IAM_ROLE 'arn:aws:iam::123456789012:role/copy' FORMAT AS JSON 'auto' GZIP TIMEFORMAT 'auto'`,
		},
		{
			name:        "autodetect ignores columns",
			columns:     []string{"id"},
			autodetect:  true,
			compression: "zstd",
			want:        `COPY "raw"."events" FROM 's3://in/a.json' IAM_ROLE default FORMAT AS JSON 'auto ignorecase' ZSTD TIMEFORMAT 'auto'`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CopySQL("raw", "events", "s3://in/a.json", tt.columns, tt.autodetect, tt.compression, tt.role)
			if got != tt.want {
				t.Errorf("got  %s\nwant %s", got, tt.want)
			}
		})
	}

	if got := CopySQL("raw", "events", "s3://in/it's.json", nil, true, "", ""); !strings.Contains(got, `'s3://in/it''s.json'`) {
		t.Errorf("source literal not escaped: %s", got)
	}
}

func TestLoadSchemaFile(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "list.yaml")
	os.WriteFile(list, []byte("- name: id\n  type: INTEGER\n  mode: REQUIRED\n- name: body\n  type: STRING\n"), 0o644)
	wrapped := filepath.Join(dir, "wrapped.json")
	os.WriteFile(wrapped, []byte(`{"fields": [{"name": "id", "type": "INT64"}]}`), 0o644)
	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("- name: id\n  type: BLOB\n"), 0o644)

	s, err := LoadSchemaFile(list)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s) != 2 || s[0].Mode != "REQUIRED" || s[1].Name != "body" {
		t.Errorf("unexpected schema %+v", s)
	}

	s, err = LoadSchemaFile(wrapped)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s) != 1 || s[0].Type != "INT64" {
		t.Errorf("unexpected schema %+v", s)
	}

	if _, err := LoadSchemaFile(bad); !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("expected ErrInvalidSchema, got %v", err)
	}
	if _, err := LoadSchemaFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadData_Autodetect(t *testing.T) {
	api := &fakeData{statuses: []rstypes.StatusString{rstypes.StatusStringSubmitted, rstypes.StatusStringStarted, rstypes.StatusStringFinished}}
	c := newTestClient(t, api)

	res, err := c.LoadData(context.Background(), LoadRequest{
		Dataset:    "raw",
		Table:      "events",
		SourceURI:  "s3://in/a.json",
		Autodetect: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StatementID != "stmt-1" || res.Rows != 42 {
		t.Errorf("unexpected result %+v", res)
	}
	if api.describes != 3 {
		t.Errorf("expected 3 polls, got %d", api.describes)
	}
	if len(api.sqls) != 1 || !strings.HasPrefix(api.sqls[0], `COPY "raw"."events" FROM`) {
		t.Errorf("unexpected statements %v", api.sqls)
	}
	in := api.inputs[0]
	if aws.ToString(in.WorkgroupName) != "analytics" || in.ClusterIdentifier != nil || aws.ToString(in.Database) != "dev" {
		t.Errorf("unexpected endpoint on input %+v", in)
	}
}

func TestLoadData_WithSchemaCreatesTable(t *testing.T) {
	api := &fakeData{}
	c := newTestClient(t, api)

	_, err := c.LoadData(context.Background(), LoadRequest{
		Dataset:     "raw",
		Table:       "events",
		SourceURI:   "s3://in/a.json.gz",
		Schema:      Schema{{Name: "id", Type: "INTEGER"}},
		Compression: "gzip",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.batches) != 1 || len(api.batches[0]) != 2 {
		t.Fatalf("expected one two-statement batch, got %v", api.batches)
	}
	if !strings.HasPrefix(api.batches[0][0], "CREATE TABLE IF NOT EXISTS") {
		t.Errorf("first statement should create the table: %s", api.batches[0][0])
	}
	if !strings.Contains(api.batches[0][1], `("id")`) || !strings.HasSuffix(api.batches[0][1], "GZIP TIMEFORMAT 'auto'") {
		t.Errorf("unexpected copy statement: %s", api.batches[0][1])
	}
}

func TestLoadData_StatementFails(t *testing.T) {
	api := &fakeData{
		statuses: []rstypes.StatusString{rstypes.StatusStringStarted, rstypes.StatusStringFailed},
		errMsg:   "Load into table 'events' failed. Check 'sys_load_error_detail' system table for details.",
	}
	res, err := newTestClient(t, api).LoadData(context.Background(), LoadRequest{Dataset: "raw", Table: "events", SourceURI: "s3://in/a.json"})

	var stmtErr *StatementError
	if !errors.As(err, &stmtErr) {
		t.Fatalf("expected StatementError, got %v", err)
	}
	if stmtErr.Status != "FAILED" || !strings.Contains(stmtErr.Msg, "sys_load_error_detail") {
		t.Errorf("unexpected statement error %+v", stmtErr)
	}
	if res == nil || res.StatementID != "stmt-1" {
		t.Errorf("expected result with statement ID, got %+v", res)
	}
}

func TestLoadData_Aborted(t *testing.T) {
	api := &fakeData{statuses: []rstypes.StatusString{rstypes.StatusStringAborted}}
	_, err := newTestClient(t, api).LoadData(context.Background(), LoadRequest{Dataset: "raw", Table: "events", SourceURI: "s3://in/a.json"})
	var stmtErr *StatementError
	if !errors.As(err, &stmtErr) || stmtErr.Status != "ABORTED" {
		t.Errorf("expected ABORTED StatementError, got %v", err)
	}
}

func TestLoadData_Timeout(t *testing.T) {
	api := &fakeData{statuses: []rstypes.StatusString{rstypes.StatusStringStarted}}
	c, _ := NewClient(api, Config{
		WorkgroupName: "analytics",
		Database:      "dev",
		PollInitial:   time.Millisecond,
		PollMax:       time.Millisecond,
		MaxWait:       20 * time.Millisecond,
	})
	_, err := c.LoadData(context.Background(), LoadRequest{Dataset: "raw", Table: "events", SourceURI: "s3://in/a.json"})
	if err == nil || !strings.Contains(err.Error(), "did not finish") {
		t.Errorf("expected timeout error, got %v", err)
	}
}

func TestLoadData_SubmitError(t *testing.T) {
	submitErr := errors.New("ValidationException")
	res, err := newTestClient(t, &fakeData{execErr: submitErr}).LoadData(context.Background(), LoadRequest{Dataset: "raw", Table: "events", SourceURI: "s3://in/a.json"})
	if !errors.Is(err, submitErr) {
		t.Errorf("expected wrapped submit error, got %v", err)
	}
	if res != nil {
		t.Errorf("expected no result, got %+v", res)
	}
}

func TestLoadData_InvalidRequest(t *testing.T) {
	api := &fakeData{}
	c := newTestClient(t, api)
	for _, req := range []LoadRequest{
		{Table: "events", SourceURI: "s3://in/a.json"},
		{Dataset: "raw", SourceURI: "s3://in/a.json"},
		{Dataset: "raw", Table: "events", SourceURI: "/tmp/a.json"},
	} {
		if _, err := c.LoadData(context.Background(), req); err == nil {
			t.Errorf("expected error for %+v", req)
		}
	}
	if len(api.sqls) != 0 {
		t.Errorf("no statement should run for invalid requests, got %v", api.sqls)
	}
}

func TestUpdateSchema_AddsMissingColumns(t *testing.T) {
	api := &fakeData{columns: []rstypes.ColumnMetadata{
		{Name: aws.String("id"), TypeName: aws.String("int8"), Nullable: 0},
		{Name: aws.String("body"), TypeName: aws.String("varchar"), Nullable: 1},
	}}
	c := newTestClient(t, api)

	added, err := c.UpdateSchema(context.Background(), "raw", "events", Schema{
		{Name: "ID", Type: "INTEGER"},
		{Name: "source", Type: "STRING"},
		{Name: "score", Type: "FLOAT"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(added) != 2 || added[0] != "source" || added[1] != "score" {
		t.Errorf("unexpected added columns %v", added)
	}
	if len(api.sqls) != 2 || !strings.Contains(api.sqls[1], `ADD COLUMN "score" DOUBLE PRECISION`) {
		t.Errorf("unexpected statements %v", api.sqls)
	}
}

func TestGetTable(t *testing.T) {
	api := &fakeData{columns: []rstypes.ColumnMetadata{
		{Name: aws.String("id"), TypeName: aws.String("int8"), Nullable: 0},
	}}
	tbl, err := newTestClient(t, api).GetTable(context.Background(), "raw", "events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tbl.Columns) != 1 || tbl.Columns[0].Nullable || tbl.Columns[0].Type != "int8" {
		t.Errorf("unexpected table %+v", tbl)
	}

	api.columns = nil
	if _, err := newTestClient(t, api).GetTable(context.Background(), "raw", "missing"); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("expected ErrTableNotFound, got %v", err)
	}
}

func TestCreateAndDelete(t *testing.T) {
	api := &fakeData{}
	c := newTestClient(t, api)
	ctx := context.Background()

	if err := c.CreateDataset(ctx, "raw"); err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	if err := c.CreateTable(ctx, "raw", "events", Schema{{Name: "id", Type: "INTEGER"}}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := c.DeleteTable(ctx, "raw", "events"); err != nil {
		t.Fatalf("DeleteTable: %v", err)
	}
	want := []string{
		`CREATE SCHEMA IF NOT EXISTS "raw"`,
		`CREATE TABLE IF NOT EXISTS "raw"."events" ("id" BIGINT)`,
		`DROP TABLE IF EXISTS "raw"."events"`,
	}
	for i, sql := range want {
		if api.sqls[i] != sql {
			t.Errorf("statement %d: got %s, want %s", i, api.sqls[i], sql)
		}
	}
}

func TestQuery(t *testing.T) {
	api := &fakeData{
		hasResult: true,
		columns: []rstypes.ColumnMetadata{
			{Name: aws.String("id")}, {Name: aws.String("name")}, {Name: aws.String("deleted")},
		},
		records: [][]rstypes.Field{
			{&rstypes.FieldMemberLongValue{Value: 1}, &rstypes.FieldMemberStringValue{Value: "a"}, &rstypes.FieldMemberIsNull{Value: true}},
			{&rstypes.FieldMemberLongValue{Value: 2}, &rstypes.FieldMemberStringValue{Value: "b"}, &rstypes.FieldMemberBooleanValue{Value: true}},
		},
	}
	res, err := newTestClient(t, api).Query(context.Background(), "SELECT id, name, deleted FROM raw.events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Columns) != 3 || res.Columns[1] != "name" {
		t.Errorf("unexpected columns %v", res.Columns)
	}
	if len(res.Rows) != 2 || res.Rows[0][0] != int64(1) || res.Rows[0][2] != nil || res.Rows[1][2] != true {
		t.Errorf("unexpected rows %v", res.Rows)
	}
}
