package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func resetObjectFlags() {
	bucketFlag, keyFlag, uriFlag = "", "", ""
}

func TestObjectEvent(t *testing.T) {
	defer resetObjectFlags()
	appConfig.ProjectID = "analytics"
	defer func() { appConfig.ProjectID = "" }()

	tests := []struct {
		name              string
		bucket, key, uri  string
		wantBucket, wantK string
		wantErr           bool
	}{
		{name: "flags", bucket: "incoming", key: "a/b.json", wantBucket: "incoming", wantK: "a/b.json"},
		{name: "uri", uri: "s3://incoming/2026/03/events.json", wantBucket: "incoming", wantK: "2026/03/events.json"},
		{name: "uri wins", bucket: "other", key: "x", uri: "s3://incoming/y.json", wantBucket: "incoming", wantK: "y.json"},
		{name: "uri without key", uri: "s3://incoming", wantErr: true},
		{name: "not s3", uri: "gs://incoming/a.json", wantErr: true},
		{name: "missing", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucketFlag, keyFlag, uriFlag = tt.bucket, tt.key, tt.uri
			ev, err := objectEvent()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", ev)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.Bucket != tt.wantBucket || ev.Name != tt.wantK || ev.ProjectID != "analytics" {
				t.Errorf("unexpected event %+v", ev)
			}
		})
	}
}

func TestConfirm_YesFlag(t *testing.T) {
	cmd := &cobra.Command{}
	var errOut bytes.Buffer
	cmd.SetIn(strings.NewReader("n\n"))
	cmd.SetErr(&errOut)

	if confirm(cmd, "Drop table raw.events?") {
		t.Error("expected no from input")
	}
	yesFlag = true
	defer func() { yesFlag = false }()
	if !confirm(cmd, "Drop table raw.events?") {
		t.Error("expected --yes to skip the prompt")
	}
}

func TestRender(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	v := map[string]string{"id": "j-1"}
	if err := render(cmd, v, []string{"id"}, [][]string{{"j-1"}}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "ID") {
		t.Errorf("expected table output, got %q", out.String())
	}

	out.Reset()
	jsonFlag = true
	defer func() { jsonFlag = false }()
	if err := render(cmd, v, []string{"id"}, [][]string{{"j-1"}}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"id": "j-1"`) {
		t.Errorf("expected JSON output, got %q", out.String())
	}
}

func TestCommandTree(t *testing.T) {
	want := []string{
		"cluster create", "cluster list", "cluster get", "cluster delete", "cluster resize",
		"job submit", "job get", "job list", "job cancel",
		"warehouse create-dataset", "warehouse create-table", "warehouse get-table",
		"warehouse update-schema", "warehouse delete-table", "warehouse load", "warehouse query",
		"storage get", "storage put", "storage check",
		"runs list", "runs get",
		"process", "invoke",
	}
	for _, path := range want {
		cmd, _, err := rootCmd.Find(strings.Fields(path))
		if err != nil || cmd.Name() != strings.Fields(path)[len(strings.Fields(path))-1] {
			t.Errorf("command %q not registered", path)
		}
	}
}
