package main

import (
	"errors"
	"testing"

	"github.com/backkem/mapper/pkg/mapper"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		in      string
		want    []any
		wantErr bool
	}{
		{in: "0,1,0,100", want: []any{0.0, 1.0, 0.0, 100.0}},
		{in: ",,3,4", want: []any{nil, nil, 3.0, 4.0}},
		{in: "-, -,-5, 2.5", want: []any{nil, nil, -5.0, 2.5}},
		{in: "1,2,3", wantErr: true},
		{in: "1,2,x,4", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseRange(tt.in)
			if tt.wantErr {
				if !errors.Is(err, mapper.ErrConfig) {
					t.Fatalf("parseRange(%q) error = %v, want ErrConfig", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRange(%q) error = %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseRange(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestMappingFlagsOnlySetOptions(t *testing.T) {
	var f mappingFlags
	cmd := &cobra.Command{Use: "test", Run: func(*cobra.Command, []string) {}}
	f.register(cmd)
	cmd.SetArgs([]string{"--mode", "linear", "--range", ",,3,4", "--muted"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	got, err := f.options(cmd)
	if err != nil {
		t.Fatalf("options() error = %v", err)
	}
	want := map[string]any{
		"mode":  "linear",
		"range": []any{nil, nil, 3.0, 4.0},
		"muted": true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("options() mismatch (-want +got):\n%s", diff)
	}
}

func TestCommandTree(t *testing.T) {
	want := []string{"browse", "connect", "demo", "device", "disconnect", "modify", "monitor"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Find(%q) = %v, %v", name, cmd, err)
		}
	}
}

func TestInterfaces(t *testing.T) {
	if got := interfaces(""); got != nil {
		t.Errorf("interfaces(\"\") = %v, want nil", got)
	}
	if got := interfaces("no-such-interface0"); got != nil {
		t.Errorf("interfaces(unknown) = %v, want nil", got)
	}
}
