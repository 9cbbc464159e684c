package main

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestKindArg(t *testing.T) {
	cmd := &cobra.Command{}
	tests := []struct {
		args    []string
		wantErr bool
	}{
		{[]string{"classes"}, false},
		{[]string{"books"}, false},
		{[]string{"rules"}, true},
		{nil, true},
		{[]string{"classes", "books"}, true},
	}
	for _, tt := range tests {
		if err := kindArg(cmd, tt.args); (err != nil) != tt.wantErr {
			t.Errorf("kindArg(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
		}
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	want := map[string]bool{}
	for _, c := range []*cobra.Command{
		getCmd(), setCmd(), setDefaultsCmd(), sendCmd(), sendAllCmd(), watchCmd(), configCmd(), passwordCmd(), versionCmd(),
	} {
		want[c.Name()] = true
	}
	for _, name := range []string{"get", "set", "set-defaults", "send", "send-all", "watch", "config", "password", "version"} {
		if !want[name] {
			t.Errorf("missing command %q", name)
		}
	}
	if f := setCmd().Flags().Lookup("file"); f == nil {
		t.Error("set should take --file")
	}

	subs := map[string]bool{}
	for _, parent := range []*cobra.Command{configCmd(), passwordCmd()} {
		for _, c := range parent.Commands() {
			subs[parent.Name()+" "+c.Name()] = true
		}
	}
	for _, name := range []string{"config init", "config check", "config show", "password set", "password delete"} {
		if !subs[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestReadPassword(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"hunter2\n", "hunter2", false},
		{"hunter2\r\nignored\n", "hunter2", false},
		{"no-newline", "no-newline", false},
		{"\n", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := readPassword(strings.NewReader(tt.in))
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("readPassword(%q) = %q, %v", tt.in, got, err)
		}
	}
}
