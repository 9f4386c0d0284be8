package main

import (
	"reflect"
	"testing"
)

func TestApplyArgv0Alias(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "plain binary untouched",
			args: []string{"/usr/local/bin/adjutant", "serve"},
			want: []string{"/usr/local/bin/adjutant", "serve"},
		},
		{
			name: "agent symlink inserts subcommand",
			args: []string{"/usr/local/bin/adjutant-agent", "--scenario", "echo", "-"},
			want: []string{"/usr/local/bin/adjutant-agent", "agent-mock", "--scenario", "echo", "-"},
		},
		{
			name: "mock symlink inserts subcommand",
			args: []string{"agent-mock", "-"},
			want: []string{"agent-mock", "agent-mock", "-"},
		},
		{
			name: "empty argv",
			args: nil,
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := applyArgv0Alias(tc.args)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("applyArgv0Alias(%v) = %v, want %v", tc.args, got, tc.want)
			}
		})
	}
}

func TestRootCmdRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"serve", "agent-mock", "users", "tasks", "browse", "config", "version"}
	for _, name := range want {
		found := false
		for _, cmd := range root.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing subcommand %s", name)
		}
	}
}

func TestIsAgentMockInvocation(t *testing.T) {
	if !isAgentMockInvocation([]string{"adjutant", "agent-mock", "-"}) {
		t.Fatalf("agent-mock invocation not detected")
	}
	if isAgentMockInvocation([]string{"adjutant", "serve"}) {
		t.Fatalf("serve misdetected as agent-mock")
	}
}
