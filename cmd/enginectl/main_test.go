package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	root := buildRootCmd()
	want := []string{"serve", "inspect", "respond-interrupt"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("root command missing subcommand %q", name)
		}
	}
}

func TestBuildRootCmdRegistersConfigAndAgentsFlags(t *testing.T) {
	root := buildRootCmd()
	for _, name := range []string{"config", "agents"} {
		if root.PersistentFlags().Lookup(name) == nil {
			t.Errorf("root command missing persistent flag %q", name)
		}
	}
}
