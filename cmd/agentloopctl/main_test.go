package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	if !names["run"] {
		t.Fatalf("expected \"run\" subcommand to be registered")
	}
}

func TestHandleSlashCommandQuit(t *testing.T) {
	if !handleSlashCommand(nil, nil, "/quit") {
		t.Fatalf("expected /quit to signal exit")
	}
	if !handleSlashCommand(nil, nil, "/exit") {
		t.Fatalf("expected /exit to signal exit")
	}
}

func TestHandleSlashCommandUnknownDoesNotExit(t *testing.T) {
	if handleSlashCommand(nil, nil, "/bogus") {
		t.Fatalf("unknown command should not signal exit")
	}
}
