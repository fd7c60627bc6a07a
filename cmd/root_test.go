package cmd

import (
	"testing"

	"github.com/personasync/apiserver/config"
)

func TestRequireDurableKV(t *testing.T) {
	tests := []struct {
		backend string
		wantErr bool
	}{
		{backend: "", wantErr: true},
		{backend: "memory", wantErr: true},
		{backend: "postgres", wantErr: false},
		{backend: "redis", wantErr: false},
	}
	for _, tt := range tests {
		err := requireDurableKV(config.Config{KVBackend: tt.backend})
		if (err != nil) != tt.wantErr {
			t.Fatalf("requireDurableKV(%q) err = %v, wantErr %v", tt.backend, err, tt.wantErr)
		}
	}
}

func TestUserCommandsRefuseMemoryBackend(t *testing.T) {
	t.Setenv("KV_BACKEND", "memory")
	t.Setenv("ENV", "prod")

	rootCmd.SetArgs([]string{"user", "get", "alice"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatalf("expected user get to fail on the memory backend")
	}
	rootCmd.SetArgs([]string{"export"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatalf("expected export to fail on the memory backend")
	}
}

func TestUserCreateFlags(t *testing.T) {
	flags := userCreateCmd.Flags()
	for _, name := range []string{"first-name", "last-name", "email", "age", "gender", "location", "bio", "goal", "visibility"} {
		if flags.Lookup(name) == nil {
			t.Fatalf("missing --%s flag", name)
		}
	}
	if err := flags.Parse([]string{"--goal", "openness,focus", "--goal", "calm"}); err != nil {
		t.Fatalf("parse goals: %v", err)
	}
	want := []string{"openness", "focus", "calm"}
	if len(newUser.PersonalityGoals) != len(want) {
		t.Fatalf("goals = %v, want %v", newUser.PersonalityGoals, want)
	}
	for i := range want {
		if newUser.PersonalityGoals[i] != want[i] {
			t.Fatalf("goals = %v, want %v", newUser.PersonalityGoals, want)
		}
	}
}
