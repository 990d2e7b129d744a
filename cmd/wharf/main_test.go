package main

import (
	"context"
	"errors"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
)

func TestMain(m *testing.M) {
	testscript.Main(m, map[string]func(){
		"wharf": main,
	})
}

func TestScripts(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: "testdata/script",
		Setup: func(env *testscript.Env) error {
			env.Setenv("HOME", env.WorkDir)
			return nil
		},
	})
}

func TestRootCommandName(t *testing.T) {
	if rootCmd.Use != "wharf" {
		t.Fatalf("expected root command name wharf, got %q", rootCmd.Use)
	}
}

func TestExitWith(t *testing.T) {
	if err := exitWith(0); err != nil {
		t.Errorf("expected nil for status 0, got %v", err)
	}
	err := exitWith(1)
	if err == nil || err.(*exitError).ExitCode() != 1 {
		t.Errorf("expected exit status 1, got %v", err)
	}
}

func TestFinish(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name     string
		ctx      context.Context
		runErr   error
		code     int
		wantCode int
		wantErr  string
	}{
		{name: "success", ctx: context.Background()},
		{name: "report failure", ctx: context.Background(), code: 1, wantCode: 1},
		{name: "executor error is returned", ctx: context.Background(), runErr: errors.New("nil step"), wantErr: "nil step"},
		{name: "cancelled run", ctx: cancelled, runErr: context.Canceled, code: 1, wantCode: 130},
		{name: "cancelled without error", ctx: cancelled, wantCode: 130},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := finish(tt.ctx, tt.runErr, tt.code)
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Fatalf("expected error %q, got %v", tt.wantErr, err)
				}
				return
			}
			if tt.wantCode == 0 {
				if err != nil {
					t.Fatalf("expected nil, got %v", err)
				}
				return
			}
			var exit *exitError
			if !errors.As(err, &exit) || exit.ExitCode() != tt.wantCode {
				t.Errorf("expected exit status %d, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestOrDash(t *testing.T) {
	if orDash("") != "-" || orDash("core") != "core" {
		t.Error("unexpected orDash result")
	}
}
