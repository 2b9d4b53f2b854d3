package main

import (
	"bytes"
	"errors"
	"flag"
	"strings"
	"testing"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	err    error
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunRegister() error           { m.called["RunRegister"] = true; return m.err }
func (m *mockApp) RunICP() error                { m.called["RunICP"] = true; return m.err }
func (m *mockApp) RunAverage() error            { m.called["RunAverage"] = true; return m.err }
func (m *mockApp) RunCompare() error            { m.called["RunCompare"] = true; return m.err }
func (m *mockApp) RunRender() error             { m.called["RunRender"] = true; return m.err }
func (m *mockApp) RunService() error            { m.called["RunService"] = true; return m.err }

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Register",
			args:           []string{"--register", "--model", "m.txt", "--data", "d.txt", "--method", "lm"},
			expectedCalled: "RunRegister",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Model != "m.txt" || opts.Data != "d.txt" {
					t.Errorf("expected model m.txt and data d.txt, got %s and %s", opts.Model, opts.Data)
				}
				if opts.Method != "lm" {
					t.Errorf("expected Method lm, got %s", opts.Method)
				}
			},
		},
		{
			name:           "RegisterDefaultMethod",
			args:           []string{"--register"},
			expectedCalled: "RunRegister",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Method != "closed" {
					t.Errorf("expected Method closed, got %s", opts.Method)
				}
			},
		},
		{
			name:           "ICP",
			args:           []string{"--icp", "--initial", "start.trf", "--output", "out.trf", "--overwrite"},
			expectedCalled: "RunICP",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Initial != "start.trf" {
					t.Errorf("expected Initial start.trf, got %s", opts.Initial)
				}
				if opts.Output != "out.trf" || !opts.Overwrite {
					t.Errorf("expected Output out.trf with overwrite, got %s/%v", opts.Output, opts.Overwrite)
				}
			},
		},
		{
			name:           "Average",
			args:           []string{"--average", "list.txt", "--policy", "cubic"},
			expectedCalled: "RunAverage",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Average != "list.txt" {
					t.Errorf("expected Average list.txt, got %s", opts.Average)
				}
				if opts.Policy != "cubic" {
					t.Errorf("expected Policy cubic, got %s", opts.Policy)
				}
			},
		},
		{
			name:           "Compare",
			args:           []string{"--compare", "a.trf,b.trf"},
			expectedCalled: "RunCompare",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Compare != "a.trf,b.trf" {
					t.Errorf("expected Compare a.trf,b.trf, got %s", opts.Compare)
				}
			},
		},
		{
			name:           "Render",
			args:           []string{"--render", "out.svg", "--plane", "xz"},
			expectedCalled: "RunRender",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Render != "out.svg" {
					t.Errorf("expected Render out.svg, got %s", opts.Render)
				}
				if opts.Plane != "xz" {
					t.Errorf("expected Plane xz, got %s", opts.Plane)
				}
			},
		},
		{
			name:           "MqttMode",
			args:           []string{"--mqtt", "--http-port", "9090", "--history", "h.db"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.MqttMode {
					t.Error("expected MqttMode true")
				}
				if opts.HttpPort != 9090 {
					t.Errorf("expected HttpPort 9090, got %d", opts.HttpPort)
				}
				if opts.History != "h.db" {
					t.Errorf("expected History h.db, got %s", opts.History)
				}
			},
		},
		{
			name:           "HttpMode",
			args:           []string{"--http", "--config", "tracker.yaml"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.HttpMode {
					t.Error("expected HttpMode true")
				}
				if opts.ConfigFile != "tracker.yaml" {
					t.Errorf("expected ConfigFile tracker.yaml, got %s", opts.ConfigFile)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}
			if len(app.called) != 1 {
				t.Errorf("expected exactly one mode, got %v", app.called)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_ModeError(t *testing.T) {
	app := newMockApp()
	app.err = errors.New("boom")
	var out bytes.Buffer
	if err := run([]string{"--icp"}, &out, app); err != app.err {
		t.Errorf("expected mode error to be returned, got %v", err)
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--help"}, &out, app)
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("expected flag.ErrHelp from --help, got %v", err)
	}
	if !strings.Contains(out.String(), "Usage of rigidreg") {
		t.Errorf("expected usage info in output, got: %s", out.String())
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"--no-such-flag"}, &out, newMockApp()); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{}, &out, app)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedPrefix := "rigidreg version: " + Version
	if !strings.Contains(out.String(), expectedPrefix) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "-icp") {
		t.Errorf("expected usage hints, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("expected no mode to run, got %v", app.called)
	}
}

func TestMain_Execute(t *testing.T) {
	// Smoke test to ensure version is set
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
