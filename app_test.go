package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/rigidreg/geom"
	"github.com/kwv/rigidreg/registration"
	"github.com/kwv/rigidreg/tracker"
)

// toolModel returns a 4x4x4 grid of step 10 centred on the origin
func toolModel() registration.PointList {
	var pl registration.PointList
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			for k := 0; k < 4; k++ {
				pl = append(pl, registration.NewPoint(float64(i)*10-15, float64(j)*10-15, float64(k)*10-15))
			}
		}
	}
	return pl
}

// toolPose is small enough for ICP from identity on toolModel
func toolPose() registration.RigidTransform {
	tr := registration.RotXYZ(1, 2, -2)
	tr.SetTranslation(geom.Vec{X: 0.8, Y: -0.5, Z: 0.3})
	return tr
}

// newTestApp writes model and data files and returns an App reading them
func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()

	model := toolModel()
	data := toolPose().TransformPoints(model)

	app := NewApp()
	app.Model = filepath.Join(dir, "model.txt")
	app.Data = filepath.Join(dir, "data.txt")
	require.NoError(t, registration.SavePointList(app.Model, model, false))
	require.NoError(t, registration.SavePointList(app.Data, data, false))

	var out bytes.Buffer
	app.Out = &out
	return app, &out
}

func assertNearPose(t *testing.T, want, got registration.RigidTransform, tol float64) {
	t.Helper()
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			assert.InDelta(t, want.M[i][j], got.M[i][j], tol, "M[%d][%d]", i, j)
		}
	}
}

func TestNewApp(t *testing.T) {
	app := NewApp()
	require.NotNil(t, app)
	assert.NotNil(t, app.StateTracker)
	assert.Equal(t, os.Stdout, app.Out)
}

func TestApplyOptions(t *testing.T) {
	app := NewApp()
	app.ApplyOptions(AppOptions{
		ConfigFile: "test-config.yaml",
		Method:     "gc",
		Model:      "m.txt",
		Data:       "d.txt",
		Initial:    "i.trf",
		Output:     "o.trf",
		Overwrite:  true,
		Average:    "list.txt",
		Policy:     "log",
		Compare:    "a,b",
		Render:     "out.png",
		Plane:      "yz",
		History:    "h.db",
		HttpPort:   9000,
		MqttMode:   true,
	})

	assert.Equal(t, "test-config.yaml", app.ConfigFile)
	assert.Equal(t, "gc", app.Method)
	assert.Equal(t, "m.txt", app.Model)
	assert.Equal(t, "d.txt", app.Data)
	assert.Equal(t, "i.trf", app.Initial)
	assert.Equal(t, "o.trf", app.Output)
	assert.True(t, app.Overwrite)
	assert.Equal(t, "list.txt", app.Average)
	assert.Equal(t, "log", app.Policy)
	assert.Equal(t, "a,b", app.Compare)
	assert.Equal(t, "out.png", app.Render)
	assert.Equal(t, "yz", app.Plane)
	assert.Equal(t, "h.db", app.HistoryDB)
	assert.Equal(t, 9000, app.HttpPort)
	assert.True(t, app.MqttMode)
	assert.False(t, app.HttpMode)
}

func TestRunRegister(t *testing.T) {
	app, out := newTestApp(t)
	app.Method = "closed"
	app.Output = filepath.Join(t.TempDir(), "result.trf")

	require.NoError(t, app.RunRegister())
	assert.Contains(t, out.String(), "Quality: excellent")
	assert.Contains(t, out.String(), "Saved transform to")

	saved, err := registration.Load(app.Output)
	require.NoError(t, err)
	assertNearPose(t, toolPose(), saved, 1e-6)
	assert.NotZero(t, saved.Date)

	// the output exists now
	err = app.RunRegister()
	assert.ErrorIs(t, err, registration.ErrFileExists)

	app.Overwrite = true
	assert.NoError(t, app.RunRegister())
}

func TestRunRegister_Uncertainty(t *testing.T) {
	app, out := newTestApp(t)
	app.Method = "pow"

	require.NoError(t, app.RunRegister())
	assert.Contains(t, out.String(), "Uncertainty cost (POW)")
}

func TestRunRegister_Errors(t *testing.T) {
	app, _ := newTestApp(t)
	app.Method = "simplex"
	assert.Error(t, app.RunRegister())

	app.Method = "closed"
	app.Data = filepath.Join(t.TempDir(), "missing.txt")
	assert.Error(t, app.RunRegister())

	app.Data = ""
	assert.Error(t, app.RunRegister())
}

func TestRunICP(t *testing.T) {
	app, out := newTestApp(t)
	app.Output = filepath.Join(t.TempDir(), "icp.trf")

	require.NoError(t, app.RunICP())
	assert.Contains(t, out.String(), "converged=true")

	saved, err := registration.Load(app.Output)
	require.NoError(t, err)
	assertNearPose(t, toolPose(), saved, 1e-6)
}

func TestRunICP_InitialTransform(t *testing.T) {
	app, _ := newTestApp(t)

	app.Initial = filepath.Join(t.TempDir(), "missing.trf")
	assert.Error(t, app.RunICP())

	app.Initial = filepath.Join(t.TempDir(), "start.trf")
	require.NoError(t, toolPose().Save(app.Initial, false))
	assert.NoError(t, app.RunICP())
}

func TestRunAverage(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "list.txt")

	a := registration.NewRigidTransform(geom.Identity3(), geom.Vec{})
	b := registration.NewRigidTransform(geom.Identity3(), geom.Vec{X: 2})
	require.NoError(t, registration.SaveList(list, []registration.RigidTransform{a, b}, false))

	var out bytes.Buffer
	app := NewApp()
	app.Out = &out
	app.Average = list
	app.Policy = "constant"
	app.Output = filepath.Join(dir, "avg.trf")

	require.NoError(t, app.RunAverage())
	assert.Contains(t, out.String(), "Averaged 2 transforms (constant)")

	avg, err := registration.Load(app.Output)
	require.NoError(t, err)
	assert.InDelta(t, 1, avg.Translation().X, 1e-9)

	app.Policy = "median"
	assert.Error(t, app.RunAverage())
}

func TestRunCompare(t *testing.T) {
	dir := t.TempDir()
	pa := filepath.Join(dir, "a.trf")
	pb := filepath.Join(dir, "b.trf")
	require.NoError(t, registration.NewRigidTransform(geom.Identity3(), geom.Vec{}).Save(pa, false))
	require.NoError(t, registration.NewRigidTransform(geom.Identity3(), geom.Vec{Z: 3}).Save(pb, false))

	var out bytes.Buffer
	app := NewApp()
	app.Out = &out
	app.Compare = pa + ", " + pb

	require.NoError(t, app.RunCompare())
	assert.Contains(t, out.String(), "Translation error: 3\n")
	assert.Contains(t, out.String(), "Distance (translation): 3\n")

	app.Compare = pa
	assert.Error(t, app.RunCompare())
}

func TestRunRender(t *testing.T) {
	for _, ext := range []string{".png", ".svg"} {
		t.Run(ext, func(t *testing.T) {
			app, out := newTestApp(t)
			app.Render = filepath.Join(t.TempDir(), "overlay"+ext)
			app.Plane = "xz"

			require.NoError(t, app.RunRender())
			assert.Contains(t, out.String(), "Rendered overlay to")

			info, err := os.Stat(app.Render)
			require.NoError(t, err)
			assert.Greater(t, info.Size(), int64(0))
		})
	}

	app, _ := newTestApp(t)
	app.Render = filepath.Join(t.TempDir(), "overlay.gif")
	assert.Error(t, app.RunRender())

	app.Render = filepath.Join(t.TempDir(), "overlay.png")
	app.Plane = "xw"
	assert.Error(t, app.RunRender())
}

// serviceApp returns an App tracking one tool, publishing to a connected mock
// client and recording to a temporary history.
func serviceApp(t *testing.T) (*App, *tracker.MockClient) {
	t.Helper()
	t.Setenv("MQTT_PUBLISH_PREFIX", "")

	app := NewApp()
	app.Out = &bytes.Buffer{}
	app.models["probe"] = toolModel()

	h, err := tracker.OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	app.History = h

	client := tracker.NewMockClient()
	client.SetConnected(true)
	app.Publisher = tracker.NewPublisher(client, "test")
	return app, client
}

func TestProcessPoints(t *testing.T) {
	app, client := serviceApp(t)
	ctx := context.Background()

	data := toolPose().TransformPoints(toolModel())
	reg, err := app.processPoints(ctx, "probe", data)
	require.NoError(t, err)

	assert.Equal(t, "probe", reg.ToolID)
	assert.NotEmpty(t, reg.RunID)
	assert.True(t, reg.Converged)
	assert.Equal(t, registration.QualityExcellent, reg.Quality)
	assertNearPose(t, toolPose(), reg.Transform, 1e-6)

	// the state tracker starts the next run from this result
	current, ok := app.StateTracker.Current("probe")
	require.True(t, ok)
	assertNearPose(t, toolPose(), current, 1e-6)

	latest, ok := app.StateTracker.Get("probe")
	require.True(t, ok)
	assert.Equal(t, reg.RunID, latest.RunID)

	n, err := app.History.Count(ctx, "probe")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	topics := make(map[string]bool)
	for _, m := range client.Published() {
		topics[m.Topic] = true
	}
	assert.True(t, topics["test/probe/transform"])
	assert.True(t, topics["test/probe/filtered"])
	assert.True(t, topics["test/registrations"])
}

func TestProcessPoints_FollowsMotion(t *testing.T) {
	app, _ := serviceApp(t)
	ctx := context.Background()

	pose := toolPose()
	_, err := app.processPoints(ctx, "probe", pose.TransformPoints(toolModel()))
	require.NoError(t, err)

	// a second small step from the previous pose
	step := registration.RotZ(2)
	step.SetTranslation(geom.Vec{X: 0.6})
	next := registration.Compose(step, pose)
	reg, err := app.processPoints(ctx, "probe", next.TransformPoints(toolModel()))
	require.NoError(t, err)
	assertNearPose(t, next, reg.Transform, 1e-6)

	n, err := app.History.Count(ctx, "probe")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestProcessPoints_UnknownTool(t *testing.T) {
	app, client := serviceApp(t)

	_, err := app.processPoints(context.Background(), "femur", toolModel())
	assert.Error(t, err)
	assert.Empty(t, client.Published())
}

func TestHandlePoints_DecodeError(t *testing.T) {
	app, client := serviceApp(t)

	app.handlePoints("probe", nil, registration.ErrEmptyPointSet)
	_, ok := app.StateTracker.Get("probe")
	assert.False(t, ok)
	assert.Empty(t, client.Published())
}

func TestSetupTools(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "probe.txt")
	initialPath := filepath.Join(dir, "probe.trf")
	require.NoError(t, registration.SavePointList(modelPath, toolModel(), false))
	require.NoError(t, toolPose().Save(initialPath, false))

	config := &tracker.Config{
		Tools: []tracker.ToolConfig{
			{ID: "probe", Model: modelPath, Initial: &initialPath, Color: "#00FF00"},
		},
	}

	app := NewApp()
	require.NoError(t, app.setupTools(config))
	assert.Len(t, app.models["probe"], 64)
	assert.Equal(t, "#00FF00", app.StateTracker.GetColor("probe"))

	current, ok := app.StateTracker.Current("probe")
	require.True(t, ok)
	assertNearPose(t, toolPose(), current, 1e-9)

	config.Tools[0].Model = filepath.Join(dir, "missing.txt")
	assert.Error(t, app.setupTools(config))
}

func TestOverlay(t *testing.T) {
	app, _ := serviceApp(t)

	o, err := app.overlay("probe")
	require.NoError(t, err)
	assert.Equal(t, "probe", o.Title)
	require.Len(t, o.Layers, 2)
	assert.Len(t, o.Layers[0].Points, 64)
	assert.Empty(t, o.Layers[1].Points)

	_, err = app.processPoints(context.Background(), "probe", toolPose().TransformPoints(toolModel()))
	require.NoError(t, err)
	o, err = app.overlay("probe")
	require.NoError(t, err)
	assert.Len(t, o.Layers[1].Points, 64)

	_, err = app.overlay("femur")
	assert.Error(t, err)
}

func TestPrintServiceInfo(t *testing.T) {
	app, _ := serviceApp(t)
	var out bytes.Buffer
	app.Out = &out
	app.MqttMode = true
	app.HttpMode = true

	config := &tracker.Config{Tools: []tracker.ToolConfig{{ID: "probe", Topic: "tracker/probe/points"}}}
	app.printServiceInfo(config, 8081)

	s := out.String()
	assert.Contains(t, s, "tracker/probe/points (probe)")
	assert.Contains(t, s, "port 8081")
	assert.True(t, strings.HasSuffix(s, "Press Ctrl+C to stop\n"))
}
