package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kwv/rigidreg/registration"
	"github.com/kwv/rigidreg/tracker"
)

// stateCacheName is the state cache file, kept next to the config file
const stateCacheName = ".registrations.json"

// App encapsulates the application state and dependencies
type App struct {
	Config       *tracker.Config
	StateTracker *tracker.StateTracker
	History      *tracker.History
	MQTTClient   *tracker.MQTTClient
	Publisher    *tracker.Publisher
	Out          io.Writer

	mu         sync.RWMutex
	models     map[string]registration.PointList // tool ID -> model points
	lastPoints map[string]registration.PointList // tool ID -> last acquired points

	// CLI flags
	ConfigFile string
	Method     string
	Model      string
	Data       string
	Initial    string
	Output     string
	Overwrite  bool
	Average    string
	Policy     string
	Compare    string
	Render     string
	Plane      string
	HistoryDB  string
	HttpPort   int
	MqttMode   bool
	HttpMode   bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker: tracker.NewStateTracker(tracker.DefaultFilterWindow, registration.FilterConstant),
		Out:          os.Stdout,
		models:       make(map[string]registration.PointList),
		lastPoints:   make(map[string]registration.PointList),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.Method = opts.Method
	a.Model = opts.Model
	a.Data = opts.Data
	a.Initial = opts.Initial
	a.Output = opts.Output
	a.Overwrite = opts.Overwrite
	a.Average = opts.Average
	a.Policy = opts.Policy
	a.Compare = opts.Compare
	a.Render = opts.Render
	a.Plane = opts.Plane
	a.HistoryDB = opts.History
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// loadPair reads the -model and -data point lists
func (a *App) loadPair() (model, data registration.PointList, err error) {
	if a.Model == "" || a.Data == "" {
		return nil, nil, fmt.Errorf("both -model and -data are required")
	}
	if model, err = registration.LoadPointList(a.Model); err != nil {
		return nil, nil, fmt.Errorf("loading model: %w", err)
	}
	if data, err = registration.LoadPointList(a.Data); err != nil {
		return nil, nil, fmt.Errorf("loading data: %w", err)
	}
	return model, data, nil
}

// initialTransform reads -initial, identity when unset
func (a *App) initialTransform() (registration.RigidTransform, error) {
	if a.Initial == "" {
		return registration.Identity(), nil
	}
	t, err := registration.Load(a.Initial)
	if err != nil {
		return registration.RigidTransform{}, fmt.Errorf("loading initial transform: %w", err)
	}
	return t, nil
}

// icpConfig uses the ICP section of the config file when one can be loaded
func (a *App) icpConfig() registration.ICPConfig {
	if a.Config == nil && a.ConfigFile != "" {
		if cfg, err := tracker.LoadConfig(a.ConfigFile); err == nil {
			a.Config = cfg
		}
	}
	if a.Config != nil {
		return a.Config.ICP.ICPConfig()
	}
	return registration.DefaultICPConfig()
}

func (a *App) quality() registration.QualityThresholds {
	if a.Config != nil {
		return a.Config.GetQuality()
	}
	return registration.DefaultQualityThresholds()
}

// saveOutput writes t to -output when set
func (a *App) saveOutput(t registration.RigidTransform) error {
	if a.Output == "" {
		return nil
	}
	if err := t.Save(a.Output, a.Overwrite); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Saved transform to %s\n", a.Output)
	return nil
}

func (a *App) printTransform(t registration.RigidTransform) {
	v := a.quality().Validate(t)
	fmt.Fprint(a.Out, t.Text())
	fmt.Fprintf(a.Out, "RMS: %.6g  StdDev: %.6g  Quality: %s\n", t.RMS, t.StdDev, v.Quality)
	for _, issue := range v.Issues {
		fmt.Fprintf(a.Out, "  - %s\n", issue)
	}
}

// RunRegister registers matched model and data point lists
func (a *App) RunRegister() error {
	model, data, err := a.loadPair()
	if err != nil {
		return err
	}

	var t registration.RigidTransform
	switch strings.ToLower(a.Method) {
	case "", "closed":
		t, err = registration.Register3D3D(model, data)
	default:
		method, perr := parseOptimMethod(a.Method)
		if perr != nil {
			return perr
		}
		var res registration.UncertaintyResult
		res, err = registration.RegisterUncertainty(model, data, method)
		if err == nil {
			fmt.Fprintf(a.Out, "Uncertainty cost (%s): %.6g -> %.6g\n", method, res.StartCost, res.EndCost)
		}
		t = res.Transform
	}
	if err != nil {
		return fmt.Errorf("registering %s onto %s: %w", a.Model, a.Data, err)
	}

	if _, err := t.RMS3D3D(model, data); err != nil {
		return err
	}
	t.Touch(time.Now())
	a.printTransform(t)
	return a.saveOutput(t)
}

func parseOptimMethod(s string) (registration.OptimMethod, error) {
	for _, m := range []registration.OptimMethod{registration.LevenbergMarquardt, registration.Powell, registration.ConjugateGradient} {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown registration method %q (closed, lm, pow or gc)", s)
}

// RunICP registers unmatched model and data point lists
func (a *App) RunICP() error {
	model, data, err := a.loadPair()
	if err != nil {
		return err
	}
	initial, err := a.initialTransform()
	if err != nil {
		return err
	}

	res, err := registration.RegisterICP(model, data, initial, a.icpConfig())
	if err != nil {
		return fmt.Errorf("ICP of %s onto %s: %w", a.Model, a.Data, err)
	}

	t := res.Transform
	t.Touch(time.Now())
	fmt.Fprintf(a.Out, "ICP: %d iterations, converged=%v, RMS %.6g -> %.6g\n",
		res.Iterations, res.Converged, res.FirstRMS, res.LastRMS)
	a.printTransform(t)
	return a.saveOutput(t)
}

// RunAverage filters the transforms of a MatrixList file
func (a *App) RunAverage() error {
	policy, err := registration.ParseFilterPolicy(a.Policy)
	if err != nil {
		return err
	}
	list, err := registration.LoadList(a.Average)
	if err != nil {
		return err
	}
	avg, err := registration.Average(list, policy)
	if err != nil {
		return fmt.Errorf("averaging %s: %w", a.Average, err)
	}
	fmt.Fprintf(a.Out, "Averaged %d transforms (%s)\n", len(list), policy)
	a.printTransform(avg)
	return a.saveOutput(avg)
}

// RunCompare prints the difference between two saved transforms
func (a *App) RunCompare() error {
	paths := strings.Split(a.Compare, ",")
	if len(paths) != 2 {
		return fmt.Errorf("-compare expects two files separated by a comma, got %q", a.Compare)
	}
	ta, err := registration.Load(strings.TrimSpace(paths[0]))
	if err != nil {
		return err
	}
	tb, err := registration.Load(strings.TrimSpace(paths[1]))
	if err != nil {
		return err
	}

	transErr, rotErr := ta.Compare(tb)
	fmt.Fprintf(a.Out, "Translation error: %.6g\n", transErr)
	fmt.Fprintf(a.Out, "Rotation error: %.6g deg\n", rotErr)
	fmt.Fprintf(a.Out, "Distance (3 axes): %.6g\n", ta.Distance(tb, registration.ThreeAxis))
	fmt.Fprintf(a.Out, "Distance (translation): %.6g\n", ta.Distance(tb, registration.TranslationOnly))
	return nil
}

// RunRender draws the model moved by -initial over the data
func (a *App) RunRender() error {
	model, data, err := a.loadPair()
	if err != nil {
		return err
	}
	t, err := a.initialTransform()
	if err != nil {
		return err
	}
	plane, err := tracker.ParsePlane(a.Plane)
	if err != nil {
		return err
	}

	overlay := tracker.NewOverlay(model, data, t, "#FF6347")
	overlay.Plane = plane
	overlay.Title = filepath.Base(a.Data)

	switch strings.ToLower(filepath.Ext(a.Render)) {
	case ".svg":
		f, err := os.Create(a.Render)
		if err != nil {
			return fmt.Errorf("creating %s: %w", a.Render, err)
		}
		if err := tracker.NewVectorRenderer(overlay).RenderToSVG(f); err != nil {
			f.Close()
			return fmt.Errorf("rendering %s: %w", a.Render, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	case ".png":
		if err := overlay.SavePNG(a.Render); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported render format %q (use .png or .svg)", filepath.Ext(a.Render))
	}
	fmt.Fprintf(a.Out, "Rendered overlay to %s\n", a.Render)
	return nil
}

// setupTools loads the tool models and seeds colors and start transforms
func (a *App) setupTools(config *tracker.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, tc := range config.Tools {
		model, err := registration.LoadPointList(tc.Model)
		if err != nil {
			return fmt.Errorf("loading model of %s: %w", tc.ID, err)
		}
		a.models[tc.ID] = model

		if tc.Color != "" {
			a.StateTracker.SetColor(tc.ID, tc.Color)
		}
		if _, ok := a.StateTracker.Current(tc.ID); ok {
			continue
		}
		if path := tc.GetInitial(); path != "" {
			initial, err := registration.Load(path)
			if err != nil {
				return fmt.Errorf("loading initial transform of %s: %w", tc.ID, err)
			}
			a.StateTracker.SetCurrent(tc.ID, initial)
		}
	}
	return nil
}

// processPoints registers an acquired point set of toolID against its
// model, starting from the tool's current transform, then records,
// tracks and publishes the result.
func (a *App) processPoints(ctx context.Context, toolID string, points registration.PointList) (tracker.Registration, error) {
	a.mu.Lock()
	model, ok := a.models[toolID]
	if ok {
		a.lastPoints[toolID] = points
	}
	a.mu.Unlock()
	if !ok {
		return tracker.Registration{}, fmt.Errorf("no model loaded for tool %s", toolID)
	}

	start, ok := a.StateTracker.Current(toolID)
	if !ok {
		start = registration.Identity()
	}

	res, err := registration.RegisterICP(model, points, start, a.icpConfig())
	if err != nil {
		return tracker.Registration{}, fmt.Errorf("registering %s: %w", toolID, err)
	}

	now := time.Now()
	t := res.Transform
	t.Touch(now)
	reg := tracker.Registration{
		ToolID:     toolID,
		Transform:  t,
		FirstRMS:   res.FirstRMS,
		LastRMS:    res.LastRMS,
		Iterations: res.Iterations,
		Converged:  res.Converged,
		Quality:    a.quality().Grade(res.LastRMS),
		Timestamp:  now,
	}

	if a.History != nil {
		if stored, err := a.History.Record(ctx, reg); err != nil {
			log.Printf("[HISTORY] %v", err)
		} else {
			reg = stored
		}
	}
	if reg.RunID == "" {
		reg.RunID = uuid.NewString()
	}
	if err := a.StateTracker.Update(reg); err != nil {
		log.Printf("[STATE] Error updating %s: %v", toolID, err)
	}

	log.Printf("[ICP] %s: %d iterations, converged=%v, rms=%.4g (%s)",
		toolID, reg.Iterations, reg.Converged, reg.LastRMS, reg.Quality)

	if a.Publisher != nil {
		if err := a.Publisher.PublishRegistration(reg); err != nil {
			log.Printf("[MQTT] Error publishing registration for %s: %v", toolID, err)
		}
		if filtered, err := a.StateTracker.Filtered(toolID); err == nil {
			if err := a.Publisher.PublishFiltered(toolID, filtered); err != nil {
				log.Printf("[MQTT] Error publishing filtered transform for %s: %v", toolID, err)
			}
		}
	}
	return reg, nil
}

// handlePoints is the MQTT message handler
func (a *App) handlePoints(toolID string, points registration.PointList, err error) {
	if err != nil {
		log.Printf("[MQTT] Dropping points for %s: %v", toolID, err)
		return
	}
	if _, err := a.processPoints(context.Background(), toolID, points); err != nil {
		log.Printf("[ICP] %v", err)
	}
}

// overlay builds the live overlay of a tool: its model at the current
// transform over the last acquired points.
func (a *App) overlay(toolID string) (*tracker.Overlay, error) {
	a.mu.RLock()
	model, ok := a.models[toolID]
	points := a.lastPoints[toolID]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool %s", toolID)
	}

	t, ok := a.StateTracker.Current(toolID)
	if !ok {
		t = registration.Identity()
	}
	o := tracker.NewOverlay(model, points, t, a.StateTracker.GetColor(toolID))
	o.Title = toolID
	return o, nil
}

// RunService runs the MQTT tracking service and/or the HTTP server until
// interrupted.
func (a *App) RunService() error {
	fmt.Fprintln(a.Out, "Starting rigidreg service...")

	config, err := tracker.LoadConfig(a.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w (looked at %s)", err, a.ConfigFile)
	}
	a.Config = config

	logFile := tracker.SetupLogging(config.Log, os.Stderr)
	if logFile != nil {
		defer logFile.Close()
	}
	log.Printf("Loaded config from %s", a.ConfigFile)

	policy, _ := config.Filter.GetPolicy() // validated by LoadConfig
	cachePath := filepath.Join(filepath.Dir(a.ConfigFile), stateCacheName)
	a.StateTracker = tracker.NewStateTrackerWithCache(config.Filter.Window, policy, cachePath)

	if err := a.setupTools(config); err != nil {
		return err
	}

	historyPath := config.History.Path
	if a.HistoryDB != "" {
		historyPath = a.HistoryDB
	}
	if historyPath != "" {
		h, err := tracker.OpenHistory(historyPath)
		if err != nil {
			return err
		}
		a.History = h
		defer h.Close()
		log.Printf("[HISTORY] Recording to %s", historyPath)
	}

	if a.MqttMode {
		mqttClient, err := tracker.InitMQTT(config, a.handlePoints)
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if mqttClient == nil {
			return fmt.Errorf("MQTT broker not configured in %s", a.ConfigFile)
		}
		a.MQTTClient = mqttClient
		a.Publisher = tracker.NewPublisher(mqttClient.GetClient(), config.MQTT.PublishPrefix)
		fmt.Fprintln(a.Out, "MQTT registration publisher initialized")
	}

	port := config.HTTP.Port
	if a.HttpPort != 0 {
		port = a.HttpPort
	}
	if a.HttpMode {
		httpServer := newHTTPServer(a.StateTracker, a.overlay)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", port)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	a.printServiceInfo(config, port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Fprintln(a.Out, "\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Fprintln(a.Out, "Service stopped")
	return nil
}

func (a *App) printServiceInfo(config *tracker.Config, port int) {
	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")

	if a.MqttMode && a.Publisher != nil {
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintln(a.Out, "  Subscribed topics:")
		for _, tc := range config.Tools {
			if tc.Topic != "" {
				fmt.Fprintf(a.Out, "    - %s (%s)\n", tc.Topic, tc.ID)
			}
		}
		fmt.Fprintf(a.Out, "  Publishing to: %s and %s\n", a.Publisher.TransformTopic("{toolID}"), a.Publisher.FilteredTopic("{toolID}"))
	}

	if a.HttpMode {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", port)
		fmt.Fprintln(a.Out, "  GET /health                 - Health check")
		fmt.Fprintln(a.Out, "  GET /registrations          - Latest registration of every tool")
		fmt.Fprintln(a.Out, "  GET /registrations/{id}     - Latest and filtered registration of a tool")
		fmt.Fprintln(a.Out, "  GET /transform/{id}.txt     - RigidMatrix file of a tool")
		fmt.Fprintln(a.Out, "  GET /overlay/{id}.png|.svg  - Model over the last acquired points")
	}

	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
}
