package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions carries the parsed command line
type AppOptions struct {
	ConfigFile string
	Register   bool
	ICP        bool
	Method     string // closed, lm, pow or gc
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
	MqttMode   bool
	HttpMode   bool
	HttpPort   int
	History    string
}

// Runner is the set of modes the command line dispatches to
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunRegister() error
	RunICP() error
	RunAverage() error
	RunCompare() error
	RunRender() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
}

// run parses args, prints the version and dispatches to the selected mode
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("rigidreg", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.BoolVar(&opts.Register, "register", false, "Register matched point lists (-model onto -data) and exit")
	fs.BoolVar(&opts.ICP, "icp", false, "Register unmatched point lists with ICP and exit")
	fs.StringVar(&opts.Method, "method", "closed", "Matched registration method: closed, lm, pow or gc")
	fs.StringVar(&opts.Model, "model", "", "Model point list file")
	fs.StringVar(&opts.Data, "data", "", "Acquired point list file")
	fs.StringVar(&opts.Initial, "initial", "", "Initial transform file for -icp and -render")
	fs.StringVar(&opts.Output, "output", "", "Write the resulting transform to this file")
	fs.BoolVar(&opts.Overwrite, "overwrite", false, "Replace an existing -output file")
	fs.StringVar(&opts.Average, "average", "", "Average the transforms of a MatrixList file and exit")
	fs.StringVar(&opts.Policy, "policy", "constant", "Filter policy: constant, linear, log, square or cubic")
	fs.StringVar(&opts.Compare, "compare", "", "Compare two transform files: A,B")
	fs.StringVar(&opts.Render, "render", "", "Render the registration overlay to a .png or .svg file and exit")
	fs.StringVar(&opts.Plane, "plane", "xy", "Projection plane for -render: xy, xz or yz")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode for live tool tracking")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP status server")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP server port (default from config, else 8080)")
	fs.StringVar(&opts.History, "history", "", "Registration history database (overrides config)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "rigidreg version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.Register:
		return app.RunRegister()
	case opts.ICP:
		return app.RunICP()
	case opts.Average != "":
		return app.RunAverage()
	case opts.Compare != "":
		return app.RunCompare()
	case opts.Render != "":
		return app.RunRender()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "Use -register -model M -data D to register matched point lists")
	fmt.Fprintln(out, "Use -icp -model M -data D [-initial T] to run ICP")
	fmt.Fprintln(out, "Use -average LIST -policy P to filter a MatrixList")
	fmt.Fprintln(out, "Use -compare A,B to compare two transforms")
	fmt.Fprintln(out, "Use -render out.png|out.svg -model M -data D to draw an overlay")
	fmt.Fprintln(out, "Use -mqtt and/or -http to run the tracking service")
	return nil
}
