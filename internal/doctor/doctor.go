// Package doctor runs environment diagnostics for a fleet config:
// system dependencies, config validity, environment references, port
// availability and actual server startup.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"github.com/devskyy/mcpfleet/internal/fleet"
)

// CheckStatus is the outcome of one check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
	StatusSkip CheckStatus = "skip"
)

// CheckResult is one diagnostic finding.
type CheckResult struct {
	Name          string      `json:"name"`
	Status        CheckStatus `json:"status"`
	Message       string      `json:"message"`
	Details       string      `json:"details,omitempty"`
	FixSuggestion string      `json:"fix_suggestion,omitempty"`
}

// Report aggregates check results.
type Report struct {
	Results  []CheckResult `json:"results"`
	Passed   int           `json:"passed"`
	Warnings int           `json:"warnings"`
	Failures int           `json:"failures"`
	Skipped  int           `json:"skipped"`
}

// Add records a result and updates the counters.
func (r *Report) Add(result CheckResult) {
	r.Results = append(r.Results, result)
	switch result.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Failures++
	case StatusSkip:
		r.Skipped++
	}
}

// Success reports whether no check failed outright.
func (r *Report) Success() bool { return r.Failures == 0 }

// Doctor runs the diagnostics. The exec hooks are injectable for
// tests.
type Doctor struct {
	logger *zap.Logger
	prober fleet.Prober

	lookPath   func(string) (string, error)
	runCommand func(ctx context.Context, name string, args ...string) (string, error)
	dial       func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// New builds a doctor with the real exec hooks.
func New(logger *zap.Logger) *Doctor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Doctor{
		logger:   logger,
		prober:   fleet.NewProber(),
		lookPath: exec.LookPath,
		runCommand: func(ctx context.Context, name string, args ...string) (string, error) {
			out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
			return string(out), err
		},
		dial: net.DialTimeout,
	}
}

// systemDep describes one system dependency to check.
type systemDep struct {
	name       string
	commands   [][]string
	minVersion string
	required   bool
}

var systemDeps = []systemDep{
	{"Node.js", [][]string{{"node", "--version"}, {"nodejs", "--version"}}, "18.0.0", true},
	{"Python", [][]string{{"python3", "--version"}, {"python", "--version"}}, "3.11.0", true},
	{"npm", [][]string{{"npm", "--version"}}, "8.0.0", true},
	{"npx", [][]string{{"npx", "--version"}}, "", false},
	{"uv", [][]string{{"uv", "--version"}}, "", false},
}

var installHints = map[string]string{
	"Node.js": "Install from https://nodejs.org or via nvm",
	"Python":  "Install from https://python.org or via pyenv",
	"npm":     "Comes with Node.js installation",
	"npx":     "Comes with npm 5.2.0+; run: npm install -g npx",
	"uv":      "Install via: pip install uv",
}

var versionPattern = regexp.MustCompile(`v?(\d+\.\d+(?:\.\d+)?)`)

// CheckSystemDependency probes one tool and compares its version
// against the minimum.
func (d *Doctor) CheckSystemDependency(ctx context.Context, dep systemDep) CheckResult {
	for _, cmd := range dep.commands {
		out, err := d.runCommand(ctx, cmd[0], cmd[1:]...)
		if err != nil {
			continue
		}
		match := versionPattern.FindStringSubmatch(out)
		if match == nil {
			return CheckResult{
				Name:    dep.name,
				Status:  StatusPass,
				Message: "Installed (version unknown)",
				Details: "Command: " + strings.Join(cmd, " "),
			}
		}
		got := canonical(match[1])
		if dep.minVersion != "" && semver.Compare(got, canonical(dep.minVersion)) < 0 {
			return CheckResult{
				Name:          dep.name,
				Status:        StatusWarn,
				Message:       fmt.Sprintf("Version %s below minimum %s", match[1], dep.minVersion),
				FixSuggestion: fmt.Sprintf("Upgrade %s to version %s or higher", dep.name, dep.minVersion),
			}
		}
		return CheckResult{
			Name:    dep.name,
			Status:  StatusPass,
			Message: fmt.Sprintf("Installed (version %s)", match[1]),
			Details: "Command: " + strings.Join(cmd, " "),
		}
	}

	status := StatusWarn
	if dep.required {
		status = StatusFail
	}
	hint := installHints[dep.name]
	if hint == "" {
		hint = "Install " + dep.name
	}
	return CheckResult{
		Name:          dep.name,
		Status:        status,
		Message:       "Not found",
		FixSuggestion: hint,
	}
}

// canonical pads a dotted version to semver form.
func canonical(v string) string {
	parts := strings.Split(v, ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	return "v" + strings.Join(parts[:3], ".")
}

// CheckConfig loads and validates a fleet config file.
func (d *Doctor) CheckConfig(path string) ([]CheckResult, []fleet.Definition) {
	defs, err := fleet.LoadFile(path)
	if err != nil {
		return []CheckResult{{
			Name:          "Fleet Config",
			Status:        StatusFail,
			Message:       "Cannot load config",
			Details:       err.Error(),
			FixSuggestion: fmt.Sprintf("Fix %s or point MCPFLEET_FLEET_CONFIG at a valid file", path),
		}}, nil
	}

	results := []CheckResult{{
		Name:    "Fleet Config",
		Status:  StatusPass,
		Message: fmt.Sprintf("Valid config with %d server(s)", len(defs)),
	}}

	if err := fleet.Validate(defs); err != nil {
		results = append(results, CheckResult{
			Name:          "Fleet Config Structure",
			Status:        StatusFail,
			Message:       "Structure issue found",
			Details:       err.Error(),
			FixSuggestion: "Fix the configuration structure issues",
		})
	} else {
		results = append(results, CheckResult{
			Name:    "Fleet Config Structure",
			Status:  StatusPass,
			Message: "Valid structure",
		})
	}

	var unset []string
	for _, def := range defs {
		unset = append(unset, def.UnsetEnvRefs()...)
	}
	if len(unset) > 0 {
		results = append(results, CheckResult{
			Name:          "Environment Variable References",
			Status:        StatusFail,
			Message:       fmt.Sprintf("%d unset variable(s) found", len(unset)),
			Details:       strings.Join(unset, ", "),
			FixSuggestion: "Set these environment variables: " + strings.Join(unset, ", "),
		})
	} else {
		results = append(results, CheckResult{
			Name:    "Environment Variable References",
			Status:  StatusPass,
			Message: "All referenced environment variables are set",
		})
	}

	return results, defs
}

// CheckServerCommand verifies a server's command resolves on PATH.
func (d *Doctor) CheckServerCommand(def fleet.Definition) CheckResult {
	candidates := []string{def.Command}
	switch def.Command {
	case "node", "nodejs":
		candidates = []string{"node", "nodejs"}
	case "python", "python3":
		candidates = []string{"python3", "python"}
	case "uvx":
		candidates = []string{"uvx", "uv"}
	}

	for _, c := range candidates {
		if path, err := d.lookPath(c); err == nil {
			return CheckResult{
				Name:    fmt.Sprintf("Server '%s' Command", def.ID),
				Status:  StatusPass,
				Message: fmt.Sprintf("Command '%s' found at %s", def.Command, path),
			}
		}
	}
	return CheckResult{
		Name:          fmt.Sprintf("Server '%s' Command", def.ID),
		Status:        StatusFail,
		Message:       fmt.Sprintf("Command '%s' not found", def.Command),
		FixSuggestion: fmt.Sprintf("Install %s or update PATH", def.Command),
	}
}

// CheckPythonEnv warns when a Python server lacks PYTHONUNBUFFERED.
func (d *Doctor) CheckPythonEnv(def fleet.Definition) CheckResult {
	name := fmt.Sprintf("Server '%s' PYTHONUNBUFFERED", def.ID)

	isPython := def.Command == "python" || def.Command == "python3"
	for _, arg := range def.Args {
		if strings.HasSuffix(arg, ".py") {
			isPython = true
		}
	}
	if !isPython {
		return CheckResult{Name: name, Status: StatusSkip, Message: "Not a Python server"}
	}

	if def.Env["PYTHONUNBUFFERED"] == "1" {
		return CheckResult{Name: name, Status: StatusPass, Message: "PYTHONUNBUFFERED=1 configured"}
	}
	return CheckResult{
		Name:          name,
		Status:        StatusWarn,
		Message:       "PYTHONUNBUFFERED not set",
		FixSuggestion: fmt.Sprintf(`Add "PYTHONUNBUFFERED": "1" to env for server %q. Unbuffered output keeps the stdio stream timely.`, def.ID),
	}
}

// CheckProbePort checks whether an http probe URL has anything
// listening yet.
func (d *Doctor) CheckProbePort(def fleet.Definition) CheckResult {
	name := fmt.Sprintf("Server '%s' Probe Port", def.ID)
	if def.Probe == nil || def.Probe.Type != fleet.ProbeHTTP {
		return CheckResult{Name: name, Status: StatusSkip, Message: "No http probe configured"}
	}

	u, err := url.Parse(def.Probe.URL)
	if err != nil || u.Host == "" {
		return CheckResult{
			Name:          name,
			Status:        StatusFail,
			Message:       fmt.Sprintf("Invalid probe url %q", def.Probe.URL),
			FixSuggestion: "Use an absolute http(s) URL for the probe",
		}
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	conn, err := d.dial("tcp", host, 2*time.Second)
	if err != nil {
		return CheckResult{
			Name:    name,
			Status:  StatusWarn,
			Message: fmt.Sprintf("Nothing listening on %s yet", host),
			Details: err.Error(),
		}
	}
	_ = conn.Close()
	return CheckResult{Name: name, Status: StatusPass, Message: fmt.Sprintf("Port open at %s", host)}
}

// CheckStartup spawns the server and runs the MCP initialize
// handshake against it.
func (d *Doctor) CheckStartup(ctx context.Context, def fleet.Definition, timeout time.Duration) CheckResult {
	name := fmt.Sprintf("Server '%s' Startup", def.ID)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	probe := def
	if probe.Probe == nil {
		probe.Probe = &fleet.ProbeSpec{Type: fleet.ProbeStdio}
	}
	if err := d.prober.Probe(ctx, probe); err != nil {
		return CheckResult{
			Name:          name,
			Status:        StatusFail,
			Message:       "Initialize handshake failed",
			Details:       err.Error(),
			FixSuggestion: "Run the server command by hand and inspect its stderr",
		}
	}
	return CheckResult{Name: name, Status: StatusPass, Message: "Responds to initialize"}
}

// Run executes the full diagnostic suite against a config file.
func (d *Doctor) Run(ctx context.Context, configPath string, withStartup bool) *Report {
	report := &Report{}

	for _, dep := range systemDeps {
		report.Add(d.CheckSystemDependency(ctx, dep))
	}

	configResults, defs := d.CheckConfig(configPath)
	for _, r := range configResults {
		report.Add(r)
	}

	for _, def := range defs {
		report.Add(d.CheckServerCommand(def))
		report.Add(d.CheckPythonEnv(def))
		report.Add(d.CheckProbePort(def))
		if withStartup {
			report.Add(d.CheckStartup(ctx, def, 10*time.Second))
		}
	}

	d.logger.Info("diagnostics finished",
		zap.Int("passed", report.Passed),
		zap.Int("warnings", report.Warnings),
		zap.Int("failures", report.Failures),
		zap.Int("skipped", report.Skipped))
	return report
}
