package fleet

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// prober is the default Prober implementation.
type prober struct {
	httpClient *http.Client
}

// NewProber returns a Prober that understands http and stdio probes.
func NewProber() Prober {
	return &prober{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *prober) Probe(ctx context.Context, def Definition) error {
	if def.Probe == nil {
		return nil
	}
	switch def.Probe.Type {
	case ProbeHTTP:
		return p.probeHTTP(ctx, def.Probe.URL)
	case ProbeStdio:
		return probeStdio(ctx, def)
	default:
		return fmt.Errorf("unknown probe type %q", def.Probe.Type)
	}
}

func (p *prober) probeHTTP(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

// probeStdio runs the MCP initialize handshake against a fresh instance
// of the server command. A successful handshake is the health signal;
// the probe instance is torn down immediately.
func probeStdio(ctx context.Context, def Definition) error {
	session, err := OpenSession(ctx, def)
	if err != nil {
		return fmt.Errorf("initialize handshake failed: %w", err)
	}
	return session.Close()
}

// OpenSession opens a short-lived MCP client session against a server
// definition. Stdio servers get a fresh process per session (the
// supervised instance keeps its own stdio to itself); http-probed
// servers are dialed at their probe URL. The caller owns the session
// and must Close it.
func OpenSession(ctx context.Context, def Definition) (*mcp.ClientSession, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "mcpfleet",
		Version: "1.0.0",
	}, nil)

	var transport mcp.Transport
	if def.Probe != nil && def.Probe.Type == ProbeHTTP {
		transport = &mcp.StreamableClientTransport{Endpoint: def.Probe.URL}
	} else {
		cmd := exec.CommandContext(ctx, def.Command, def.Args...)
		cmd.Dir = def.Dir
		cmd.Env = append(os.Environ(), def.ExpandedEnv()...)
		transport = &mcp.CommandTransport{Command: cmd}
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", def.ID, err)
	}
	return session, nil
}
