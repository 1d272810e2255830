package kube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/storeaudit/storeaudit/internal/audit"
	"github.com/storeaudit/storeaudit/internal/config"
)

// Client implements audit.MetricsSource, audit.ControlPlane and
// audit.Storage on top of the cluster CLI.
//
// Short calls are bounded by Timeout. Bulk reads (key listings, range reads,
// object listings) are bounded only by the caller's context because their
// duration grows with the data set.
type Client struct {
	Runner  Runner
	Kubectl string
	Timeout time.Duration

	MetricsPath string
	Etcd        config.EtcdConfig

	mu     sync.Mutex
	member string
}

var (
	_ audit.MetricsSource = (*Client)(nil)
	_ audit.ControlPlane  = (*Client)(nil)
	_ audit.Storage       = (*Client)(nil)
)

// New builds a client from configuration. A nil runner runs commands locally.
func New(cfg *config.Config, runner Runner) *Client {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Client{
		Runner:      runner,
		Kubectl:     cfg.Kubectl,
		Timeout:     cfg.RequestTimeoutDuration(),
		MetricsPath: cfg.Metrics.Path,
		Etcd:        cfg.Etcd,
	}
}

func (c *Client) run(ctx context.Context, w io.Writer, args ...string) error {
	return c.Runner.Run(ctx, w, c.Kubectl, args...)
}

// output runs a short command and returns its standard output.
func (c *Client) output(ctx context.Context, args ...string) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	var buf bytes.Buffer
	if err := c.run(ctx, &buf, args...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WhoAmI returns the identity of the current session. It fails when the
// session has expired or the API cannot be reached.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	args := []string{"auth", "whoami", "-o", "jsonpath={.status.userInfo.username}"}
	if filepath.Base(c.Kubectl) == "oc" {
		args = []string{"whoami"}
	}
	out, err := c.output(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("check session: %w", err)
	}
	user := strings.TrimSpace(string(out))
	if user == "" {
		return "", fmt.Errorf("check session: empty identity")
	}
	return user, nil
}

// RawMetrics implements audit.MetricsSource.
func (c *Client) RawMetrics(ctx context.Context) (io.ReadCloser, error) {
	out, err := c.output(ctx, "get", "--raw", c.MetricsPath)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(out)), nil
}

// ResolveKind implements audit.ControlPlane.
func (c *Client) ResolveKind(ctx context.Context, alias string) (string, error) {
	out, err := c.output(ctx, "api-resources", "--verbs=list")
	if err != nil {
		return "", err
	}
	resources, err := ParseAPIResources(bytes.NewReader(out))
	if err != nil {
		return "", err
	}
	alias = strings.TrimSpace(alias)
	for _, r := range resources {
		if r.Matches(alias) {
			log.Debug().Str("alias", alias).Str("resource", r.Canonical()).Msg("resolved resource alias")
			return r.Canonical(), nil
		}
	}
	return "", fmt.Errorf("%w: %q", audit.ErrUnknownResource, alias)
}

type podList struct {
	Items []struct {
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
		Spec struct {
			NodeName string `json:"nodeName"`
		} `json:"spec"`
		Status struct {
			Phase      string `json:"phase"`
			Conditions []struct {
				Type   string `json:"type"`
				Status string `json:"status"`
			} `json:"conditions"`
		} `json:"status"`
	} `json:"items"`
}

// Members implements audit.ControlPlane.
func (c *Client) Members(ctx context.Context) ([]audit.Member, error) {
	out, err := c.output(ctx, "get", "pods", "-n", c.Etcd.Namespace, "-l", c.Etcd.Selector, "-o", "json")
	if err != nil {
		return nil, err
	}
	var pods podList
	if err := json.Unmarshal(out, &pods); err != nil {
		return nil, fmt.Errorf("decode pod list: %w", err)
	}

	members := make([]audit.Member, 0, len(pods.Items))
	for _, p := range pods.Items {
		m := audit.Member{Name: p.Metadata.Name, Node: p.Spec.NodeName, Phase: p.Status.Phase}
		for _, cond := range p.Status.Conditions {
			if cond.Type == "Ready" && cond.Status == "True" {
				m.Ready = true
			}
		}
		members = append(members, m)
	}
	return members, nil
}

// ListJSON implements audit.ControlPlane.
func (c *Client) ListJSON(ctx context.Context, kind string, w io.Writer) error {
	return classify(c.run(ctx, w, "get", kind, "--all-namespaces", "-o", "json"))
}

// Reachable implements audit.ControlPlane with the session check.
func (c *Client) Reachable(ctx context.Context) error {
	_, err := c.WhoAmI(ctx)
	return err
}

// Member returns the pod that etcdctl commands run in: the first ready,
// running member. The choice is kept for the rest of the run.
func (c *Client) Member(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.member != "" {
		return c.member, nil
	}

	members, err := c.Members(ctx)
	if err != nil {
		return "", err
	}
	for _, m := range members {
		if m.Ready && m.Phase == "Running" {
			c.member = m.Name
			log.Debug().Str("pod", m.Name).Str("node", m.Node).Msg("selected storage member")
			return m.Name, nil
		}
	}
	return "", fmt.Errorf("no ready storage member in namespace %s matching %s (%d found)",
		c.Etcd.Namespace, c.Etcd.Selector, len(members))
}

func (c *Client) etcdctl(ctx context.Context, w io.Writer, args ...string) error {
	pod, err := c.Member(ctx)
	if err != nil {
		return err
	}
	full := append([]string{"exec", "-n", c.Etcd.Namespace, pod, "-c", c.Etcd.Container, "--", "etcdctl"}, args...)
	return c.run(ctx, w, full...)
}

func (c *Client) etcdctlOutput(ctx context.Context, args ...string) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	var buf bytes.Buffer
	if err := c.etcdctl(ctx, &buf, args...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ListKeys implements audit.Storage.
func (c *Client) ListKeys(ctx context.Context, w io.Writer) error {
	return c.etcdctl(ctx, w, "get", c.Etcd.KeyRoot, "--prefix", "--keys-only")
}

// RangeRead implements audit.Storage.
func (c *Client) RangeRead(ctx context.Context, prefix string, w io.Writer) error {
	return c.etcdctl(ctx, w, "get", prefix, "--prefix")
}

// EndpointStatus implements audit.Storage.
func (c *Client) EndpointStatus(ctx context.Context) ([]byte, error) {
	return c.etcdctlOutput(ctx, "endpoint", "status", "--cluster", "-w", "json")
}

// Ping implements audit.Storage.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.etcdctlOutput(ctx, "endpoint", "health")
	return err
}

// classify maps the CLI's not-found diagnostics onto audit.ErrResourceNotFound.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "doesn't have a resource type") || strings.Contains(msg, "(NotFound)") {
		return fmt.Errorf("%w: %w", audit.ErrResourceNotFound, err)
	}
	return err
}
