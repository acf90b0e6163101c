// Package machines runs bot workers as Fly Machines created through the
// machines REST API.
//
// Each worker is one machine with auto_destroy set and restart policy "no",
// so it cleans itself up when the worker exits. The machine id returned by
// the create call becomes the bot id. Create calls are never retried.
package machines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/Iron-Ham/roombot/internal/backend"
	"github.com/Iron-Ham/roombot/internal/bot"
	"github.com/Iron-Ham/roombot/internal/logging"
)

const maxErrorBody = 8192

type machineConfig struct {
	Image       string            `json:"image"`
	Env         map[string]string `json:"env,omitempty"`
	Guest       Guest             `json:"guest"`
	AutoDestroy bool              `json:"auto_destroy"`
	Restart     restartPolicy     `json:"restart"`
	Command     []string          `json:"command"`
}

type restartPolicy struct {
	Policy string `json:"policy"`
}

type createRequest struct {
	Name   string        `json:"name"`
	Region string        `json:"region,omitempty"`
	Config machineConfig `json:"config"`
}

type machine struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	State  string `json:"state"`
	Region string `json:"region"`
}

// Adapter is the remote machines backend. It is safe for concurrent use.
type Adapter struct {
	cfg        Config
	httpClient *http.Client
	logger     *logging.Logger
}

var _ backend.Adapter = (*Adapter)(nil)

// New creates a machines adapter. It fails with bot.ErrBackendUnavailable
// when the API token or app name is missing.
func New(cfg Config, httpClient *http.Client, logger *logging.Logger) (*Adapter, error) {
	cfg = cfg.withDefaults()
	var missing []string
	if cfg.APIToken == "" {
		missing = append(missing, "api token")
	}
	if cfg.AppName == "" {
		missing = append(missing, "app name")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: remote backend needs %s", bot.ErrBackendUnavailable, strings.Join(missing, " and "))
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Adapter{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.WithBackend(bot.BackendRemote.String()),
	}, nil
}

// Kind returns bot.BackendRemote.
func (a *Adapter) Kind() bot.BackendKind { return bot.BackendRemote }

// App returns the configured app name.
func (a *Adapter) App() string { return a.cfg.AppName }

func (a *Adapter) machinesURL(parts ...string) string {
	u := a.cfg.BaseURL + "/apps/" + url.PathEscape(a.cfg.AppName) + "/machines"
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

// payload builds the create request for spec.
func (a *Adapter) payload(spec bot.LaunchSpec) createRequest {
	env := make(map[string]string, len(a.cfg.Env)+len(spec.Env))
	for k, v := range a.cfg.Env {
		if k != "" && v != "" {
			env[k] = v
		}
	}
	for k, v := range spec.CleanEnv() {
		env[k] = v
	}

	cmd := append(append([]string{}, a.cfg.Command...), spec.Args()...)
	return createRequest{
		Name:   machineName(spec.ProvisionalID),
		Region: a.cfg.Region,
		Config: machineConfig{
			Image:       a.cfg.Image,
			Env:         env,
			Guest:       a.cfg.Guest,
			AutoDestroy: true,
			Restart:     restartPolicy{Policy: "no"},
			Command:     cmd,
		},
	}
}

// Launch creates a machine for spec and returns its id. Failures are
// returned as *bot.RemoteAPIError and are not retried.
func (a *Adapter) Launch(ctx context.Context, spec bot.LaunchSpec) (string, error) {
	logger := a.logger.WithBot(spec.ProvisionalID).WithRoom(spec.RoomURL)

	body, err := json.Marshal(a.payload(spec))
	if err != nil {
		return "", fmt.Errorf("marshal create request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.machinesURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	a.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		apiErr := &bot.RemoteAPIError{Op: "create", Cause: bot.RemoteTransport, Err: err}
		logger.Error("machine create failed", "error", apiErr.Error())
		return "", apiErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := responseError("create", resp)
		logger.Error("machine create rejected",
			"status", resp.StatusCode,
			"cause", string(apiErr.Cause),
		)
		return "", apiErr
	}

	var m machine
	decodeErr := json.NewDecoder(resp.Body).Decode(&m)
	if decodeErr != nil && errors.Is(decodeErr, io.EOF) {
		decodeErr = nil
	}
	if m.ID == "" {
		// The machine may exist under its name even though the response
		// lost its id.
		name := machineName(spec.ProvisionalID)
		found, err := a.lookupByName(ctx, name)
		if err != nil || found.ID == "" {
			apiErr := &bot.RemoteAPIError{
				Op:         "create",
				StatusCode: resp.StatusCode,
				Cause:      bot.RemoteUnexpected,
				Body:       "response carried no machine id and no machine is named " + name,
				Err:        errors.Join(decodeErr, err),
			}
			logger.Error("machine create unconfirmed", "status", resp.StatusCode, "error", apiErr.Error())
			return "", apiErr
		}
		logger.Warn("machine id recovered by name", "name", name)
		m = found
	}
	logger.Info("machine created", "machine_id", m.ID, "state", m.State, "region", m.Region)
	return m.ID, nil
}

func machineName(provisionalID string) string {
	return "bot-" + provisionalID
}

// lookupByName lists the app's machines and returns the one called name.
// A zero machine with a nil error means none matched.
func (a *Adapter) lookupByName(ctx context.Context, name string) (machine, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.machinesURL(), nil)
	if err != nil {
		return machine{}, fmt.Errorf("list request: %w", err)
	}
	a.setHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return machine{}, &bot.RemoteAPIError{Op: "list", Cause: bot.RemoteTransport, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return machine{}, responseError("list", resp)
	}

	var list []machine
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&list); err != nil {
		return machine{}, fmt.Errorf("decode machine list: %w", err)
	}
	for _, m := range list {
		if m.Name == name {
			return m, nil
		}
	}
	return machine{}, nil
}

// Query fetches the machine and maps its state to a canonical status.
func (a *Adapter) Query(ctx context.Context, id string) (bot.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StatusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.machinesURL(id), nil)
	if err != nil {
		return bot.StatusUnknown, fmt.Errorf("create request: %w", err)
	}
	a.setHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return bot.StatusUnknown, fmt.Errorf("%w: %w", bot.ErrTransient,
			&bot.RemoteAPIError{Op: "get", Cause: bot.RemoteTransport, Err: err})
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return bot.StatusUnknown, backend.ErrNotFound
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return bot.StatusUnknown, fmt.Errorf("%w: %w", bot.ErrTransient, responseError("get", resp))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return bot.StatusUnknown, responseError("get", resp)
	}

	var m machine
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return bot.StatusUnknown, fmt.Errorf("%w: decode machine: %v", bot.ErrTransient, err)
	}
	return bot.StatusFromMachineState(m.State), nil
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIToken)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
}

func responseError(op string, resp *http.Response) *bot.RemoteAPIError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &bot.RemoteAPIError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(b)),
		Cause:      bot.ClassifyRemoteStatus(resp.StatusCode),
	}
}

// EnvKeys returns the sorted names of the variables every machine receives.
func (a *Adapter) EnvKeys() []string {
	keys := make([]string, 0, len(a.cfg.Env))
	for k, v := range a.cfg.Env {
		if k != "" && v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
