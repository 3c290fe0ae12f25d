package controller

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/yourorg/edge-orchestrator/pkg/metrics"
	"github.com/yourorg/edge-orchestrator/pkg/templateinput"
)

const (
	apiPrefix       = "/dataservice"
	loginPath       = "/j_security_check"
	tokenPath       = apiPrefix + "/client/token"
	xsrfTokenHeader = "X-XSRF-TOKEN"
)

// VManageClient talks to the vManage REST API over an authenticated session.
type VManageClient struct {
	session    Session
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *metrics.Metrics
	userAgent  string

	mu        sync.RWMutex
	xsrfToken string
}

// Option configures a VManageClient.
type Option func(*VManageClient)

// WithMetrics records every API call in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *VManageClient) {
		c.metrics = m
	}
}

// WithUserAgent sets the User-Agent sent on every request.
func WithUserAgent(ua string) Option {
	return func(c *VManageClient) {
		c.userAgent = ua
	}
}

// NewVManageClient creates a client for session. Call Login before use.
func NewVManageClient(session Session, logger *zap.Logger, opts ...Option) (*VManageClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if session.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	c := &VManageClient{
		session: session,
		httpClient: &http.Client{
			Jar:       jar,
			Timeout:   session.Timeout,
			Transport: transport,
		},
		logger: logger,
	}
	c.session.BaseURL = strings.TrimSuffix(session.BaseURL, "/")
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// HTTPClient exposes the underlying client.
func (c *VManageClient) HTTPClient() *http.Client {
	return c.httpClient
}

// Login opens a session with form credentials and fetches the XSRF token
// required on every subsequent call.
func (c *VManageClient) Login(ctx context.Context) error {
	form := url.Values{
		"j_username": {c.session.Username},
		"j_password": {c.session.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.session.BaseURL+loginPath,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RemoteCallError{Method: http.MethodPost, Path: loginPath, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &RemoteCallError{Method: http.MethodPost, Path: loginPath, StatusCode: resp.StatusCode, Body: string(body)}
	}
	// a rejected login answers 200 with the login page
	if bytes.Contains(bytes.ToLower(body), []byte("<html")) {
		return ErrAuthentication
	}

	token, err := c.fetchToken(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.xsrfToken = token
	c.mu.Unlock()

	c.logger.Info("controller session established",
		zap.String("base_url", c.session.BaseURL),
		zap.String("username", c.session.Username))
	return nil
}

func (c *VManageClient) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.session.BaseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &RemoteCallError{Method: http.MethodGet, Path: tokenPath, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &RemoteCallError{Method: http.MethodGet, Path: tokenPath, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return strings.TrimSpace(string(body)), nil
}

// ListDeviceTemplates returns all device templates.
func (c *VManageClient) ListDeviceTemplates(ctx context.Context) ([]Template, error) {
	var out struct {
		Data []Template `json:"data"`
	}
	if err := c.read(ctx, "list_device_templates", http.MethodGet, apiPrefix+"/template/device", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list device templates: %w", err)
	}
	return out.Data, nil
}

// ListFeatureTemplates returns all feature templates.
func (c *VManageClient) ListFeatureTemplates(ctx context.Context) ([]Template, error) {
	var out struct {
		Data []Template `json:"data"`
	}
	if err := c.read(ctx, "list_feature_templates", http.MethodGet, apiPrefix+"/template/feature", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list feature templates: %w", err)
	}
	return out.Data, nil
}

// ListDevices returns the inventory of the given category ("vedges" or
// "controllers").
func (c *VManageClient) ListDevices(ctx context.Context, category string) ([]Device, error) {
	if category == "" {
		category = "vedges"
	}
	var out struct {
		Data []Device `json:"data"`
	}
	path := apiPrefix + "/system/device/" + url.PathEscape(category)
	if err := c.read(ctx, "list_devices", http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return out.Data, nil
}

// GetDeviceTemplate returns the full definition of a device template.
func (c *VManageClient) GetDeviceTemplate(ctx context.Context, templateID string) (Definition, error) {
	var out Definition
	path := apiPrefix + "/template/device/object/" + url.PathEscape(templateID)
	if err := c.read(ctx, "get_device_template", http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get device template %s: %w", templateID, err)
	}
	return out, nil
}

// GetTemplateInput returns the variable input sets of deviceIDs against a
// device template.
func (c *VManageClient) GetTemplateInput(ctx context.Context, templateID string, deviceIDs []string) ([]*templateinput.InputSet, error) {
	body := map[string]interface{}{
		"deviceIds":      deviceIDs,
		"isEdited":       false,
		"isMasterEdited": false,
		"templateId":     templateID,
	}
	var out struct {
		Data []*templateinput.InputSet `json:"data"`
	}
	if err := c.read(ctx, "get_template_input", http.MethodPost, apiPrefix+"/template/device/config/input", body, &out); err != nil {
		return nil, fmt.Errorf("failed to get template input for %s: %w", templateID, err)
	}
	return out.Data, nil
}

// GetAttachedDevices returns the devices attached to a device template.
func (c *VManageClient) GetAttachedDevices(ctx context.Context, templateID string) ([]Device, error) {
	var out struct {
		Data []Device `json:"data"`
	}
	path := apiPrefix + "/template/device/config/attached/" + url.PathEscape(templateID)
	if err := c.read(ctx, "get_attached_devices", http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get devices attached to %s: %w", templateID, err)
	}
	return out.Data, nil
}

// AttachTemplate pushes a device template with the given input sets.
func (c *VManageClient) AttachTemplate(ctx context.Context, templateID string, inputs []*templateinput.InputSet) (*Action, error) {
	body := map[string]interface{}{
		"deviceTemplateList": []map[string]interface{}{{
			"templateId":     templateID,
			"device":         inputs,
			"isEdited":       false,
			"isMasterEdited": false,
		}},
	}
	var out Action
	if err := c.call(ctx, "attach_template", http.MethodPost, apiPrefix+"/template/device/config/attachfeature", body, &out); err != nil {
		return nil, fmt.Errorf("failed to attach template %s: %w", templateID, err)
	}
	return &out, nil
}

// DetachTemplate moves a device to CLI mode, detaching its template.
func (c *VManageClient) DetachTemplate(ctx context.Context, deviceType, deviceUUID, deviceIP string) (*Action, error) {
	body := map[string]interface{}{
		"deviceType": deviceType,
		"devices": []map[string]string{{
			"deviceId": deviceUUID,
			"deviceIP": deviceIP,
		}},
	}
	var out Action
	if err := c.call(ctx, "detach_template", http.MethodPost, apiPrefix+"/template/config/device/mode/cli", body, &out); err != nil {
		return nil, fmt.Errorf("failed to detach template from %s: %w", deviceUUID, err)
	}
	return &out, nil
}

// InvalidateCertificate marks a device certificate invalid.
func (c *VManageClient) InvalidateCertificate(ctx context.Context, chassisNumber, serialNumber string) error {
	body := []map[string]string{{
		"chasisNumber": chassisNumber,
		"serialNumber": serialNumber,
		"validity":     "invalid",
	}}
	if err := c.call(ctx, "invalidate_certificate", http.MethodPost, apiPrefix+"/certificate/save/vedge/list", body, nil); err != nil {
		return fmt.Errorf("failed to invalidate certificate of %s: %w", chassisNumber, err)
	}
	return nil
}

// SyncControllers pushes the certificate list to the control components.
func (c *VManageClient) SyncControllers(ctx context.Context) (*Action, error) {
	var out Action
	if err := c.call(ctx, "sync_controllers", http.MethodPost, apiPrefix+"/certificate/vedge/list", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to sync controllers: %w", err)
	}
	return &out, nil
}

// DecommissionDevice decommissions a device, keeping its inventory record.
func (c *VManageClient) DecommissionDevice(ctx context.Context, deviceUUID string) error {
	path := apiPrefix + "/system/device/decommission/" + url.PathEscape(deviceUUID)
	if err := c.call(ctx, "decommission_device", http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("failed to decommission %s: %w", deviceUUID, err)
	}
	return nil
}

// RemoveDevice deletes a device from the inventory.
func (c *VManageClient) RemoveDevice(ctx context.Context, deviceUUID string) error {
	path := apiPrefix + "/system/device/" + url.PathEscape(deviceUUID)
	if err := c.call(ctx, "remove_device", http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to remove %s: %w", deviceUUID, err)
	}
	return nil
}

// GetActionStatus returns the summary status of an asynchronous action.
func (c *VManageClient) GetActionStatus(ctx context.Context, actionID string) (ActionStatus, error) {
	var out struct {
		Summary struct {
			Status string `json:"status"`
		} `json:"summary"`
	}
	path := apiPrefix + "/device/action/status/" + url.PathEscape(actionID)
	if err := c.read(ctx, "get_action_status", http.MethodGet, path, nil, &out); err != nil {
		return "", fmt.Errorf("failed to get status of action %s: %w", actionID, err)
	}
	return ActionStatus(strings.ToLower(out.Summary.Status)), nil
}

// AddFeatureTemplate creates a feature template and returns its ID.
func (c *VManageClient) AddFeatureTemplate(ctx context.Context, definition Definition) (string, error) {
	var out struct {
		TemplateID string `json:"templateId"`
	}
	if err := c.call(ctx, "add_feature_template", http.MethodPost, apiPrefix+"/template/feature", definition, &out); err != nil {
		return "", fmt.Errorf("failed to add feature template: %w", err)
	}
	return out.TemplateID, nil
}

// AddDeviceTemplate creates a device template built from feature templates
// and returns its ID.
func (c *VManageClient) AddDeviceTemplate(ctx context.Context, definition Definition) (string, error) {
	var out struct {
		TemplateID string `json:"templateId"`
	}
	if err := c.call(ctx, "add_device_template", http.MethodPost, apiPrefix+"/template/device/feature", definition, &out); err != nil {
		return "", fmt.Errorf("failed to add device template: %w", err)
	}
	return out.TemplateID, nil
}

// read performs an idempotent call, retrying temporary failures with
// exponential backoff.
func (c *VManageClient) read(ctx context.Context, operation, method, path string, body, out interface{}) error {
	policy := backoff.NewExponentialBackOff()
	if c.session.Retry.InitialInterval > 0 {
		policy.InitialInterval = c.session.Retry.InitialInterval
	}
	if c.session.Retry.MaxInterval > 0 {
		policy.MaxInterval = c.session.Retry.MaxInterval
	}
	policy.MaxElapsedTime = 0

	var b backoff.BackOff = policy
	b = backoff.WithMaxRetries(b, uint64(max(c.session.Retry.MaxRetries, 0)))

	op := func() error {
		err := c.call(ctx, operation, method, path, body, out)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("controller read failed, retrying",
			zap.String("operation", operation),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}

// call performs a single request. A nil body sends no payload; a nil out
// discards the response.
func (c *VManageClient) call(ctx context.Context, operation, method, path string, body, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveControllerCall(operation, time.Since(start), err)
	}()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.session.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.xsrfToken != "" {
		req.Header.Set(xsrfTokenHeader, c.xsrfToken)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RemoteCallError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RemoteCallError{Method: method, Path: path, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteCallError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
	}

	c.logger.Debug("controller call",
		zap.String("operation", operation),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode))

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
