// Package controller provides the binding to the SD-WAN controller (vManage)
// REST API used by the lifecycle workflows.
package controller

import (
	"context"

	"github.com/yourorg/edge-orchestrator/pkg/templateinput"
)

// Device is a device record as returned by the controller inventory.
type Device struct {
	UUID          string `json:"uuid"`
	ChassisNumber string `json:"chasisNumber"`
	SerialNumber  string `json:"serialNumber"`
	HostName      string `json:"host-name,omitempty"`
	DeviceType    string `json:"deviceType"`
	DeviceModel   string `json:"deviceModel,omitempty"`
	DeviceIP      string `json:"deviceIP"`
	SystemIP      string `json:"system-ip,omitempty"`
	TemplateID    string `json:"templateId,omitempty"`
	Template      string `json:"template,omitempty"`
}

// Template is a device or feature template summary.
type Template struct {
	TemplateID          string `json:"templateId"`
	TemplateName        string `json:"templateName"`
	TemplateDescription string `json:"templateDescription"`
	TemplateType        string `json:"templateType,omitempty"`
	DeviceType          string `json:"deviceType,omitempty"`
	ConfigType          string `json:"configType,omitempty"`
	FactoryDefault      bool   `json:"factoryDefault"`
	DevicesAttached     int    `json:"devicesAttached"`
}

// Definition is the full structural definition of a template. It is kept as a
// generic document because the controller schema varies per template type.
type Definition map[string]interface{}

// ActionStatus is the state of an asynchronous controller action.
type ActionStatus string

// Action statuses
const (
	ActionQueued     ActionStatus = "queued"
	ActionInProgress ActionStatus = "in_progress"
	ActionDone       ActionStatus = "done"
	ActionFailed     ActionStatus = "failed"
)

// IsTerminal reports whether the action reached a final state.
func (s ActionStatus) IsTerminal() bool {
	return s == ActionDone || s == ActionFailed
}

// Action identifies an asynchronous controller action.
type Action struct {
	ID string `json:"id"`
}

// Client is the controller API surface used by the workflows.
type Client interface {
	ListDeviceTemplates(ctx context.Context) ([]Template, error)
	ListFeatureTemplates(ctx context.Context) ([]Template, error)
	ListDevices(ctx context.Context, category string) ([]Device, error)
	GetDeviceTemplate(ctx context.Context, templateID string) (Definition, error)
	GetTemplateInput(ctx context.Context, templateID string, deviceIDs []string) ([]*templateinput.InputSet, error)
	GetAttachedDevices(ctx context.Context, templateID string) ([]Device, error)
	AttachTemplate(ctx context.Context, templateID string, inputs []*templateinput.InputSet) (*Action, error)
	DetachTemplate(ctx context.Context, deviceType, deviceUUID, deviceIP string) (*Action, error)
	InvalidateCertificate(ctx context.Context, chassisNumber, serialNumber string) error
	SyncControllers(ctx context.Context) (*Action, error)
	DecommissionDevice(ctx context.Context, deviceUUID string) error
	RemoveDevice(ctx context.Context, deviceUUID string) error
	GetActionStatus(ctx context.Context, actionID string) (ActionStatus, error)
	AddFeatureTemplate(ctx context.Context, definition Definition) (string, error)
	AddDeviceTemplate(ctx context.Context, definition Definition) (string, error)
}
