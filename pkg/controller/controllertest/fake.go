// Package controllertest provides an in-memory controller that records every
// call, for testing code built on controller.Client.
package controllertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/yourorg/edge-orchestrator/pkg/controller"
	"github.com/yourorg/edge-orchestrator/pkg/templateinput"
)

// Call is one recorded client call.
type Call struct {
	Method string
	Args   []interface{}
}

// Fake implements controller.Client. Configure its exported fields before use.
type Fake struct {
	mu sync.Mutex

	DeviceTemplates  []controller.Template
	FeatureTemplates []controller.Template
	Devices          []controller.Device
	// Definitions by device template ID.
	Definitions map[string]controller.Definition
	// Attached devices by device template ID.
	Attached map[string][]controller.Device
	// Inputs by template ID then device ID. Missing entries are generated.
	Inputs map[string]map[string]*templateinput.InputSet
	// Statuses returned by successive GetActionStatus calls; the last one
	// repeats. Empty means done.
	Statuses []controller.ActionStatus
	// Errors by method name.
	Errors map[string]error

	calls  []Call
	nextID int
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		Definitions: make(map[string]controller.Definition),
		Attached:    make(map[string][]controller.Device),
		Inputs:      make(map[string]map[string]*templateinput.InputSet),
		Errors:      make(map[string]error),
	}
}

var _ controller.Client = (*Fake)(nil)

// Calls returns every recorded call in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Methods returns the recorded method names in order.
func (f *Fake) Methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Method
	}
	return out
}

// CallsTo returns the recorded calls of one method.
func (f *Fake) CallsTo(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// SetInput registers the input set returned for a device against a template.
func (f *Fake) SetInput(templateID, deviceID string, set *templateinput.InputSet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Inputs[templateID] == nil {
		f.Inputs[templateID] = make(map[string]*templateinput.InputSet)
	}
	f.Inputs[templateID][deviceID] = set
}

func (f *Fake) record(method string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: method, Args: args})
	return f.Errors[method]
}

func (f *Fake) newID(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *Fake) ListDeviceTemplates(_ context.Context) ([]controller.Template, error) {
	if err := f.record("ListDeviceTemplates"); err != nil {
		return nil, err
	}
	return f.DeviceTemplates, nil
}

func (f *Fake) ListFeatureTemplates(_ context.Context) ([]controller.Template, error) {
	if err := f.record("ListFeatureTemplates"); err != nil {
		return nil, err
	}
	return f.FeatureTemplates, nil
}

func (f *Fake) ListDevices(_ context.Context, category string) ([]controller.Device, error) {
	if err := f.record("ListDevices", category); err != nil {
		return nil, err
	}
	return f.Devices, nil
}

func (f *Fake) GetDeviceTemplate(_ context.Context, templateID string) (controller.Definition, error) {
	if err := f.record("GetDeviceTemplate", templateID); err != nil {
		return nil, err
	}
	def, ok := f.Definitions[templateID]
	if !ok {
		return nil, &controller.RemoteCallError{Method: "GET", Path: "/template/device/object/" + templateID, StatusCode: 404}
	}
	return def, nil
}

func (f *Fake) GetTemplateInput(_ context.Context, templateID string, deviceIDs []string) ([]*templateinput.InputSet, error) {
	ids := append([]string(nil), deviceIDs...)
	if err := f.record("GetTemplateInput", templateID, ids); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*templateinput.InputSet
	for _, id := range deviceIDs {
		if set, ok := f.Inputs[templateID][id]; ok {
			out = append(out, set.Clone())
			continue
		}
		out = append(out, templateinput.New(
			templateinput.Entry{Key: templateinput.FieldStatus, Value: "complete"},
			templateinput.Entry{Key: templateinput.FieldDeviceID, Value: id},
			templateinput.Entry{Key: templateinput.FieldDeviceIP, Value: ""},
			templateinput.Entry{Key: templateinput.FieldHostName, Value: ""},
		))
	}
	return out, nil
}

func (f *Fake) GetAttachedDevices(_ context.Context, templateID string) ([]controller.Device, error) {
	if err := f.record("GetAttachedDevices", templateID); err != nil {
		return nil, err
	}
	return f.Attached[templateID], nil
}

func (f *Fake) AttachTemplate(_ context.Context, templateID string, inputs []*templateinput.InputSet) (*controller.Action, error) {
	sets := make([]*templateinput.InputSet, len(inputs))
	for i, s := range inputs {
		sets[i] = s.Clone()
	}
	if err := f.record("AttachTemplate", templateID, sets); err != nil {
		return nil, err
	}
	return &controller.Action{ID: f.newID("push")}, nil
}

func (f *Fake) DetachTemplate(_ context.Context, deviceType, deviceUUID, deviceIP string) (*controller.Action, error) {
	if err := f.record("DetachTemplate", deviceType, deviceUUID, deviceIP); err != nil {
		return nil, err
	}
	return &controller.Action{ID: f.newID("detach")}, nil
}

func (f *Fake) InvalidateCertificate(_ context.Context, chassisNumber, serialNumber string) error {
	return f.record("InvalidateCertificate", chassisNumber, serialNumber)
}

func (f *Fake) SyncControllers(_ context.Context) (*controller.Action, error) {
	if err := f.record("SyncControllers"); err != nil {
		return nil, err
	}
	return &controller.Action{ID: f.newID("sync")}, nil
}

func (f *Fake) DecommissionDevice(_ context.Context, deviceUUID string) error {
	return f.record("DecommissionDevice", deviceUUID)
}

func (f *Fake) RemoveDevice(_ context.Context, deviceUUID string) error {
	return f.record("RemoveDevice", deviceUUID)
}

func (f *Fake) GetActionStatus(_ context.Context, actionID string) (controller.ActionStatus, error) {
	if err := f.record("GetActionStatus", actionID); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Statuses) == 0 {
		return controller.ActionDone, nil
	}
	status := f.Statuses[0]
	if len(f.Statuses) > 1 {
		f.Statuses = f.Statuses[1:]
	}
	return status, nil
}

func (f *Fake) AddFeatureTemplate(_ context.Context, definition controller.Definition) (string, error) {
	if err := f.record("AddFeatureTemplate", definition); err != nil {
		return "", err
	}
	return f.newID("feature"), nil
}

func (f *Fake) AddDeviceTemplate(_ context.Context, definition controller.Definition) (string, error) {
	if err := f.record("AddDeviceTemplate", definition); err != nil {
		return "", err
	}
	return f.newID("device"), nil
}
