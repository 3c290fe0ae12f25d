// Package catalog resolves operator-facing identifiers (template names,
// chassis numbers, host names) into controller identifiers against a snapshot
// of the controller inventory.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yourorg/edge-orchestrator/pkg/controller"
)

// Record kinds used in errors.
const (
	KindTemplate        = "template"
	KindFeatureTemplate = "feature template"
	KindChassis         = "chassis number"
	KindHostName        = "host name"
)

// MissingPolicy decides what happens to chassis numbers with no matching device.
type MissingPolicy string

// Missing-device policies
const (
	// MissingDrop omits unmatched chassis numbers and reports them.
	MissingDrop MissingPolicy = "drop"
	// MissingFail fails resolution when any chassis number is unmatched.
	MissingFail MissingPolicy = "fail"
)

// ParseMissingPolicy parses a policy name; empty means MissingDrop.
func ParseMissingPolicy(s string) (MissingPolicy, error) {
	switch MissingPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", MissingDrop:
		return MissingDrop, nil
	case MissingFail:
		return MissingFail, nil
	default:
		return "", fmt.Errorf("unknown missing device policy %q", s)
	}
}

// Lister is the part of the controller client needed to take a snapshot.
type Lister interface {
	ListDeviceTemplates(ctx context.Context) ([]controller.Template, error)
	ListDevices(ctx context.Context, category string) ([]controller.Device, error)
}

// Snapshot is an immutable view of the device templates and devices known to
// the controller at one point in time.
type Snapshot struct {
	templates []controller.Template
	devices   []controller.Device
	takenAt   time.Time
}

// NewSnapshot creates a snapshot from copies of templates and devices.
func NewSnapshot(templates []controller.Template, devices []controller.Device) *Snapshot {
	s := &Snapshot{
		templates: make([]controller.Template, len(templates)),
		devices:   make([]controller.Device, len(devices)),
		takenAt:   time.Now(),
	}
	copy(s.templates, templates)
	copy(s.devices, devices)
	return s
}

// Fetch takes a snapshot of the controller catalog.
func Fetch(ctx context.Context, client Lister, category string) (*Snapshot, error) {
	templates, err := client.ListDeviceTemplates(ctx)
	if err != nil {
		return nil, err
	}
	devices, err := client.ListDevices(ctx, category)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(templates, devices), nil
}

// TakenAt returns when the snapshot was created.
func (s *Snapshot) TakenAt() time.Time {
	return s.takenAt
}

// Templates returns a copy of the device templates.
func (s *Snapshot) Templates() []controller.Template {
	out := make([]controller.Template, len(s.templates))
	copy(out, s.templates)
	return out
}

// Devices returns a copy of the devices.
func (s *Snapshot) Devices() []controller.Device {
	out := make([]controller.Device, len(s.devices))
	copy(out, s.devices)
	return out
}

// Resolution is the outcome of resolving a list of chassis numbers.
type Resolution struct {
	UUIDs   []string
	Missing []string
}

// Resolver answers identifier lookups against one snapshot.
type Resolver struct {
	snapshot *Snapshot
	policy   MissingPolicy
}

// NewResolver creates a resolver over snapshot.
func NewResolver(snapshot *Snapshot, policy MissingPolicy) *Resolver {
	if policy == "" {
		policy = MissingDrop
	}
	return &Resolver{snapshot: snapshot, policy: policy}
}

// Template returns the device template named name.
func (r *Resolver) Template(name string) (controller.Template, error) {
	var matches []controller.Template
	for _, t := range r.snapshot.templates {
		if t.TemplateName == name {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return controller.Template{}, &NotFoundError{Kind: KindTemplate, Keys: []string{name}}
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.TemplateID
		}
		return controller.Template{}, &DuplicateNameError{Kind: KindTemplate, Key: name, IDs: ids}
	}
}

// TemplateID returns the ID of the device template named name.
func (r *Resolver) TemplateID(name string) (string, error) {
	t, err := r.Template(name)
	if err != nil {
		return "", err
	}
	return t.TemplateID, nil
}

// DeviceUUIDs resolves chassis numbers to device UUIDs in input order.
// Repeated chassis numbers resolve once. Unmatched chassis numbers are
// reported in Missing, or fail the call under MissingFail.
func (r *Resolver) DeviceUUIDs(chassisNumbers []string) (Resolution, error) {
	var res Resolution
	seen := make(map[string]bool, len(chassisNumbers))
	for _, chassis := range chassisNumbers {
		chassis = strings.TrimSpace(chassis)
		if chassis == "" || seen[chassis] {
			continue
		}
		seen[chassis] = true

		device, err := r.DeviceByChassis(chassis)
		if err != nil {
			if _, ok := err.(*NotFoundError); ok {
				res.Missing = append(res.Missing, chassis)
				continue
			}
			return Resolution{}, err
		}
		res.UUIDs = append(res.UUIDs, device.UUID)
	}

	if len(res.Missing) > 0 && r.policy == MissingFail {
		return res, &NotFoundError{Kind: KindChassis, Keys: res.Missing}
	}
	return res, nil
}

// DeviceByChassis returns the device with the given chassis number.
func (r *Resolver) DeviceByChassis(chassis string) (controller.Device, error) {
	return r.uniqueDevice(KindChassis, chassis, func(d controller.Device) string { return d.ChassisNumber })
}

// DeviceByHostname returns the device with the given host name.
func (r *Resolver) DeviceByHostname(hostname string) (controller.Device, error) {
	return r.uniqueDevice(KindHostName, hostname, func(d controller.Device) string { return d.HostName })
}

func (r *Resolver) uniqueDevice(kind, key string, field func(controller.Device) string) (controller.Device, error) {
	var matches []controller.Device
	for _, d := range r.snapshot.devices {
		if field(d) == key {
			matches = append(matches, d)
		}
	}
	switch len(matches) {
	case 0:
		return controller.Device{}, &NotFoundError{Kind: kind, Keys: []string{key}}
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.UUID
		}
		return controller.Device{}, &DuplicateNameError{Kind: kind, Key: key, IDs: ids}
	}
}
