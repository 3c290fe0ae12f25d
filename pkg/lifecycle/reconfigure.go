package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/yourorg/edge-orchestrator/pkg/catalog"
	"github.com/yourorg/edge-orchestrator/pkg/controller"
	"github.com/yourorg/edge-orchestrator/pkg/rollout"
	"github.com/yourorg/edge-orchestrator/pkg/templateinput"
)

var reconfigureEvents = fsm.Events{
	{Name: "resolve", Src: []string{stateStart}, Dst: "resolved"},
	{Name: "fetch_definition", Src: []string{"resolved"}, Dst: "fetched"},
	{Name: "clone", Src: []string{"fetched"}, Dst: "cloned"},
	{Name: "add_feature_template", Src: []string{"cloned"}, Dst: "feature_added"},
	{Name: "splice", Src: []string{"feature_added"}, Dst: "spliced"},
	{Name: "add_device_template", Src: []string{"spliced"}, Dst: "template_added"},
	{Name: "list_attached", Src: []string{"template_added"}, Dst: "enumerated"},
}

var rolloutDeviceEvents = fsm.Events{
	{Name: "fetch_input", Src: []string{stateStart}, Dst: "fetched"},
	{Name: "override", Src: []string{"fetched"}, Dst: "overridden"},
	{Name: "attach", Src: []string{"overridden"}, Dst: "attached"},
	{Name: "pace", Src: []string{"attached"}, Dst: "paced"},
}

// rolloutTarget is the device template built by a reconfigure.
type rolloutTarget struct {
	sourceID string
	newID    string
	devices  []controller.Device
}

// Reconfigure clones the device template named templateName with the plan's
// feature template spliced in, then moves every device attached to the
// original onto the clone one at a time, pausing between devices.
func (o *Operations) Reconfigure(ctx context.Context, snapshot *catalog.Snapshot, templateName string) (*Report, error) {
	ctx, _ = o.begin(ctx, WorkflowReconfigure, templateName)

	plan := o.settings.Plan
	renderer, err := rollout.NewRenderer(plan.Overrides)
	if err != nil {
		return o.single(ctx, WorkflowReconfigure, templateName, err)
	}

	target, err := o.buildTarget(ctx, o.resolver(snapshot), templateName)
	if err != nil {
		return o.single(ctx, WorkflowReconfigure, templateName, err)
	}

	pushed := 0
	tasks := make([]rowTask, 0, len(target.devices))
	for i, device := range target.devices {
		device := device
		counter := i + 1
		last := counter == len(target.devices)
		tasks = append(tasks, rowTask{
			number:  counter,
			subject: deviceSubject(device),
			run: func(ctx context.Context) error {
				// tasks run one at a time, pushed needs no lock
				return o.rolloutDevice(ctx, renderer, target, device, counter, last, &pushed)
			},
		})
	}

	return o.finish(ctx, o.runTasks(ctx, WorkflowReconfigure, tasks, 1))
}

func (o *Operations) buildTarget(ctx context.Context, resolver *catalog.Resolver, templateName string) (*rolloutTarget, error) {
	plan := o.settings.Plan
	suffix := plan.CloneSuffix
	if o.settings.CloneSuffix != "" {
		suffix = o.settings.CloneSuffix
	}

	m := o.newMachine(WorkflowReconfigure, templateName, reconfigureEvents)
	target := &rolloutTarget{}

	var (
		definition controller.Definition
		clone      controller.Definition
		featureID  string
	)

	if err := m.step(ctx, "resolve", func(ctx context.Context) error {
		id, err := resolver.TemplateID(templateName)
		if err != nil {
			return err
		}
		target.sourceID = id

		cloneName := templateName + suffix
		existing, err := resolver.Template(cloneName)
		var dup *catalog.DuplicateNameError
		switch {
		case err == nil:
			return &catalog.NameTakenError{Kind: catalog.KindTemplate, Name: cloneName, ID: existing.TemplateID}
		case errors.As(err, &dup):
			return &catalog.NameTakenError{Kind: catalog.KindTemplate, Name: cloneName, ID: strings.Join(dup.IDs, ", ")}
		case !errors.As(err, new(*catalog.NotFoundError)):
			return err
		}

		features, err := o.client.ListFeatureTemplates(ctx)
		if err != nil {
			return err
		}
		for _, f := range features {
			if f.TemplateName == plan.FeatureTemplate.Name {
				return &catalog.NameTakenError{Kind: catalog.KindFeatureTemplate, Name: f.TemplateName, ID: f.TemplateID}
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := m.step(ctx, "fetch_definition", func(ctx context.Context) error {
		var err error
		definition, err = o.client.GetDeviceTemplate(ctx, target.sourceID)
		return err
	}); err != nil {
		return nil, err
	}

	if err := m.step(ctx, "clone", func(context.Context) error {
		var err error
		clone, err = rollout.CloneDeviceTemplate(definition, suffix)
		if err != nil {
			return err
		}
		// checked before anything is created on the controller
		return rollout.CheckParent(clone, plan.ParentTemplateType)
	}); err != nil {
		return nil, err
	}

	if err := m.step(ctx, "add_feature_template", func(ctx context.Context) error {
		var err error
		featureID, err = o.client.AddFeatureTemplate(ctx, plan.FeatureTemplate.Payload())
		return err
	}); err != nil {
		return nil, err
	}

	if err := m.step(ctx, "splice", func(context.Context) error {
		_, err := rollout.SpliceFeatureTemplate(clone, plan.ParentTemplateType, featureID, plan.FeatureTemplate.TemplateType)
		return err
	}); err != nil {
		return nil, err
	}

	if err := m.step(ctx, "add_device_template", func(ctx context.Context) error {
		var err error
		target.newID, err = o.client.AddDeviceTemplate(ctx, clone)
		return err
	}); err != nil {
		return nil, err
	}

	if err := m.step(ctx, "list_attached", func(ctx context.Context) error {
		var err error
		target.devices, err = o.client.GetAttachedDevices(ctx, target.sourceID)
		return err
	}); err != nil {
		return nil, err
	}

	o.logger.Info("reconfigured template created",
		zap.String("template", templateName),
		zap.String("source_template_id", target.sourceID),
		zap.String("template_id", target.newID),
		zap.String("feature_template_id", featureID),
		zap.Int("attached_devices", len(target.devices)))
	return target, nil
}

func (o *Operations) rolloutDevice(ctx context.Context, renderer *rollout.Renderer, target *rolloutTarget,
	device controller.Device, counter int, last bool, pushed *int) error {
	m := o.newMachine(WorkflowReconfigure, device.UUID, rolloutDeviceEvents)

	unlock := o.locks.lock(device.UUID)
	defer unlock()

	var set *templateinput.InputSet
	if err := m.step(ctx, "fetch_input", func(ctx context.Context) error {
		sets, err := o.client.GetTemplateInput(ctx, target.newID, []string{device.UUID})
		if err != nil {
			return err
		}
		if len(sets) == 0 {
			return fmt.Errorf("no template input returned for %s", device.UUID)
		}
		set = templateinput.StripTransient(sets[0])
		return nil
	}); err != nil {
		return err
	}

	if err := m.step(ctx, "override", func(context.Context) error {
		overrides, err := renderer.Render(counter, device)
		if err != nil {
			return err
		}
		set = templateinput.ApplyOverrides(set, overrides)
		return nil
	}); err != nil {
		return err
	}

	if err := m.step(ctx, "attach", func(ctx context.Context) error {
		action, err := o.client.AttachTemplate(ctx, target.newID, []*templateinput.InputSet{set})
		if err != nil {
			return err
		}
		*pushed++
		o.metrics.IncRolloutDevice()
		fmt.Fprintf(o.out, "Deployed changes to %d device(s)\n", *pushed)
		o.logger.Info("rollout pushed",
			zap.String("device_uuid", device.UUID),
			zap.Int("counter", counter),
			zap.String("action_id", action.ID))
		return nil
	}); err != nil {
		return err
	}

	if last {
		return nil
	}
	return m.step(ctx, "pace", func(ctx context.Context) error {
		return o.sleep(ctx, o.settings.RolloutPacing)
	})
}

func deviceSubject(d controller.Device) string {
	if d.HostName != "" {
		return d.HostName
	}
	return d.UUID
}
