package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/yourorg/edge-orchestrator/pkg/catalog"
	"github.com/yourorg/edge-orchestrator/pkg/controller"
	"github.com/yourorg/edge-orchestrator/pkg/mapping"
	"github.com/yourorg/edge-orchestrator/pkg/templateinput"
)

// ErrNoAttachedTemplate is returned when the device being replaced has no
// device template to carry over.
var ErrNoAttachedTemplate = errors.New("device has no attached template")

// The support branch waits for the sync before removing the old device; the
// direct branch decommissions first and never removes. Both end in attach.
var replaceEvents = fsm.Events{
	{Name: "resolve", Src: []string{stateStart}, Dst: "resolved"},
	{Name: "stage_input", Src: []string{"resolved"}, Dst: "staged"},

	{Name: "invalidate", Src: []string{"staged"}, Dst: "invalidated"},
	{Name: "sync", Src: []string{"invalidated"}, Dst: "syncing"},
	{Name: "await_sync", Src: []string{"syncing"}, Dst: "synced"},
	{Name: "remove", Src: []string{"synced"}, Dst: "removed"},

	{Name: "decommission", Src: []string{"staged"}, Dst: "decommissioned"},
	{Name: "invalidate", Src: []string{"decommissioned"}, Dst: "revoked"},
	{Name: "sync", Src: []string{"revoked"}, Dst: "sync_sent"},

	{Name: "attach", Src: []string{"removed", "sync_sent"}, Dst: "attached"},
}

// Replace swaps failed devices for new ones, row by row from the RMA sheet.
// The new device takes over the old device's template and input.
func (o *Operations) Replace(ctx context.Context, snapshot *catalog.Snapshot, ex Exchange) (*Report, error) {
	ctx, _ = o.begin(ctx, WorkflowReplace, "")

	rows, err := ex.LoadRows(mapping.KindReplace)
	if err != nil {
		return o.single(ctx, WorkflowReplace, mapping.KindReplace.Sheet(), err)
	}

	resolver := o.resolver(snapshot)
	tasks := make([]rowTask, 0, len(rows))
	for _, row := range rows {
		row := row
		tasks = append(tasks, rowTask{
			number:  row.Number,
			subject: fmt.Sprintf("%s -> %s", row.OldChassis, row.NewChassis),
			err:     row.Err,
			run: func(ctx context.Context) error {
				return o.replaceRow(ctx, resolver, row)
			},
		})
	}

	return o.finish(ctx, o.runTasks(ctx, WorkflowReplace, tasks, o.settings.RowConcurrency))
}

func (o *Operations) replaceRow(ctx context.Context, resolver *catalog.Resolver, row mapping.Row) error {
	m := o.newMachine(WorkflowReplace, row.OldChassis, replaceEvents)

	var (
		oldDevice controller.Device
		newDevice controller.Device
		rebound   *templateinput.InputSet
	)

	if err := m.step(ctx, "resolve", func(context.Context) error {
		var err error
		if oldDevice, err = resolver.DeviceByChassis(row.OldChassis); err != nil {
			return err
		}
		newDevice, err = resolver.DeviceByChassis(row.NewChassis)
		return err
	}); err != nil {
		return err
	}

	unlock := o.locks.lock(oldDevice.UUID, newDevice.UUID)
	defer unlock()

	if err := m.step(ctx, "stage_input", func(ctx context.Context) error {
		if oldDevice.TemplateID == "" {
			return fmt.Errorf("%w: %s", ErrNoAttachedTemplate, oldDevice.UUID)
		}
		sets, err := o.client.GetTemplateInput(ctx, oldDevice.TemplateID, []string{oldDevice.UUID})
		if err != nil {
			return err
		}
		if len(sets) == 0 {
			return fmt.Errorf("no template input returned for %s", oldDevice.UUID)
		}
		rebound = templateinput.RebindDevice(templateinput.StripTransient(sets[0]), newDevice.UUID)
		return nil
	}); err != nil {
		return err
	}

	var err error
	if row.ReplaceViaSupport {
		err = o.replaceViaSupport(ctx, m, oldDevice)
	} else {
		err = o.replaceDirect(ctx, m, oldDevice)
	}
	if err != nil {
		return err
	}

	return m.step(ctx, "attach", func(ctx context.Context) error {
		action, err := o.client.AttachTemplate(ctx, oldDevice.TemplateID, []*templateinput.InputSet{rebound})
		if err != nil {
			return err
		}
		o.logger.Info("device replaced",
			zap.String("old_device_uuid", oldDevice.UUID),
			zap.String("new_device_uuid", newDevice.UUID),
			zap.String("template_id", oldDevice.TemplateID),
			zap.Bool("via_support", row.ReplaceViaSupport),
			zap.String("action_id", action.ID))
		return nil
	})
}

func (o *Operations) replaceViaSupport(ctx context.Context, m *machine, old controller.Device) error {
	if err := m.step(ctx, "invalidate", func(ctx context.Context) error {
		return o.client.InvalidateCertificate(ctx, old.ChassisNumber, old.SerialNumber)
	}); err != nil {
		return err
	}

	var action *controller.Action
	if err := m.step(ctx, "sync", func(ctx context.Context) error {
		var err error
		if action, err = o.client.SyncControllers(ctx); err != nil {
			return err
		}
		if action == nil || action.ID == "" {
			return errors.New("controller returned no action id for the sync")
		}
		return nil
	}); err != nil {
		return err
	}

	if err := m.step(ctx, "await_sync", func(ctx context.Context) error {
		_, err := o.waiter.Await(ctx, action.ID)
		return err
	}); err != nil {
		return err
	}

	return m.step(ctx, "remove", func(ctx context.Context) error {
		return o.client.RemoveDevice(ctx, old.UUID)
	})
}

func (o *Operations) replaceDirect(ctx context.Context, m *machine, old controller.Device) error {
	if err := m.step(ctx, "decommission", func(ctx context.Context) error {
		return o.client.DecommissionDevice(ctx, old.UUID)
	}); err != nil {
		return err
	}

	if err := m.step(ctx, "invalidate", func(ctx context.Context) error {
		return o.client.InvalidateCertificate(ctx, old.ChassisNumber, old.SerialNumber)
	}); err != nil {
		return err
	}

	return m.step(ctx, "sync", func(ctx context.Context) error {
		_, err := o.client.SyncControllers(ctx)
		return err
	})
}
