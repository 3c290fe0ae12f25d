package lifecycle

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/yourorg/edge-orchestrator/pkg/catalog"
	"github.com/yourorg/edge-orchestrator/pkg/controller"
)

var decommissionEvents = fsm.Events{
	{Name: "resolve", Src: []string{stateStart}, Dst: "resolved"},
	{Name: "detach", Src: []string{"resolved"}, Dst: "detached"},
	{Name: "invalidate", Src: []string{"detached"}, Dst: "invalidated"},
	{Name: "sync", Src: []string{"invalidated"}, Dst: "synced"},
}

// Decommission detaches the device named hostname from its template,
// invalidates its certificate and pushes the certificate list to the
// controllers. The sync is not awaited.
func (o *Operations) Decommission(ctx context.Context, snapshot *catalog.Snapshot, hostname string) (*Report, error) {
	ctx, _ = o.begin(ctx, WorkflowDecommission, hostname)
	err := o.decommission(ctx, o.resolver(snapshot), hostname)
	return o.single(ctx, WorkflowDecommission, hostname, err)
}

func (o *Operations) decommission(ctx context.Context, resolver *catalog.Resolver, hostname string) error {
	m := o.newMachine(WorkflowDecommission, hostname, decommissionEvents)

	var device controller.Device
	if err := m.step(ctx, "resolve", func(context.Context) error {
		d, err := resolver.DeviceByHostname(hostname)
		device = d
		return err
	}); err != nil {
		return err
	}

	unlock := o.locks.lock(device.UUID)
	defer unlock()

	if err := m.step(ctx, "detach", func(ctx context.Context) error {
		_, err := o.client.DetachTemplate(ctx, device.DeviceType, device.UUID, device.DeviceIP)
		return err
	}); err != nil {
		return err
	}

	if err := m.step(ctx, "invalidate", func(ctx context.Context) error {
		return o.client.InvalidateCertificate(ctx, device.ChassisNumber, device.SerialNumber)
	}); err != nil {
		return err
	}

	return m.step(ctx, "sync", func(ctx context.Context) error {
		action, err := o.client.SyncControllers(ctx)
		if err != nil {
			return err
		}
		o.logger.Info("device decommissioned",
			zap.String("host_name", hostname),
			zap.String("device_uuid", device.UUID),
			zap.String("sync_action_id", action.ID))
		return nil
	})
}
