package lifecycle

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/yourorg/edge-orchestrator/pkg/catalog"
	"github.com/yourorg/edge-orchestrator/pkg/mapping"
	"github.com/yourorg/edge-orchestrator/pkg/templateinput"
)

var linkEvents = fsm.Events{
	{Name: "resolve", Src: []string{stateStart}, Dst: "resolved"},
	{Name: "fetch_input", Src: []string{"resolved"}, Dst: "fetched"},
	{Name: "export", Src: []string{"fetched"}, Dst: "exported"},
}

var attachEvents = fsm.Events{
	{Name: "resolve", Src: []string{stateStart}, Dst: "resolved"},
	{Name: "import_input", Src: []string{"resolved"}, Dst: "imported"},
	{Name: "attach", Src: []string{"imported"}, Dst: "attached"},
}

// Commission links devices to their templates (PhaseLink) or attaches the
// edited input (PhaseAttach), row by row from the Commission sheet.
func (o *Operations) Commission(ctx context.Context, snapshot *catalog.Snapshot, ex Exchange, phase Phase) (*Report, error) {
	return o.templateRows(ctx, WorkflowCommission, mapping.KindCommission, snapshot, ex, phase)
}

// Reclassify is Commission driven by the Reclassification sheet.
func (o *Operations) Reclassify(ctx context.Context, snapshot *catalog.Snapshot, ex Exchange, phase Phase) (*Report, error) {
	return o.templateRows(ctx, WorkflowReclassification, mapping.KindReclassification, snapshot, ex, phase)
}

func (o *Operations) templateRows(ctx context.Context, workflow string, kind mapping.Kind, snapshot *catalog.Snapshot, ex Exchange, phase Phase) (*Report, error) {
	if phase != PhaseLink && phase != PhaseAttach {
		return nil, fmt.Errorf("%s: unknown phase %d", workflow, phase)
	}

	ctx, _ = o.begin(ctx, workflow, phase.String())

	rows, err := ex.LoadRows(kind)
	if err != nil {
		return o.single(ctx, workflow, kind.Sheet(), err)
	}

	resolver := o.resolver(snapshot)
	tasks := make([]rowTask, 0, len(rows))
	for _, row := range rows {
		row := row
		task := rowTask{number: row.Number, subject: row.TemplateName, err: row.Err}
		if phase == PhaseLink {
			task.run = func(ctx context.Context) error {
				return o.linkRow(ctx, workflow, resolver, ex, row)
			}
		} else {
			task.run = func(ctx context.Context) error {
				return o.attachRow(ctx, workflow, resolver, ex, row)
			}
		}
		tasks = append(tasks, task)
	}

	return o.finish(ctx, o.runTasks(ctx, workflow, tasks, o.settings.RowConcurrency))
}

func (o *Operations) linkRow(ctx context.Context, workflow string, resolver *catalog.Resolver, ex Exchange, row mapping.Row) error {
	m := o.newMachine(workflow, row.TemplateName, linkEvents)

	var (
		templateID string
		uuids      []string
		sets       []*templateinput.InputSet
	)

	if err := m.step(ctx, "resolve", func(context.Context) error {
		id, err := resolver.TemplateID(row.TemplateName)
		if err != nil {
			return err
		}
		res, err := resolver.DeviceUUIDs(row.ChassisNumbers)
		if err != nil {
			return err
		}
		if len(res.Missing) > 0 {
			o.logger.Warn("devices not in inventory, skipped",
				zap.String("template", row.TemplateName),
				zap.Strings("chassis_numbers", res.Missing))
		}
		if len(res.UUIDs) == 0 {
			return &catalog.NotFoundError{Kind: catalog.KindChassis, Keys: row.ChassisNumbers}
		}
		templateID, uuids = id, res.UUIDs
		return nil
	}); err != nil {
		return err
	}

	unlock := o.locks.lock(uuids...)
	defer unlock()

	if err := m.step(ctx, "fetch_input", func(ctx context.Context) error {
		fetched, err := o.client.GetTemplateInput(ctx, templateID, uuids)
		if err != nil {
			return err
		}
		sets = make([]*templateinput.InputSet, len(fetched))
		for i, set := range fetched {
			sets[i] = templateinput.StripTransient(set)
		}
		return nil
	}); err != nil {
		return err
	}

	return m.step(ctx, "export", func(context.Context) error {
		return ex.ExportInputSets(row.TemplateName, sets)
	})
}

func (o *Operations) attachRow(ctx context.Context, workflow string, resolver *catalog.Resolver, ex Exchange, row mapping.Row) error {
	m := o.newMachine(workflow, row.TemplateName, attachEvents)

	var (
		templateID string
		sets       []*templateinput.InputSet
	)

	if err := m.step(ctx, "resolve", func(context.Context) error {
		id, err := resolver.TemplateID(row.TemplateName)
		templateID = id
		return err
	}); err != nil {
		return err
	}

	if err := m.step(ctx, "import_input", func(context.Context) error {
		imported, err := ex.ImportInputSets(row.TemplateName)
		if err != nil {
			return err
		}
		if len(imported) == 0 {
			return &mapping.MalformedInputError{Sheet: row.TemplateName, Reason: "no device input"}
		}
		sets = make([]*templateinput.InputSet, len(imported))
		for i, set := range imported {
			sets[i] = templateinput.StripTransient(set)
		}
		return nil
	}); err != nil {
		return err
	}

	deviceIDs := make([]string, len(sets))
	for i, set := range sets {
		deviceIDs[i] = set.DeviceID()
	}
	unlock := o.locks.lock(deviceIDs...)
	defer unlock()

	return m.step(ctx, "attach", func(ctx context.Context) error {
		action, err := o.client.AttachTemplate(ctx, templateID, sets)
		if err != nil {
			return err
		}
		o.logger.Info("template attach submitted",
			zap.String("template", row.TemplateName),
			zap.String("template_id", templateID),
			zap.Int("devices", len(sets)),
			zap.String("action_id", action.ID))
		return nil
	})
}
