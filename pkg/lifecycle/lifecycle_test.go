package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yourorg/edge-orchestrator/pkg/action"
	"github.com/yourorg/edge-orchestrator/pkg/catalog"
	"github.com/yourorg/edge-orchestrator/pkg/controller"
	"github.com/yourorg/edge-orchestrator/pkg/controller/controllertest"
	"github.com/yourorg/edge-orchestrator/pkg/mapping"
	"github.com/yourorg/edge-orchestrator/pkg/rollout"
	"github.com/yourorg/edge-orchestrator/pkg/templateinput"
)

type memoryExchange struct {
	mu     sync.Mutex
	rows   map[mapping.Kind][]mapping.Row
	sheets map[string][]*templateinput.InputSet
}

func newMemoryExchange() *memoryExchange {
	return &memoryExchange{
		rows:   make(map[mapping.Kind][]mapping.Row),
		sheets: make(map[string][]*templateinput.InputSet),
	}
}

func (m *memoryExchange) LoadRows(kind mapping.Kind) ([]mapping.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.rows[kind]
	if !ok {
		return nil, &mapping.MalformedInputError{Sheet: kind.Sheet(), Reason: "missing sheet"}
	}
	return rows, nil
}

func (m *memoryExchange) ExportInputSets(sheet string, sets []*templateinput.InputSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sheets[sheet] = sets
	return nil
}

func (m *memoryExchange) ImportInputSets(sheet string) ([]*templateinput.InputSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sets, ok := m.sheets[sheet]
	if !ok {
		return nil, &mapping.MalformedInputError{Sheet: sheet, Reason: "missing sheet"}
	}
	return sets, nil
}

type testEnv struct {
	fake   *controllertest.Fake
	ex     *memoryExchange
	ops    *Operations
	out    *bytes.Buffer
	sleeps []time.Duration
}

func newTestEnv(t *testing.T, settings Settings) *testEnv {
	t.Helper()

	logger := zaptest.NewLogger(t)
	fake := controllertest.New()
	env := &testEnv{fake: fake, ex: newMemoryExchange(), out: &bytes.Buffer{}}

	waiter := action.NewTracker(fake, action.Config{PollInterval: time.Millisecond, MaxWait: time.Second}, logger, nil)
	env.ops = NewOperations(Dependencies{
		Client: fake,
		Waiter: waiter,
		Logger: logger,
		Out:    env.out,
	}, settings)
	env.ops.sleep = func(_ context.Context, d time.Duration) error {
		env.sleeps = append(env.sleeps, d)
		return nil
	}
	return env
}

func testSnapshot() *catalog.Snapshot {
	return catalog.NewSnapshot(
		[]controller.Template{
			{TemplateID: "T1", TemplateName: "Branch"},
			{TemplateID: "T2", TemplateName: "Hub"},
		},
		[]controller.Device{
			{UUID: "U1", ChassisNumber: "C1", SerialNumber: "S1", HostName: "edge-1", DeviceType: "vedge", DeviceIP: "10.0.0.1", TemplateID: "T1"},
			{UUID: "U2", ChassisNumber: "C2", SerialNumber: "S2", HostName: "edge-2", DeviceType: "vedge", DeviceIP: "10.0.0.2"},
			{UUID: "U7", ChassisNumber: "C7", SerialNumber: "S7", HostName: "edge-7", DeviceType: "vedge", DeviceIP: "10.0.0.7", TemplateID: "T1"},
		},
	)
}

func TestCommissionLinkExportsStrippedInput(t *testing.T) {
	env := newTestEnv(t, DefaultSettings())
	env.ex.rows[mapping.KindCommission] = []mapping.Row{
		{Number: 2, TemplateName: "Branch", ChassisNumbers: []string{"C1"}},
	}

	report, err := env.ops.Commission(context.Background(), testSnapshot(), env.ex, PhaseLink)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded())

	calls := env.fake.CallsTo("GetTemplateInput")
	require.Len(t, calls, 1)
	assert.Equal(t, []interface{}{"T1", []string{"U1"}}, calls[0].Args)

	exported := env.ex.sheets["Branch"]
	require.Len(t, exported, 1)
	assert.False(t, exported[0].Has(templateinput.FieldStatus))
	assert.Equal(t, "U1", exported[0].DeviceID())
	assert.Empty(t, env.fake.CallsTo("AttachTemplate"))
}

func TestCommissionAttachSubmitsImportedInput(t *testing.T) {
	env := newTestEnv(t, DefaultSettings())
	env.ex.rows[mapping.KindCommission] = []mapping.Row{
		{Number: 2, TemplateName: "Branch", ChassisNumbers: []string{"C1"}},
	}
	env.ex.sheets["Branch"] = []*templateinput.InputSet{templateinput.New(
		templateinput.Entry{Key: templateinput.FieldStatus, Value: "complete"},
		templateinput.Entry{Key: templateinput.FieldDeviceID, Value: "U1"},
		templateinput.Entry{Key: templateinput.FieldHostName, Value: "edited"},
	)}

	_, err := env.ops.Commission(context.Background(), testSnapshot(), env.ex, PhaseAttach)
	require.NoError(t, err)

	assert.Equal(t, []string{"AttachTemplate"}, env.fake.Methods())
	call := env.fake.CallsTo("AttachTemplate")[0]
	assert.Equal(t, "T1", call.Args[0])
	sets := call.Args[1].([]*templateinput.InputSet)
	require.Len(t, sets, 1)
	assert.False(t, sets[0].Has(templateinput.FieldStatus))
	assert.Equal(t, "edited", sets[0].GetString(templateinput.FieldHostName))
}

func TestReclassifyUsesItsOwnSheet(t *testing.T) {
	env := newTestEnv(t, DefaultSettings())
	env.ex.rows[mapping.KindReclassification] = []mapping.Row{
		{Number: 2, TemplateName: "Hub", ChassisNumbers: []string{"C2"}},
	}

	_, err := env.ops.Reclassify(context.Background(), testSnapshot(), env.ex, PhaseLink)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"T2", []string{"U2"}}, env.fake.CallsTo("GetTemplateInput")[0].Args)
	assert.Contains(t, env.ex.sheets, "Hub")

	_, err = env.ops.Commission(context.Background(), testSnapshot(), env.ex, PhaseLink)
	var malformed *mapping.MalformedInputError
	assert.ErrorAs(t, err, &malformed)
}

func TestRowFailuresAreIsolated(t *testing.T) {
	env := newTestEnv(t, DefaultSettings())
	env.ex.rows[mapping.KindCommission] = []mapping.Row{
		{Number: 2, TemplateName: "Unknown", ChassisNumbers: []string{"C1"}},
		{Number: 3, Err: &mapping.MalformedInputError{Sheet: "Commission", Row: 3, Column: "DeviceChassisNumber", Reason: "empty cell"}},
		{Number: 4, TemplateName: "Branch", ChassisNumbers: []string{"C1", "CX"}},
	}

	report, err := env.ops.Commission(context.Background(), testSnapshot(), env.ex, PhaseLink)
	require.Error(t, err)
	assert.Equal(t, 1, report.Succeeded())
	assert.Equal(t, 2, report.Failed())

	var rowErrs RowErrors
	require.ErrorAs(t, err, &rowErrs)
	require.Len(t, rowErrs, 2)
	assert.Equal(t, 2, rowErrs[0].Row)

	var notFound *catalog.NotFoundError
	assert.ErrorAs(t, err, &notFound)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "resolve", stepErr.Step)

	// the unmatched chassis is dropped, the matched one still exported
	assert.Equal(t, []interface{}{"T1", []string{"U1"}}, env.fake.CallsTo("GetTemplateInput")[0].Args)
}

func TestMissingDevicePolicyFail(t *testing.T) {
	settings := DefaultSettings()
	settings.MissingPolicy = catalog.MissingFail
	env := newTestEnv(t, settings)
	env.ex.rows[mapping.KindCommission] = []mapping.Row{
		{Number: 2, TemplateName: "Branch", ChassisNumbers: []string{"C1", "CX"}},
	}

	_, err := env.ops.Commission(context.Background(), testSnapshot(), env.ex, PhaseLink)
	var notFound *catalog.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []string{"CX"}, notFound.Keys)
	assert.Empty(t, env.fake.Calls())
}

func TestDecommissionCallOrder(t *testing.T) {
	env := newTestEnv(t, DefaultSettings())

	_, err := env.ops.Decommission(context.Background(), testSnapshot(), "edge-7")
	require.NoError(t, err)

	assert.Equal(t, []string{"DetachTemplate", "InvalidateCertificate", "SyncControllers"}, env.fake.Methods())
	calls := env.fake.Calls()
	assert.Equal(t, []interface{}{"vedge", "U7", "10.0.0.7"}, calls[0].Args)
	assert.Equal(t, []interface{}{"C7", "S7"}, calls[1].Args)
}

func TestDecommissionStopsOnFailure(t *testing.T) {
	env := newTestEnv(t, DefaultSettings())
	env.fake.Errors["InvalidateCertificate"] = &controller.RemoteCallError{Method: "POST", Path: "/x", StatusCode: 500}

	_, err := env.ops.Decommission(context.Background(), testSnapshot(), "edge-7")

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "invalidate", stepErr.Step)
	assert.Equal(t, "edge-7", stepErr.Subject)
	assert.Equal(t, []string{"DetachTemplate", "InvalidateCertificate"}, env.fake.Methods())

	_, err = env.ops.Decommission(context.Background(), testSnapshot(), "edge-9")
	var notFound *catalog.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func replaceRow(viaSupport bool) []mapping.Row {
	return []mapping.Row{{Number: 2, OldChassis: "C7", NewChassis: "C2", ReplaceViaSupport: viaSupport}}
}

func TestReplaceViaSupportRemovesAfterSyncDone(t *testing.T) {
	env := newTestEnv(t, DefaultSettings())
	env.ex.rows[mapping.KindReplace] = replaceRow(true)
	env.fake.Statuses = []controller.ActionStatus{controller.ActionQueued, controller.ActionInProgress, controller.ActionDone}

	_, err := env.ops.Replace(context.Background(), testSnapshot(), env.ex)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"GetTemplateInput",
		"InvalidateCertificate",
		"SyncControllers",
		"GetActionStatus",
		"GetActionStatus",
		"GetActionStatus",
		"RemoveDevice",
		"AttachTemplate",
	}, env.fake.Methods())

	assert.Equal(t, []interface{}{"U7"}, env.fake.CallsTo("RemoveDevice")[0].Args)

	attaches := env.fake.CallsTo("AttachTemplate")
	require.Len(t, attaches, 1)
	assert.Equal(t, "T1", attaches[0].Args[0])
	sets := attaches[0].Args[1].([]*templateinput.InputSet)
	require.Len(t, sets, 1)
	assert.Equal(t, "U2", sets[0].DeviceID())
	assert.False(t, sets[0].Has(templateinput.FieldStatus))
}

func TestReplaceViaSupportAbortsOnFailedSync(t *testing.T) {
	env := newTestEnv(t, DefaultSettings())
	env.ex.rows[mapping.KindReplace] = replaceRow(true)
	env.fake.Statuses = []controller.ActionStatus{controller.ActionInProgress, controller.ActionFailed}

	_, err := env.ops.Replace(context.Background(), testSnapshot(), env.ex)

	var failed *action.FailedError
	require.ErrorAs(t, err, &failed)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "await_sync", stepErr.Step)
	assert.Empty(t, env.fake.CallsTo("RemoveDevice"))
	assert.Empty(t, env.fake.CallsTo("AttachTemplate"))
}

func TestReplaceDirectNeverRemoves(t *testing.T) {
	env := newTestEnv(t, DefaultSettings())
	env.ex.rows[mapping.KindReplace] = replaceRow(false)

	_, err := env.ops.Replace(context.Background(), testSnapshot(), env.ex)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"GetTemplateInput",
		"DecommissionDevice",
		"InvalidateCertificate",
		"SyncControllers",
		"AttachTemplate",
	}, env.fake.Methods())
	assert.Equal(t, []interface{}{"U7"}, env.fake.CallsTo("DecommissionDevice")[0].Args)
}

func TestReplaceWithoutAttachedTemplate(t *testing.T) {
	env := newTestEnv(t, DefaultSettings())
	env.ex.rows[mapping.KindReplace] = []mapping.Row{{Number: 2, OldChassis: "C2", NewChassis: "C1"}}

	_, err := env.ops.Replace(context.Background(), testSnapshot(), env.ex)
	assert.ErrorIs(t, err, ErrNoAttachedTemplate)
	assert.Empty(t, env.fake.Calls())
}

func reconfigureFixture(env *testEnv, devices int) {
	env.fake.Definitions["T1"] = controller.Definition{
		"templateId":          "T1",
		"templateName":        "Branch",
		"templateDescription": "Branch routers",
		"generalTemplates": []interface{}{
			map[string]interface{}{
				"templateId":   "F2",
				"templateType": "cisco_vpn",
				"subTemplates": []interface{}{
					map[string]interface{}{"templateId": "F3", "templateType": "cisco_vpn_interface"},
				},
			},
		},
	}
	for i := 1; i <= devices; i++ {
		env.fake.Attached["T1"] = append(env.fake.Attached["T1"], controller.Device{UUID: fmt.Sprintf("U%d", 100+i)})
	}
}

func TestReconfigureRollsOutToEveryDevice(t *testing.T) {
	env := newTestEnv(t, DefaultSettings())
	reconfigureFixture(env, 3)

	report, err := env.ops.Reconfigure(context.Background(), testSnapshot(), "Branch")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Succeeded())

	added := env.fake.CallsTo("AddDeviceTemplate")
	require.Len(t, added, 1)
	def := added[0].Args[0].(controller.Definition)
	assert.Equal(t, "Branch-Changed", def["templateName"])
	assert.NotContains(t, def, "templateId")
	subs := def["generalTemplates"].([]interface{})[0].(map[string]interface{})["subTemplates"].([]interface{})
	require.Len(t, subs, 2)
	assert.Equal(t, map[string]interface{}{"templateId": "feature-1", "templateType": "vpn-interface-svi"}, subs[1])

	attaches := env.fake.CallsTo("AttachTemplate")
	require.Len(t, attaches, 3)
	for i, call := range attaches {
		n := i + 1
		assert.Equal(t, "device-2", call.Args[0])
		set := call.Args[1].([]*templateinput.InputSet)[0]
		assert.Equal(t, fmt.Sprintf("U%d", 100+n), set.DeviceID())
		assert.Equal(t, fmt.Sprintf("10.10.119.%d", n), set.GetString(templateinput.FieldDeviceIP))
		assert.Equal(t, fmt.Sprintf("api-test-%d", n), set.GetString(templateinput.FieldHostName))
		assert.Equal(t, fmt.Sprintf("10.10.119.%d", n), set.GetString("//system/system-ip"))
		assert.Equal(t, fmt.Sprintf("100.100.100.%d/24", n), set.GetString("/0/vpn_if_svi_100_if_name/interface/ip/address"))
		assert.Equal(t, "119", set.GetString("//system/site-id"))
		assert.False(t, set.Has(templateinput.FieldStatus))
	}

	assert.Equal(t, []time.Duration{60 * time.Second, 60 * time.Second}, env.sleeps)
	assert.Contains(t, env.out.String(), "Deployed changes to 3 device(s)")
}

func TestReconfigureRejectsTakenFeatureTemplateName(t *testing.T) {
	env := newTestEnv(t, DefaultSettings())
	reconfigureFixture(env, 1)
	env.fake.FeatureTemplates = []controller.Template{{TemplateID: "F9", TemplateName: "C8000v-Alvin-Test-SVI-100"}}

	_, err := env.ops.Reconfigure(context.Background(), testSnapshot(), "Branch")

	var taken *catalog.NameTakenError
	require.ErrorAs(t, err, &taken)
	assert.Equal(t, "C8000v-Alvin-Test-SVI-100", taken.Name)
	assert.Equal(t, "F9", taken.ID)
	assert.Contains(t, err.Error(), "is already taken by F9")
	assert.Equal(t, []string{"ListFeatureTemplates"}, env.fake.Methods())
}

func TestReconfigureRejectsTakenCloneName(t *testing.T) {
	env := newTestEnv(t, DefaultSettings())
	reconfigureFixture(env, 1)
	snapshot := catalog.NewSnapshot(
		[]controller.Template{
			{TemplateID: "T1", TemplateName: "Branch"},
			{TemplateID: "T8", TemplateName: "Branch-Changed"},
		},
		nil,
	)

	_, err := env.ops.Reconfigure(context.Background(), snapshot, "Branch")

	var taken *catalog.NameTakenError
	require.ErrorAs(t, err, &taken)
	assert.Equal(t, "Branch-Changed", taken.Name)
	assert.Equal(t, "T8", taken.ID)
	assert.Empty(t, env.fake.Methods())
}

func TestReconfigureWithoutParentCreatesNothing(t *testing.T) {
	env := newTestEnv(t, DefaultSettings())
	reconfigureFixture(env, 1)
	env.fake.Definitions["T1"]["generalTemplates"] = []interface{}{
		map[string]interface{}{"templateId": "F1", "templateType": "cisco_system"},
	}

	_, err := env.ops.Reconfigure(context.Background(), testSnapshot(), "Branch")

	require.ErrorIs(t, err, rollout.ErrNoParentTemplate)
	assert.Equal(t, []string{"ListFeatureTemplates", "GetDeviceTemplate"}, env.fake.Methods())
	assert.Empty(t, env.fake.CallsTo("AddFeatureTemplate"))
	assert.Empty(t, env.fake.CallsTo("AddDeviceTemplate"))
}

func TestReconfigureContinuesPastFailedDevice(t *testing.T) {
	env := newTestEnv(t, DefaultSettings())
	reconfigureFixture(env, 2)
	env.fake.Errors["AttachTemplate"] = errors.New("push rejected")

	report, err := env.ops.Reconfigure(context.Background(), testSnapshot(), "Branch")
	require.Error(t, err)
	assert.Equal(t, 2, report.Failed())
	assert.Len(t, env.fake.CallsTo("AttachTemplate"), 2)
	assert.Empty(t, env.sleeps)
}

func TestStepOutOfOrderIsRejected(t *testing.T) {
	env := newTestEnv(t, DefaultSettings())
	m := env.ops.newMachine(WorkflowReplace, "C7", replaceEvents)

	called := false
	err := m.step(context.Background(), "remove", func(context.Context) error {
		called = true
		return nil
	})

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.False(t, called)
	assert.Equal(t, stateStart, m.state())
}

func TestDeviceLocksSerializeSameDevice(t *testing.T) {
	locks := newDeviceLocks()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("U2", "U1", "U1")
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestConcurrentRowsKeepReportOrder(t *testing.T) {
	settings := DefaultSettings()
	settings.RowConcurrency = 4
	env := newTestEnv(t, settings)
	env.ex.rows[mapping.KindCommission] = []mapping.Row{
		{Number: 2, TemplateName: "Branch", ChassisNumbers: []string{"C1"}},
		{Number: 3, TemplateName: "Hub", ChassisNumbers: []string{"C2"}},
		{Number: 4, TemplateName: "Branch", ChassisNumbers: []string{"C7"}},
	}

	report, err := env.ops.Commission(context.Background(), testSnapshot(), env.ex, PhaseLink)
	require.NoError(t, err)
	require.Len(t, report.Rows, 3)
	for i, row := range report.Rows {
		assert.Equal(t, i+2, row.Row)
	}
	assert.Len(t, env.fake.CallsTo("GetTemplateInput"), 3)
}

type recordingRecorder struct {
	mu       sync.Mutex
	started  []RunInfo
	steps    []StepEvent
	finished []*Report
}

func (r *recordingRecorder) RunStarted(_ context.Context, run RunInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, run)
}

func (r *recordingRecorder) StepCompleted(_ context.Context, step StepEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func (r *recordingRecorder) RunFinished(_ context.Context, report *Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, report)
}

func TestRecorderSeesRunAndSteps(t *testing.T) {
	rec := &recordingRecorder{}
	fake := controllertest.New()
	ops := NewOperations(Dependencies{Client: fake, Recorder: rec, Logger: zaptest.NewLogger(t)}, DefaultSettings())

	ctx := WithRunID(context.Background(), "run-1")
	_, err := ops.Decommission(ctx, testSnapshot(), "edge-1")
	require.NoError(t, err)

	require.Len(t, rec.started, 1)
	assert.Equal(t, "run-1", rec.started[0].RunID)
	assert.Equal(t, WorkflowDecommission, rec.started[0].Workflow)

	var steps []string
	for _, s := range rec.steps {
		assert.Equal(t, "run-1", s.RunID)
		steps = append(steps, s.Step)
	}
	assert.Equal(t, []string{"resolve", "detach", "invalidate", "sync"}, steps)

	require.Len(t, rec.finished, 1)
	assert.Equal(t, 1, rec.finished[0].Succeeded())

	state := ops.Tracker().GetState("run-1")
	require.NotNil(t, state)
	assert.NotNil(t, state.CompletedAt)
	assert.Equal(t, 1, state.SuccessCount)
}
