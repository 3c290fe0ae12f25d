package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/edge-orchestrator/pkg/controller"
)

func testSnapshot() *Snapshot {
	return NewSnapshot(
		[]controller.Template{
			{TemplateID: "T1", TemplateName: "Branch"},
			{TemplateID: "T2", TemplateName: "Hub"},
			{TemplateID: "T3", TemplateName: "Hub"},
		},
		[]controller.Device{
			{UUID: "U1", ChassisNumber: "C1", HostName: "edge-1"},
			{UUID: "U2", ChassisNumber: "C2", HostName: "edge-2"},
			{UUID: "U3", ChassisNumber: "C3", HostName: "edge-2"},
		},
	)
}

func TestTemplateID(t *testing.T) {
	r := NewResolver(testSnapshot(), MissingDrop)

	id, err := r.TemplateID("Branch")
	require.NoError(t, err)
	assert.Equal(t, "T1", id)

	_, err = r.TemplateID("Nope")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, KindTemplate, nf.Kind)

	_, err = r.TemplateID("Hub")
	var dup *DuplicateNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, []string{"T2", "T3"}, dup.IDs)
}

func TestDeviceUUIDs(t *testing.T) {
	tests := []struct {
		name    string
		policy  MissingPolicy
		input   []string
		want    []string
		missing []string
		wantErr bool
	}{
		{name: "all found", policy: MissingDrop, input: []string{"C1", "C2"}, want: []string{"U1", "U2"}},
		{name: "drop unmatched", policy: MissingDrop, input: []string{"C1", "CX"}, want: []string{"U1"}, missing: []string{"CX"}},
		{name: "duplicates resolve once", policy: MissingDrop, input: []string{"C2", " C2", "C1", "C2"}, want: []string{"U2", "U1"}},
		{name: "fail on unmatched", policy: MissingFail, input: []string{"C1", "CX", "CY"}, want: []string{"U1"}, missing: []string{"CX", "CY"}, wantErr: true},
		{name: "empty input", policy: MissingFail, input: nil},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(testSnapshot(), tt.policy)
			res, err := r.DeviceUUIDs(tt.input)
			if tt.wantErr {
				var nf *NotFoundError
				require.ErrorAs(t, err, &nf)
				assert.Equal(t, tt.missing, nf.Keys)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, res.UUIDs)
			assert.Equal(t, tt.missing, res.Missing)
			assert.LessOrEqual(t, len(res.UUIDs), len(tt.input))

			seen := map[string]bool{}
			for _, u := range res.UUIDs {
				assert.False(t, seen[u], "duplicate uuid %s", u)
				seen[u] = true
			}
		})
	}
}

func TestDeviceLookups(t *testing.T) {
	r := NewResolver(testSnapshot(), MissingDrop)

	d, err := r.DeviceByChassis("C2")
	require.NoError(t, err)
	assert.Equal(t, "U2", d.UUID)

	d, err = r.DeviceByHostname("edge-1")
	require.NoError(t, err)
	assert.Equal(t, "U1", d.UUID)

	_, err = r.DeviceByHostname("edge-9")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)

	_, err = r.DeviceByHostname("edge-2")
	var dup *DuplicateNameError
	assert.ErrorAs(t, err, &dup)
}

func TestSnapshotIsImmutable(t *testing.T) {
	devices := []controller.Device{{UUID: "U1", ChassisNumber: "C1"}}
	snap := NewSnapshot(nil, devices)
	devices[0].UUID = "changed"

	got := snap.Devices()
	assert.Equal(t, "U1", got[0].UUID)
	got[0].UUID = "changed"
	assert.Equal(t, "U1", snap.Devices()[0].UUID)
}

type fakeLister struct {
	err error
}

func (f fakeLister) ListDeviceTemplates(context.Context) ([]controller.Template, error) {
	return []controller.Template{{TemplateID: "T1", TemplateName: "Branch"}}, nil
}

func (f fakeLister) ListDevices(context.Context, string) ([]controller.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []controller.Device{{UUID: "U1"}}, nil
}

func TestFetch(t *testing.T) {
	snap, err := Fetch(context.Background(), fakeLister{}, "vedges")
	require.NoError(t, err)
	assert.Len(t, snap.Templates(), 1)
	assert.Len(t, snap.Devices(), 1)

	boom := errors.New("boom")
	_, err = Fetch(context.Background(), fakeLister{err: boom}, "vedges")
	assert.ErrorIs(t, err, boom)
}

func TestParseMissingPolicy(t *testing.T) {
	p, err := ParseMissingPolicy("")
	require.NoError(t, err)
	assert.Equal(t, MissingDrop, p)

	p, err = ParseMissingPolicy("FAIL")
	require.NoError(t, err)
	assert.Equal(t, MissingFail, p)

	_, err = ParseMissingPolicy("ignore")
	assert.Error(t, err)
}
