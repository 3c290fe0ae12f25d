package rollout

import (
	"fmt"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"

	"github.com/yourorg/edge-orchestrator/pkg/controller"
	"github.com/yourorg/edge-orchestrator/pkg/templateinput"
)

var registerFilters sync.Once

// zfill pads a value with leading zeros to the given width.
func zfill(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	width := param.Integer()
	s := in.String()
	if width <= len(s) {
		return in, nil
	}
	return pongo2.AsValue(strings.Repeat("0", width-len(s)) + s), nil
}

// Renderer renders the override rules of a plan for each device.
type Renderer struct {
	rules     []OverrideRule
	templates []*pongo2.Template
}

// NewRenderer compiles the plan override rules.
func NewRenderer(rules []OverrideRule) (*Renderer, error) {
	registerFilters.Do(func() {
		if !pongo2.FilterExists("zfill") {
			_ = pongo2.RegisterFilter("zfill", zfill)
		}
	})

	r := &Renderer{rules: rules}
	for _, rule := range rules {
		// values are plain configuration text, never HTML
		tpl, err := pongo2.FromString("{% autoescape off %}" + rule.Value + "{% endautoescape %}")
		if err != nil {
			return nil, fmt.Errorf("failed to parse override %q: %w", rule.Key, err)
		}
		r.templates = append(r.templates, tpl)
	}
	return r, nil
}

// Render returns the overrides for the counter-th device (counting from 1).
func (r *Renderer) Render(counter int, device controller.Device) (templateinput.Overrides, error) {
	ctx := pongo2.Context{
		"counter": counter,
		"device": map[string]interface{}{
			"uuid":      device.UUID,
			"chassis":   device.ChassisNumber,
			"serial":    device.SerialNumber,
			"host_name": device.HostName,
			"ip":        device.DeviceIP,
			"type":      device.DeviceType,
		},
	}

	out := make(templateinput.Overrides, 0, len(r.rules))
	for i, tpl := range r.templates {
		value, err := tpl.Execute(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to render override %q: %w", r.rules[i].Key, err)
		}
		out = append(out, templateinput.Override{Key: r.rules[i].Key, Value: value})
	}
	return out, nil
}
