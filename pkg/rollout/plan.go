// Package rollout builds the reconfigured device template and the per-device
// overrides pushed when a template change is rolled out to attached devices.
package rollout

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/edge-orchestrator/pkg/controller"
)

// Plan describes a reconfigure-and-rollout: the feature template to add, where
// to splice it into the cloned device template, and the overrides rendered
// per device.
type Plan struct {
	CloneSuffix        string          `yaml:"clone_suffix"`
	ParentTemplateType string          `yaml:"parent_template_type"`
	FeatureTemplate    FeatureTemplate `yaml:"feature_template"`
	Overrides          []OverrideRule  `yaml:"overrides"`
}

// FeatureTemplate is the declarative definition of the feature template
// created by a rollout.
type FeatureTemplate struct {
	Name           string                 `yaml:"name"`
	Description    string                 `yaml:"description"`
	TemplateType   string                 `yaml:"template_type"`
	DeviceTypes    []string               `yaml:"device_types"`
	MinVersion     string                 `yaml:"min_version"`
	ConfigType     string                 `yaml:"config_type"`
	ResourceGroup  string                 `yaml:"resource_group"`
	FactoryDefault bool                   `yaml:"factory_default"`
	Definition     map[string]interface{} `yaml:"definition"`
}

// OverrideRule sets Key to the rendered Value template. Value is a pongo2
// template evaluated with the device counter and the device record.
type OverrideRule struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// Payload returns the controller request body creating the feature template.
func (f FeatureTemplate) Payload() controller.Definition {
	deviceTypes := make([]interface{}, len(f.DeviceTypes))
	for i, d := range f.DeviceTypes {
		deviceTypes[i] = d
	}
	return controller.Definition{
		"templateName":        f.Name,
		"templateDescription": f.Description,
		"templateType":        f.TemplateType,
		"deviceType":          deviceTypes,
		"templateMinVersion":  f.MinVersion,
		"templateDefinition":  f.Definition,
		"factoryDefault":      f.FactoryDefault,
		"configType":          f.ConfigType,
		"resourceGroup":       f.ResourceGroup,
	}
}

func variable(name string) map[string]interface{} {
	return map[string]interface{}{
		"vipObjectType":   "object",
		"vipType":         "variableName",
		"vipValue":        "",
		"vipVariableName": name,
	}
}

// DefaultPlan returns the built-in SVI 100 rollout.
func DefaultPlan() *Plan {
	return &Plan{
		CloneSuffix:        "-Changed",
		ParentTemplateType: "cisco_vpn",
		FeatureTemplate: FeatureTemplate{
			Name:          "C8000v-Alvin-Test-SVI-100",
			Description:   "C8000v-Alvin-Test-SVI-100",
			TemplateType:  "vpn-interface-svi",
			DeviceTypes:   []string{"vedge-C8000V"},
			MinVersion:    "15.0.0",
			ConfigType:    "xml",
			ResourceGroup: "global",
			Definition: map[string]interface{}{
				"if-name":     variable("vpn_if_svi_100_if_name"),
				"description": variable("vpn_if_svi_100_description"),
				"ip": map[string]interface{}{
					"address": variable("vpn_if_svi_100_if_ipv4_prefix"),
				},
				"shutdown": map[string]interface{}{
					"vipObjectType":   "object",
					"vipType":         "constant",
					"vipValue":        "false",
					"vipVariableName": "vpn_if_svi_shutdown",
				},
			},
		},
		Overrides: []OverrideRule{
			{Key: "csv-deviceIP", Value: "10.10.119.{{ counter }}"},
			{Key: "csv-host-name", Value: "api-test-{{ counter }}"},
			{Key: "//system/host-name", Value: "api-test-{{ counter }}"},
			{Key: "//system/system-ip", Value: "10.10.119.{{ counter }}"},
			{Key: "//system/site-id", Value: "119"},
			{Key: "/0/vpn_if_svi_100_if_name/interface/if-name", Value: "Vlan100"},
			{Key: "/0/vpn_if_svi_100_if_name/interface/description", Value: "Changed by API"},
			{Key: "/0/vpn_if_svi_100_if_name/interface/ip/address", Value: "100.100.100.{{ counter }}/24"},
		},
	}
}

// LoadPlan reads a plan from a YAML file. Fields left out of the file keep
// their built-in values; a file that defines a feature template must define it
// completely.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rollout plan: %w", err)
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse rollout plan: %w", err)
	}

	defaults := DefaultPlan()
	if plan.CloneSuffix == "" {
		plan.CloneSuffix = defaults.CloneSuffix
	}
	if plan.ParentTemplateType == "" {
		plan.ParentTemplateType = defaults.ParentTemplateType
	}
	if plan.FeatureTemplate.Name == "" && plan.FeatureTemplate.Definition == nil {
		plan.FeatureTemplate = defaults.FeatureTemplate
	}
	if len(plan.Overrides) == 0 {
		plan.Overrides = defaults.Overrides
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ValidationError represents a plan validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks that the plan can be executed.
func (p *Plan) Validate() error {
	var errs ValidationErrors

	if p.CloneSuffix == "" {
		errs = append(errs, ValidationError{"clone_suffix", "required field"})
	}
	if p.ParentTemplateType == "" {
		errs = append(errs, ValidationError{"parent_template_type", "required field"})
	}

	ft := p.FeatureTemplate
	if ft.Name == "" {
		errs = append(errs, ValidationError{"feature_template.name", "required field"})
	}
	if ft.TemplateType == "" {
		errs = append(errs, ValidationError{"feature_template.template_type", "required field"})
	}
	if len(ft.DeviceTypes) == 0 {
		errs = append(errs, ValidationError{"feature_template.device_types", "must have at least one device type"})
	}
	if len(ft.Definition) == 0 {
		errs = append(errs, ValidationError{"feature_template.definition", "required field"})
	}

	seen := make(map[string]bool)
	for i, o := range p.Overrides {
		field := fmt.Sprintf("overrides[%d]", i)
		if o.Key == "" {
			errs = append(errs, ValidationError{field + ".key", "required field"})
			continue
		}
		if seen[o.Key] {
			errs = append(errs, ValidationError{field + ".key", fmt.Sprintf("duplicate key %q", o.Key)})
		}
		seen[o.Key] = true
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
