package rollout

import (
	"errors"
	"fmt"

	"github.com/tiendc/go-deepcopy"

	"github.com/yourorg/edge-orchestrator/pkg/controller"
)

// ErrNoParentTemplate is returned when a device template has no general
// template of the parent type to receive the new feature template.
var ErrNoParentTemplate = errors.New("no parent template to attach the feature template to")

// CloneDeviceTemplate returns a deep copy of def without its template ID and
// with suffix appended to its name and description.
func CloneDeviceTemplate(def controller.Definition, suffix string) (controller.Definition, error) {
	var clone controller.Definition
	if err := deepcopy.Copy(&clone, def); err != nil {
		return nil, fmt.Errorf("failed to copy template definition: %w", err)
	}

	delete(clone, "templateId")
	for _, field := range []string{"templateName", "templateDescription"} {
		v, ok := clone[field].(string)
		if !ok {
			return nil, fmt.Errorf("template definition has no %s", field)
		}
		clone[field] = v + suffix
	}
	return clone, nil
}

// CheckParent reports ErrNoParentTemplate when def has no general template
// of parentType that can take sub-templates.
func CheckParent(def controller.Definition, parentType string) error {
	_, err := parentTemplates(def, parentType)
	return err
}

// SpliceFeatureTemplate appends a reference to the feature template to the
// sub-templates of every general template of parentType. It returns the
// number of general templates changed.
func SpliceFeatureTemplate(def controller.Definition, parentType, featureID, featureType string) (int, error) {
	parents, err := parentTemplates(def, parentType)
	if err != nil {
		return 0, err
	}
	for _, tmpl := range parents {
		subs := tmpl["subTemplates"].([]interface{})
		tmpl["subTemplates"] = append(subs, map[string]interface{}{
			"templateId":   featureID,
			"templateType": featureType,
		})
	}
	return len(parents), nil
}

func parentTemplates(def controller.Definition, parentType string) ([]map[string]interface{}, error) {
	general, ok := def["generalTemplates"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("template definition has no generalTemplates")
	}

	var parents []map[string]interface{}
	for _, entry := range general {
		tmpl, ok := entry.(map[string]interface{})
		if !ok || tmpl["templateType"] != parentType {
			continue
		}
		if _, ok := tmpl["subTemplates"].([]interface{}); !ok {
			continue
		}
		parents = append(parents, tmpl)
	}

	if len(parents) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoParentTemplate, parentType)
	}
	return parents, nil
}
