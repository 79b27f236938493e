package mgmtdriver

import (
	"encoding/json"
	"fmt"

	"github.com/piwi3910/vnfm/internal/models"
)

// mergeableKeys are the instance attributes a hook fragment may change.
var mergeableKeys = []string{"metadata", "extensions", "vnfConfigurableProperties"}

// MergeFragment merges the vnf_instance fragment returned by a hook into
// inst. Only metadata, extensions, vnfConfigurableProperties and
// instantiatedVnfInfo.metadata are merged; nested objects merge key by key
// and a null value deletes the key. Other attributes are ignored.
func MergeFragment(inst *models.VnfInstance, fragment map[string]interface{}) error {
	if len(fragment) == 0 {
		return nil
	}

	var doc map[string]interface{}
	if err := roundTrip(inst, &doc); err != nil {
		return err
	}

	for _, key := range mergeableKeys {
		if patch, ok := fragment[key].(map[string]interface{}); ok {
			doc[key] = mergeObject(asObject(doc[key]), patch)
		}
	}
	if info, ok := fragment["instantiatedVnfInfo"].(map[string]interface{}); ok {
		if patch, ok := info["metadata"].(map[string]interface{}); ok {
			if target, ok := doc["instantiatedVnfInfo"].(map[string]interface{}); ok {
				target["metadata"] = mergeObject(asObject(target["metadata"]), patch)
			}
		}
	}

	var merged models.VnfInstance
	if err := roundTrip(doc, &merged); err != nil {
		return err
	}
	*inst = merged
	return nil
}

// MergeErrData folds the user script error data of a new failure into the
// data kept from earlier attempts. Top-level keys of update replace those
// of base; keys absent from update are kept.
func MergeErrData(base, update map[string]interface{}) map[string]interface{} {
	if len(base) == 0 && len(update) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(base)+len(update))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}

func mergeObject(target, patch map[string]interface{}) map[string]interface{} {
	if target == nil {
		target = make(map[string]interface{}, len(patch))
	}
	for k, v := range patch {
		if v == nil {
			delete(target, k)
			continue
		}
		if p, ok := v.(map[string]interface{}); ok {
			target[k] = mergeObject(asObject(target[k]), p)
			continue
		}
		target[k] = v
	}
	return target
}

func asObject(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func roundTrip(in, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to merge hook output: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("failed to merge hook output: %w", err)
	}
	return nil
}
