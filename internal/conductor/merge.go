package conductor

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/piwi3910/vnfm/internal/models"
)

// mergePatch applies patch to target with RFC 7386 semantics: a null
// value deletes the key and nested objects merge recursively.
func mergePatch(target, patch map[string]interface{}) (map[string]interface{}, error) {
	if len(patch) == 0 {
		return target, nil
	}
	var out map[string]interface{}
	if err := applyMergePatch(target, patch, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// mergeVimConnections merges VIM connection info keyed by connection id.
func mergeVimConnections(target, patch map[string]models.VimConnectionInfo) (map[string]models.VimConnectionInfo, error) {
	if len(patch) == 0 {
		return target, nil
	}
	var out map[string]models.VimConnectionInfo
	if err := applyMergePatch(target, patch, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func applyMergePatch(target, patch, out interface{}) error {
	doc, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("failed to encode merge target: %w", err)
	}
	if string(doc) == "null" {
		doc = []byte("{}")
	}
	p, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to encode merge patch: %w", err)
	}
	merged, err := jsonpatch.MergePatch(doc, p)
	if err != nil {
		return fmt.Errorf("failed to apply merge patch: %w", err)
	}
	if err := json.Unmarshal(merged, out); err != nil {
		return fmt.Errorf("failed to decode merge result: %w", err)
	}
	return nil
}
