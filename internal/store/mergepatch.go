package store

import "encoding/json"

// MergePatch applies an RFC 7396 JSON merge patch: for each key in patch,
// if both sides are objects, recurse; otherwise the patch value replaces
// the target. A null in the patch deletes the key. Array values are
// replaced wholesale, never merged element-wise.
func MergePatch(target, patch json.RawMessage) (json.RawMessage, error) {
	var targetVal any
	if len(target) > 0 {
		if err := json.Unmarshal(target, &targetVal); err != nil {
			return nil, err
		}
	}
	var patchVal any
	if len(patch) > 0 {
		if err := json.Unmarshal(patch, &patchVal); err != nil {
			return nil, err
		}
	}
	merged := mergeValue(targetVal, patchVal)
	return json.Marshal(merged)
}

func mergeValue(target, patch any) any {
	patchObj, patchIsObj := patch.(map[string]any)
	if !patchIsObj {
		// Scalars, arrays, and null all replace the target outright.
		return patch
	}

	targetObj, targetIsObj := target.(map[string]any)
	if !targetIsObj {
		targetObj = map[string]any{}
	}

	result := make(map[string]any, len(targetObj))
	for k, v := range targetObj {
		result[k] = v
	}
	for k, v := range patchObj {
		if v == nil {
			delete(result, k)
			continue
		}
		result[k] = mergeValue(result[k], v)
	}
	return result
}
