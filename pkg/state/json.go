package state

import "encoding/json"

func jsonUnmarshalString(raw json.RawMessage, out *string) bool {
	return json.Unmarshal(raw, out) == nil
}

func jsonUnmarshalStrings(raw json.RawMessage) []string {
	var ids []string
	if json.Unmarshal(raw, &ids) != nil {
		return nil
	}
	return ids
}
