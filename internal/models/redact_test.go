package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVnfInstanceRedacted(t *testing.T) {
	inst := &VnfInstance{
		ID: "inst-1",
		VimConnectionInfo: map[string]VimConnectionInfo{
			"vim1": {
				VimType: VimTypeKubernetes,
				AccessInfo: map[string]interface{}{
					"bearer_token": "token",
					"region":       "RegionOne",
				},
			},
		},
	}

	out := inst.Redacted()
	require.NotNil(t, out)
	assert.NotContains(t, out.VimConnectionInfo["vim1"].AccessInfo, "bearer_token")
	assert.Equal(t, "RegionOne", out.VimConnectionInfo["vim1"].AccessInfo["region"])

	// The original is untouched.
	assert.Equal(t, "token", inst.VimConnectionInfo["vim1"].AccessInfo["bearer_token"])
}

func TestVnfLcmOpOccRedacted(t *testing.T) {
	op := &VnfLcmOpOcc{
		ID: "op-1",
		OperationParams: map[string]interface{}{
			"vimConnectionInfo": map[string]interface{}{
				"vim1": map[string]interface{}{
					"accessInfo": map[string]interface{}{"password": "devstack", "username": "nfv"},
				},
			},
		},
	}

	out := op.Redacted()
	access := out.OperationParams["vimConnectionInfo"].(map[string]interface{})["vim1"].(map[string]interface{})["accessInfo"].(map[string]interface{})
	assert.NotContains(t, access, "password")
	assert.Equal(t, "nfv", access["username"])

	assert.Nil(t, (*VnfLcmOpOcc)(nil).Redacted())
}

func TestWalkSensitive(t *testing.T) {
	doc := map[string]interface{}{
		"password": "p",
		"nested":   []interface{}{map[string]interface{}{"clientPassword": "c", "other": "o"}},
		"empty":    map[string]interface{}{"password": ""},
	}

	var seen []string
	err := WalkSensitive(doc, func(s string) (string, error) {
		seen = append(seen, s)
		return "x" + s, nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p", "c"}, seen)
	assert.Equal(t, "xp", doc["password"])
	assert.Equal(t, "o", doc["nested"].([]interface{})[0].(map[string]interface{})["other"])
}
