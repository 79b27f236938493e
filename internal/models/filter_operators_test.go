package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributeFilter_Match(t *testing.T) {
	inst := &VnfInstance{
		ID:                 "inst-1",
		VnfdID:             "vnfd-1",
		VnfInstanceName:    "web",
		InstantiationState: Instantiated,
		InstantiatedVnfInfo: &InstantiatedVnfInfo{
			FlavourID: "simple",
			ScaleStatus: []ScaleInfo{
				{AspectID: "VDU1_scale", ScaleLevel: 1},
			},
		},
		VnfConfigurableProperties: map[string]interface{}{"isAutohealEnabled": true},
		VimConnectionInfo: map[string]VimConnectionInfo{
			"vim1": {VimType: "mock"},
		},
		Metadata: map[string]interface{}{"tier": "front"},
	}

	tests := []struct {
		name    string
		filter  string
		want    bool
		wantErr bool
	}{
		{name: "empty filter", filter: "", want: true},
		{name: "eq", filter: "(eq,vnfdId,vnfd-1)", want: true},
		{name: "eq mismatch", filter: "(eq,vnfdId,vnfd-2)", want: false},
		{name: "neq", filter: "(neq,instantiationState,NOT_INSTANTIATED)", want: true},
		{name: "in", filter: "(in,vnfInstanceName,db,web)", want: true},
		{name: "nin", filter: "(nin,vnfInstanceName,db,web)", want: false},
		{name: "nested", filter: "(eq,instantiatedVnfInfo/flavourId,simple)", want: true},
		{name: "descend into list", filter: "(eq,instantiatedVnfInfo/scaleStatus/aspectId,VDU1_scale)", wantErr: true},
		{name: "string gte", filter: "(gte,metadata/tier,front)", want: true},
		{name: "missing attribute", filter: "(eq,metadata/owner,alice)", want: false},
		{name: "bool", filter: "(eq,vnfConfigurableProperties/isAutohealEnabled,true)", want: true},
		{name: "bad bool", filter: "(eq,vnfConfigurableProperties/isAutohealEnabled,yes)", wantErr: true},
		{name: "cont", filter: "(cont,vnfInstanceName,we,xx)", want: true},
		{name: "ncont", filter: "(ncont,vnfInstanceName,we)", want: false},
		{name: "key", filter: "(eq,vimConnectionInfo/@key,vim1)", want: true},
		{name: "conjunction", filter: "(eq,vnfdId,vnfd-1);(eq,vnfInstanceName,db)", want: false},
		{name: "scalar descent", filter: "(eq,vnfdId/x,y)", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseAttributeFilter(tt.filter)
			require.NoError(t, err)

			got, err := f.Match(inst)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFilter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAttributeFilter_MatchNumbersAndTimes(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	opOcc := &VnfLcmOpOcc{
		ID:             "op-1",
		OperationState: StateCompleted,
		StartTime:      start,
		Error:          &ProblemDetails{Status: 422, Detail: "failed"},
	}

	tests := []struct {
		name    string
		filter  string
		want    bool
		wantErr bool
	}{
		{name: "number gt", filter: "(gt,error/status,400)", want: true},
		{name: "number lt", filter: "(lt,error/status,400)", want: false},
		{name: "number in", filter: "(in,error/status,404,422)", want: true},
		{name: "not a number", filter: "(gt,error/status,abc)", wantErr: true},
		{name: "time after", filter: "(gt,startTime,2026-01-01T00:00:00Z)", want: true},
		{name: "time before", filter: "(lt,startTime,2026-01-01T00:00:00Z)", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseAttributeFilter(tt.filter)
			require.NoError(t, err)

			got, err := f.Match(opOcc)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFilter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
