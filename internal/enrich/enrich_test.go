package enrich

import (
	"context"
	"errors"
	"testing"

	"echo-client/internal/device"
	"echo-client/internal/observability"
	"echo-client/internal/rpc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenProvider struct{ device.Static }

func (brokenProvider) HardwareID(context.Context) (string, error) {
	return "", errors.New("vpd read failed")
}

func TestSupplement(t *testing.T) {
	full := device.Static{HWID: "PEPPY C6A", Customization: "acme-peppy"}

	tests := []struct {
		name       string
		provider   device.Provider
		resp       rpc.EligibilityResponse
		wantErr    bool
		wantAction string
		want       rpc.Params
	}{
		{
			name:     "both attributes",
			provider: full,
			resp:     rpc.EligibilityResponse{Result: rpc.ResultNeedMoreInfo, NeedHWID: true, NeedCustomizationID: true},
			want:     rpc.Params{ServiceID: "svc", HWID: "PEPPY C6A", CustomizationID: "acme-peppy"},
		},
		{
			name:     "only customization id",
			provider: full,
			resp:     rpc.EligibilityResponse{Result: rpc.ResultNeedMoreInfo, NeedCustomizationID: true},
			want:     rpc.Params{ServiceID: "svc", CustomizationID: "acme-peppy"},
		},
		{
			name:       "hwid unavailable",
			provider:   device.Static{Customization: "acme-peppy"},
			resp:       rpc.EligibilityResponse{Result: rpc.ResultNeedMoreInfo, NeedHWID: true, NeedCustomizationID: true},
			wantErr:    true,
			wantAction: observability.ActionNoHWID,
			want:       rpc.Params{ServiceID: "svc"},
		},
		{
			name:       "hwid read error",
			provider:   brokenProvider{full},
			resp:       rpc.EligibilityResponse{Result: rpc.ResultNeedMoreInfo, NeedHWID: true},
			wantErr:    true,
			wantAction: observability.ActionNoHWID,
			want:       rpc.Params{ServiceID: "svc"},
		},
		{
			name:       "customization id unavailable",
			provider:   device.Static{HWID: "PEPPY C6A"},
			resp:       rpc.EligibilityResponse{Result: rpc.ResultNeedMoreInfo, NeedHWID: true, NeedCustomizationID: true},
			wantErr:    true,
			wantAction: observability.ActionNoCustomizationID,
			want:       rpc.Params{ServiceID: "svc", HWID: "PEPPY C6A"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &observability.Recorder{}
			params := rpc.Params{ServiceID: "svc"}

			err := New(tt.provider, rec).Supplement(context.Background(), &params, &tt.resp)

			if tt.wantErr {
				require.ErrorIs(t, err, ErrAttributeUnavailable)
				assert.Equal(t, 1, rec.Count(observability.CategoryClientError, tt.wantAction))
			} else {
				require.NoError(t, err)
				assert.Empty(t, rec.Events())
			}
			assert.Equal(t, tt.want, params)
		})
	}
}
