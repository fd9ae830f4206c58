package rpc

// Params are the checkEligibility request parameters. Field names on the
// wire come from the rename table below; zero values are not sent.
type Params struct {
	Origin                  string
	ServiceID               string
	ServiceName             string
	RequestNonce            string
	IsGroupType             bool
	Code                    string
	IsOtc                   bool
	MaxDeviceActivationDate string
	HWID                    string
	CustomizationID         string
}

// wireNames maps a parameter's field name to the name the backend expects.
var wireNames = map[string]string{
	"serviceName": "serviceProviderAlias",
	"isGroupType": "opt_isGroupType",
}

type field struct {
	name  string
	value any
}

func (p Params) fields() []field {
	return []field{
		{"origin", p.Origin},
		{"serviceId", p.ServiceID},
		{"serviceName", p.ServiceName},
		{"requestNonce", p.RequestNonce},
		{"isGroupType", p.IsGroupType},
		{"code", p.Code},
		{"isOtc", p.IsOtc},
		{"maxDeviceActivationDate", p.MaxDeviceActivationDate},
		{"hwid", p.HWID},
		{"customizationId", p.CustomizationID},
	}
}

// Wire returns the parameters as the backend sees them.
func (p Params) Wire() map[string]any {
	out := make(map[string]any)
	for _, f := range p.fields() {
		if isZero(f.value) {
			continue
		}
		name := f.name
		if renamed, ok := wireNames[name]; ok {
			name = renamed
		}
		out[name] = f.value
	}
	return out
}

func isZero(v any) bool {
	switch t := v.(type) {
	case string:
		return t == ""
	case bool:
		return !t
	default:
		return v == nil
	}
}
