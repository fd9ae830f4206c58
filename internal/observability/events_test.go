package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmit_CarriesDimensions(t *testing.T) {
	rec := &Recorder{}
	ctx := WithDimensions(context.Background(), Dimensions{ServiceID: "svc1"})
	UpdateDimensions(ctx, func(d *Dimensions) { d.CodeType = "otc" })

	Emit(ctx, rec, CategoryEligible, ActionEligible, "")

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "svc1", events[0].Dimensions.ServiceID)
	assert.Equal(t, "otc", events[0].Dimensions.CodeType)
	assert.False(t, events[0].Time.IsZero())
	assert.Equal(t, 1, rec.Count(CategoryEligible, ActionEligible))
}

func TestDimensionsFrom_EmptyContext(t *testing.T) {
	assert.Equal(t, Dimensions{}, DimensionsFrom(context.Background()))
	UpdateDimensions(context.Background(), func(d *Dimensions) { d.ServiceID = "x" })
	Emit(context.Background(), nil, "a", "b", "")
}

func TestPromSink_CountsAPICalls(t *testing.T) {
	before := testutil.ToFloat64(APICalls.WithLabelValues("checkEligibility"))
	ctx := WithDimensions(context.Background(), Dimensions{APIName: "checkEligibility"})

	MultiSink{PromSink{}, nil}.Record(ctx, Event{
		Category:   CategoryAPICall,
		Action:     ActionAPICalls,
		Dimensions: DimensionsFrom(ctx),
	})

	assert.Equal(t, before+1, testutil.ToFloat64(APICalls.WithLabelValues("checkEligibility")))
}

func TestMeasure_RecordsStatus(t *testing.T) {
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("204"))
	h := Measure(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("204")))
}

func TestNewKafkaSink_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaSink(nil, "t")
	assert.Error(t, err)
}
