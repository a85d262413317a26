package orders

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versatiles/printops/internal/fault"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"pending", StatusPending, false},
		{"PENDING", StatusPending, false},
		{" Validated ", StatusValidated, false},
		{"processing", StatusProcessing, false},
		{"Completed", StatusCompleted, false},
		{"done", "", true},
		{"", "", true},
		{"cancelled", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatus_UnmarshalJSON(t *testing.T) {
	var body struct {
		Status Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"status":"VALIDATED"}`), &body))
	assert.Equal(t, StatusValidated, body.Status)

	assert.Error(t, json.Unmarshal([]byte(`{"status":"shipped"}`), &body))
	assert.Error(t, json.Unmarshal([]byte(`{"status":3}`), &body))
}

func TestTransition_OnlyForwardSingleSteps(t *testing.T) {
	legal := map[[2]Status]bool{
		{StatusPending, StatusValidated}:    true,
		{StatusValidated, StatusProcessing}: true,
		{StatusProcessing, StatusCompleted}: true,
	}
	for _, from := range Statuses {
		for _, to := range Statuses {
			err := Transition(from, to)
			if legal[[2]Status{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
				continue
			}
			require.Error(t, err, "%s -> %s", from, to)
			assert.True(t, fault.Is(err, fault.KindInvalidTransition))
			var te *TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, from, te.Current)
			assert.Equal(t, to, te.Requested)
		}
	}
}

func TestStatus_Active(t *testing.T) {
	assert.True(t, StatusPending.Active())
	assert.True(t, StatusValidated.Active())
	assert.True(t, StatusProcessing.Active())
	assert.False(t, StatusCompleted.Active())
	assert.False(t, Status("Pending").Active())
}

func TestStatus_NextFromTerminal(t *testing.T) {
	_, ok := StatusCompleted.Next()
	assert.False(t, ok)

	n, ok := StatusPending.Next()
	require.True(t, ok)
	assert.Equal(t, StatusValidated, n)
}

func TestTransitionError_Details(t *testing.T) {
	err := &TransitionError{Current: StatusPending, Requested: StatusCompleted}
	details, ok := err.FaultDetails().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, StatusValidated, details["allowed"])

	terminal := &TransitionError{Current: StatusCompleted, Requested: StatusPending}
	details = terminal.FaultDetails().(map[string]any)
	assert.NotContains(t, details, "allowed")
}
