package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesKindAndRefinements(t *testing.T) {
	t.Parallel()

	notFound := NewAPIError(APINotFound, "device not registered", &ErrorInfo{StatusCode: 404})
	require.ErrorIs(t, notFound, ErrAPI)
	require.ErrorIs(t, notFound, ErrNotFound)
	require.NotErrorIs(t, notFound, ErrServer)
	require.NotErrorIs(t, notFound, ErrAuthentication)

	zcp := NewTransactionFailed("use calculation", CodeCalculationRequired, nil)
	require.ErrorIs(t, zcp, ErrTransactionFailed)
	require.ErrorIs(t, zcp, ErrCalculationRequired)
	require.NotErrorIs(t, zcp, ErrTransactionInProgress)

	wrapped := fmt.Errorf("charging: %w", zcp)
	require.ErrorIs(t, wrapped, ErrCalculationRequired)
	require.Equal(t, KindTransactionFailed, KindOf(wrapped))
}

func TestError_UnwrapsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := NewNetworkError(cause)
	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, ErrNetwork)

	activation := NewActivationFailed("persist failed", CodeActivationNotPersisted, NewAPIError(APIServerError, "", nil))
	require.ErrorIs(t, activation, ErrActivationFailed)
	require.ErrorIs(t, activation, ErrServer)
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "api",
			err:  NewAPIError(APIForbidden, "no access", &ErrorInfo{StatusCode: 403}),
			want: "api_failure (forbidden): no access [status=403]",
		},
		{
			name: "incompatible",
			err:  NewDeviceNotCompatible([]string{"old phone", "old os"}),
			want: "device_not_compatible: old phone; old os",
		},
		{
			name: "missing field",
			err:  NewMissingRequiredField("jwtToken", "DeviceJwt"),
			want: "missing_required_field: DeviceJwt.jwtToken",
		},
		{
			name: "abort",
			err:  NewAbortFailed("card reading has already started", CodeReadingStarted),
			want: "tap_to_pay_abort_failed: card reading has already started [code=READING_STARTED]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestNewDeviceNotCompatible_CopiesReasons(t *testing.T) {
	t.Parallel()

	reasons := []string{"a"}
	err := NewDeviceNotCompatible(reasons)
	reasons[0] = "changed"
	require.Equal(t, []string{"a"}, err.Reasons)
}

func TestKindOf_ForeignError(t *testing.T) {
	t.Parallel()
	require.Equal(t, Kind(""), KindOf(errors.New("plain")))
	require.Equal(t, Kind(""), KindOf(nil))
}
