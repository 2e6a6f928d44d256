package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		clientType ClientType
		kind       Kind
		subject    string
		fields     []string
	}{
		{"no fields", ClientTypeEquipment, KindHeartbeat, "dev1", nil},
		{"one field", ClientTypeOperator, KindAlarmAck, "ignored", []string{"42"}},
		{"many fields", ClientTypeEquipment, KindEquipmentOnline, "proj_101", []string{"room_A", "projector"}},
		{"empty subject", ClientTypeOperator, KindPlaceListQuery, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := Encode(tt.clientType, tt.kind, tt.subject, tt.fields...)
			msg, err := Decode(body)
			require.NoError(t, err)

			assert.Equal(t, tt.clientType, msg.ClientType)
			assert.Equal(t, tt.kind, msg.Kind)
			assert.Equal(t, tt.subject, msg.Subject)

			want := ""
			if len(tt.fields) > 0 {
				for i, f := range tt.fields {
					if i > 0 {
						want += "|"
					}
					want += f
				}
			}
			assert.Equal(t, want, msg.Rest)
		})
	}
}

func TestDecodeTooFewFields(t *testing.T) {
	_, err := Decode([]byte("1|2"))
	assert.ErrorIs(t, err, ErrTooFewFields)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeEmptyBody(t *testing.T) {
	_, err := Decode([]byte(""))
	assert.ErrorIs(t, err, ErrTooFewFields)
}

func TestDecodeBadClientType(t *testing.T) {
	_, err := Decode([]byte("x|4|dev1"))
	assert.ErrorIs(t, err, ErrBadClientType)
}

func TestDecodeBadKind(t *testing.T) {
	_, err := Decode([]byte("1|0|dev1"))
	assert.ErrorIs(t, err, ErrBadKind)

	_, err = Decode([]byte("1|201|dev1"))
	assert.ErrorIs(t, err, ErrBadKind)

	_, err = Decode([]byte("1|abc|dev1"))
	assert.ErrorIs(t, err, ErrBadKind)
}

func TestDecodePreservesEmbeddedPipesInRest(t *testing.T) {
	// Simulates a forwarded control_response whose payload happens to
	// contain extra '|'-delimited fields that a handler must preserve
	// verbatim when re-broadcasting.
	body := []byte("1|8|proj_101|success|turn_on|extra|more")
	msg, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, "success|turn_on|extra|more", msg.Rest)
}

func TestSplitRestPadsMissingFields(t *testing.T) {
	got := SplitRest("a|b", 4)
	assert.Equal(t, []string{"a", "b", "", ""}, got)

	got = SplitRest("", 3)
	assert.Equal(t, []string{"", "", ""}, got)
}

func TestSplitRestDoesNotOverSplitLastField(t *testing.T) {
	// The last field of a schema keeps any further '|' characters verbatim,
	// because SplitRest caps at n pieces.
	got := SplitRest("a|b|c|d|e", 3)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0])
	assert.Equal(t, "b", got[1])
	assert.Equal(t, "c|d|e", got[2])
}

func TestJoinSplitRecords(t *testing.T) {
	records := []string{"1,foo", "2,bar"}
	joined := JoinRecords(records)
	assert.Equal(t, "1,foo;2,bar", joined)
	assert.Equal(t, records, SplitRecords(joined))
	assert.Nil(t, SplitRecords(""))
}

func TestKindInRange(t *testing.T) {
	assert.True(t, Kind(1).InRange())
	assert.True(t, Kind(200).InRange())
	assert.False(t, Kind(0).InRange())
	assert.False(t, Kind(201).InRange())
}

func TestErrorsAreWrapped(t *testing.T) {
	_, err := Decode([]byte("1"))
	var target error = ErrProtocol
	assert.True(t, errors.Is(err, target))
}
