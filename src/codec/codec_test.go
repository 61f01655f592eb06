package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCodec() *Codec {
	return New("1.0", []string{"1.0", "1.1"}, "")
}

func TestParseDefaultsVersionWhenAbsent(t *testing.T) {
	c := testCodec()
	msg, errc := Parse(c, []byte(`{"e":"util.echo","p":{"msg":"hi"}}`))
	require.Nil(t, errc)
	assert.Equal(t, "1.0", msg.Version)
	assert.Equal(t, "util.echo", msg.Event)
	assert.Equal(t, "hi", msg.Payload["msg"])
}

func TestParseDefaultsEmptyPayload(t *testing.T) {
	c := testCodec()
	msg, errc := Parse(c, []byte(`{"e":"ping"}`))
	require.Nil(t, errc)
	assert.Empty(t, msg.Payload)
}

func TestParseRejectsMissingEvent(t *testing.T) {
	c := testCodec()
	_, errc := Parse(c, []byte(`{"p":{}}`))
	require.NotNil(t, errc)
	assert.Equal(t, 1001, int(errc.Code))
}

func TestParseRejectsNonObjectRoot(t *testing.T) {
	c := testCodec()
	_, errc := Parse(c, []byte(`[1,2,3]`))
	require.NotNil(t, errc)
	assert.Equal(t, 1001, int(errc.Code))
}

func TestParseRejectsNonObjectPayload(t *testing.T) {
	c := testCodec()
	_, errc := Parse(c, []byte(`{"e":"x","p":"not-an-object"}`))
	require.NotNil(t, errc)
	assert.Equal(t, 1001, int(errc.Code))
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	c := testCodec()
	_, errc := Parse(c, []byte(`{"e":"x","v":"9.9"}`))
	require.NotNil(t, errc)
	assert.Equal(t, 1002, int(errc.Code))
}

func TestParseToleratesUnknownFields(t *testing.T) {
	c := testCodec()
	msg, errc := Parse(c, []byte(`{"e":"x","extra":"dropped"}`))
	require.Nil(t, errc)
	assert.Equal(t, "x", msg.Event)
}

func TestRoundTrip(t *testing.T) {
	m := Message{Version: "1.0", Event: "util.echo", Payload: map[string]any{"a": float64(1)}, CorrelationID: "r1", Timestamp: 123}
	data, err := Serialize(m)
	require.NoError(t, err)

	c := testCodec()
	parsed, errc := Parse(c, data)
	require.Nil(t, errc)
	assert.Equal(t, m.Version, parsed.Version)
	assert.Equal(t, m.Event, parsed.Event)
	assert.Equal(t, m.CorrelationID, parsed.CorrelationID)
	assert.Equal(t, m.Timestamp, parsed.Timestamp)
	assert.Equal(t, m.Payload["a"], parsed.Payload["a"])
}

func TestMinimumVersionFloor(t *testing.T) {
	c := New("2.0", []string{"1.0", "2.0"}, "1.5")
	_, errc := Parse(c, []byte(`{"e":"x","v":"1.0"}`))
	require.NotNil(t, errc)
	assert.Equal(t, 1002, int(errc.Code))

	_, errc2 := Parse(c, []byte(`{"e":"x","v":"2.0"}`))
	assert.Nil(t, errc2)
}
