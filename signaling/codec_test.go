package signaling

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZlibCodec_RoundTrip(t *testing.T) {
	codec := ZlibCodec{}
	plain := []byte(strings.Repeat("hello world ", 20))

	compressed, err := codec.Encode(plain)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(plain))

	decoded, err := codec.Decode(compressed)
	require.NoError(t, err)
	assert.Equal(t, plain, decoded)
}

func TestEncodeEnvelope_SkipsCompressionBelowThreshold(t *testing.T) {
	env := &Envelope{Sender: "a", Subtopic: "connect"}
	out, err := EncodeEnvelope(env, ZlibCodec{}, true, 10000)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "a", decoded.Sender)
}

func TestDecodeEnvelope_FallsBackToRawJSON(t *testing.T) {
	env := &Envelope{Sender: "a", Subtopic: "connect"}
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(raw, ZlibCodec{})
	require.NoError(t, err)
	assert.Equal(t, "a", decoded.Sender)
}
