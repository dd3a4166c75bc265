package protocolclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgebridge/otgw/internal/record"
)

func TestDecodePayloadJSONValueField(t *testing.T) {
	c := &MQTTClient{format: formatAuto, valueField: "value"}
	v, err := c.decodePayload([]byte(`{"value": 42.5, "unit": "C"}`))
	require.NoError(t, err)
	assert.Equal(t, record.ValueFloat, v.Type)
	assert.Equal(t, 42.5, v.Float)
}

func TestDecodePayloadPlainString(t *testing.T) {
	c := &MQTTClient{format: formatAuto, valueField: "value"}
	v, err := c.decodePayload([]byte("nominal"))
	require.NoError(t, err)
	assert.Equal(t, record.ValueString, v.Type)
	assert.Equal(t, "nominal", v.String)
}

func TestDecodePayloadForcedBytes(t *testing.T) {
	c := &MQTTClient{format: formatBytes}
	v, err := c.decodePayload([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	assert.Equal(t, record.ValueBytes, v.Type)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, v.Bytes)
}

func TestDecodePayloadMalformedJSONForcedFormat(t *testing.T) {
	c := &MQTTClient{format: formatJSON}
	_, err := c.decodePayload([]byte("{not json"))
	assert.Error(t, err)
}
