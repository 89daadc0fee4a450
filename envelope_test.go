package wsrelay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeMarshal(t *testing.T) {
	b, err := NewEnvelope("bob", "hi", 0).Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":{"name":"bob"},"message":{"text":"hi","text_len":2,"info":0}}`, string(b))
}

func TestEnvelopeTextLenIsBytes(t *testing.T) {
	e := NewEnvelope("bob", "héllo", SendBack)
	assert.Equal(t, 6, e.Message.TextLen)
	assert.Equal(t, SendBack, e.Message.Info)
}

func TestParseEnvelope(t *testing.T) {
	e, err := ParseEnvelope([]byte(`{"user":{"name":"ann"},"message":{"text":"yo","text_len":2,"info":6,"extra":true}}`))
	require.NoError(t, err)

	assert.Equal(t, "ann", e.User.Name)
	assert.Equal(t, "yo", e.Message.Text)
	assert.True(t, e.Message.Info.Has(SendBack))
	assert.True(t, e.Message.Info.Has(ChangeUsername))
	assert.False(t, e.Message.Info.Has(NoBroadcast))
}

func TestParseEnvelopeMalformed(t *testing.T) {
	inputs := []string{
		``,
		`hello`,
		`{"user":{"name":"ann"}`,
		`{"message":{"text":"x"}}`,
		`{"user":{"name":"ann"}}`,
		`{"user":null,"message":{"text":"x"}}`,
		`[1,2,3]`,
	}

	for _, in := range inputs {
		_, err := ParseEnvelope([]byte(in))
		assert.ErrorIs(t, err, ErrMalformedEnvelope, "%q", in)
	}
}

func TestEnvelopeKeepsUnknownFields(t *testing.T) {
	in := `{"room":"lobby","user":{"name":"ann","color":"red"},"message":{"text":"yo","text_len":2,"info":0,"sent_at":12}}`

	e, err := ParseEnvelope([]byte(in))
	require.NoError(t, err)

	out, err := e.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}
