package afkak

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateAndDecodeMessageSetRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecGZIP, CodecSnappy} {
		msgs := []Message{
			{Key: []byte("k1"), Value: []byte("hello")},
			{Key: []byte{}, Value: []byte("world")},
		}
		set, err := CreateMessageSet(msgs, codec)
		require.NoError(t, err)

		decoded, err := DecodeMessageSet(set, codec)
		require.NoError(t, err)
		require.Equal(t, msgs, decoded)
	}
}

func TestCreateMessageSetRejectsUnknownCodec(t *testing.T) {
	_, err := CreateMessageSet([]Message{{Value: []byte("x")}}, Codec(99))
	require.ErrorIs(t, err, ErrUnsupportedCodec)
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("payload")))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)
}
