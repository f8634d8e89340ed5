package audit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	k := make([]byte, KeySize)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	key := testKey()
	rec := Record{Version: CurrentVersion, Timestamp: 123456789, Type: TypeFill, Payload: []byte("hello fill")}

	framed, err := Encode(rec, key)
	require.NoError(t, err)
	require.Equal(t, HeaderSize+len(rec.Payload)+HMACSize, len(framed))

	decoded, n, err := Decode(framed, key)
	require.NoError(t, err)
	require.Equal(t, len(framed), n)
	require.Equal(t, rec.Version, decoded.Version)
	require.Equal(t, rec.Timestamp, decoded.Timestamp)
	require.Equal(t, rec.Type, decoded.Type)
	require.Equal(t, rec.Payload, decoded.Payload)
}

func TestDecode_TamperedPayloadFailsHMAC(t *testing.T) {
	key := testKey()
	rec := Record{Version: CurrentVersion, Timestamp: 1, Type: TypeOrderSubmit, Payload: []byte("order-bytes-here")}
	framed, err := Encode(rec, key)
	require.NoError(t, err)

	framed[HeaderSize] ^= 0xFF // flip a payload bit

	_, _, err = Decode(framed, key)
	require.ErrorIs(t, err, ErrTamper)
}

func TestDecode_WrongKeyFailsHMAC(t *testing.T) {
	key := testKey()
	wrongKey := make([]byte, KeySize)
	copy(wrongKey, key)
	wrongKey[0] ^= 0xFF

	rec := Record{Version: CurrentVersion, Timestamp: 1, Type: TypeTick, Payload: []byte("tick")}
	framed, err := Encode(rec, key)
	require.NoError(t, err)

	_, _, err = Decode(framed, wrongKey)
	require.ErrorIs(t, err, ErrTamper)
}

func TestDecode_TruncatedTailIsTolerated(t *testing.T) {
	key := testKey()
	rec := Record{Version: CurrentVersion, Timestamp: 1, Type: TypeOrderCancel, Payload: []byte("cancel")}
	framed, err := Encode(rec, key)
	require.NoError(t, err)

	short := framed[:len(framed)-5]
	_, _, err = Decode(short, key)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDecode_BadMarker(t *testing.T) {
	key := testKey()
	rec := Record{Version: CurrentVersion, Timestamp: 1, Type: TypeOrderSubmit, Payload: []byte("x")}
	framed, err := Encode(rec, key)
	require.NoError(t, err)
	framed[0] = 'X'

	_, _, err = Decode(framed, key)
	require.ErrorIs(t, err, ErrBadMarker)
}

func TestEncode_RejectsBadKeySize(t *testing.T) {
	_, err := Encode(Record{}, []byte("too-short"))
	require.Error(t, err)
}
