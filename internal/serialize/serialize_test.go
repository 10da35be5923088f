package serialize

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeCodec struct {
	encodeErr error
}

func (f *fakeCodec) Encode(event interface{}) ([]byte, int, string, error) {
	if f.encodeErr != nil {
		return nil, 0, "", f.encodeErr
	}
	return []byte(event.(string)), 1, "fake/v1", nil
}

func (f *fakeCodec) Decode(payload []byte, serID int, manifest string) (interface{}, error) {
	return string(payload), nil
}

type fakeMetaCodec struct {
	encodeErr error
}

func (f *fakeMetaCodec) Encode(meta interface{}) ([]byte, int, string, error) {
	if f.encodeErr != nil {
		return nil, 0, "", f.encodeErr
	}
	return []byte(meta.(string)), 2, "fakemeta/v1", nil
}

func (f *fakeMetaCodec) Decode(payload []byte, serID int, manifest string) (interface{}, error) {
	return string(payload), nil
}

func TestSerializeEventRoundTrip(t *testing.T) {
	gw := New(&fakeCodec{}, &fakeMetaCodec{})

	row, err := gw.SerializeEvent(context.Background(), "hello", "meta-value", []string{"red"})
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), row.EventPayload)
	require.True(t, row.HasMeta)
	require.Equal(t, "fakemeta/v1", row.MetaSerManifest)

	event, meta, err := gw.DeserializeEvent(row)
	require.NoError(t, err)
	require.Equal(t, "hello", event)
	require.Equal(t, "meta-value", meta)
}

func TestSerializeEventPropagatesEncodeFailure(t *testing.T) {
	gw := New(&fakeCodec{encodeErr: errors.New("boom")}, nil)

	_, err := gw.SerializeEvent(context.Background(), "hello", nil, nil)
	require.Error(t, err)
}

func TestMetaEncodeFailureIsSentinelNotFatal(t *testing.T) {
	gw := New(&fakeCodec{}, &fakeMetaCodec{encodeErr: errors.New("meta boom")})

	row, err := gw.SerializeEvent(context.Background(), "hello", "meta-value", nil)
	require.NoError(t, err)
	require.True(t, row.HasMeta)
	require.Equal(t, sentinelMetaManifest, row.MetaSerManifest)

	event, meta, err := gw.DeserializeEvent(row)
	require.NoError(t, err)
	require.Equal(t, "hello", event)
	require.Nil(t, meta)
}

func TestColumnPresenceProbeCaches(t *testing.T) {
	gw := New(&fakeCodec{}, nil)

	_, seen := gw.HasMetaColumn()
	require.False(t, seen)

	gw.ProbeMetaColumn(true)
	present, seen := gw.HasMetaColumn()
	require.True(t, seen)
	require.True(t, present)
}

func TestFromStorageMapModernColumns(t *testing.T) {
	gw := New(&fakeCodec{}, nil)

	row := gw.FromStorageMap(map[string]interface{}{
		"event":             []byte("hello"),
		"ser_id":            1,
		"ser_manifest":      "fake/v1",
		"tags":              []string{"red", "blue"},
		"meta":              []byte("meta-bytes"),
		"meta_ser_id":       2,
		"meta_ser_manifest": "fakemeta/v1",
	})

	present, seen := gw.HasTagsColumn()
	require.True(t, seen)
	require.True(t, present)
	metaPresent, metaSeen := gw.HasMetaColumn()
	require.True(t, metaSeen)
	require.True(t, metaPresent)

	require.Equal(t, []string{"red", "blue"}, row.Tags)
	require.True(t, row.HasMeta)
	require.Equal(t, []byte("meta-bytes"), row.MetaPayload)
}

func TestFromStorageMapLegacyTagColumnsAndNoMeta(t *testing.T) {
	gw := New(&fakeCodec{}, nil)

	row := gw.FromStorageMap(map[string]interface{}{
		"event":        []byte("hello"),
		"ser_id":       1,
		"ser_manifest": "fake/v1",
		"tag1":         "red",
		"tag2":         "",
		"tag3":         "blue",
	})

	present, seen := gw.HasTagsColumn()
	require.True(t, seen)
	require.False(t, present, "legacy schema has no tags column")
	metaPresent, metaSeen := gw.HasMetaColumn()
	require.True(t, metaSeen)
	require.False(t, metaPresent, "legacy schema has no meta column")

	require.Equal(t, []string{"red", "blue"}, row.Tags)
	require.False(t, row.HasMeta)
}
