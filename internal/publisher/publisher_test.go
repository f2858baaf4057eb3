package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-camera-dh/jh-ccs-utils/internal/lg"
	"github.com/lsst-camera-dh/jh-ccs-utils/internal/schema"
)

type stubWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *stubWriter) Close() error {
	w.closed = true
	return nil
}

func testRecords() []schema.Record {
	return []schema.Record{
		schema.Valid("package_versions",
			schema.F("package", "jh-ccs-utils"),
			schema.F("version", "1.4.0")),
		schema.Valid("job_info",
			schema.F("job_name", "fe55_raft_acq"),
			schema.F("job_id", "85812")),
	}
}

func TestPublishRecords(t *testing.T) {
	writer := &stubWriter{}
	p := &Publisher{writer: writer, logger: lg.Discard}

	err := p.PublishRecords(context.Background(), "fe55_raft_acq", "12433", testRecords())
	require.NoError(t, err)
	require.Len(t, writer.messages, 2)

	var env envelope
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &env))
	assert.Equal(t, "fe55_raft_acq", env.JobName)
	assert.Equal(t, "12433", env.RunNumber)
	assert.Equal(t, "package_versions", env.Record.Schema)
	assert.Equal(t, "jh-ccs-utils", env.Record.Get("package"))
	assert.NotEmpty(t, env.MessageID)

	// Keys must be distinct so compaction never folds records together.
	assert.NotEqual(t, writer.messages[0].Key, writer.messages[1].Key)
	assert.Len(t, writer.messages[0].Key, 16)
}

func TestPublishRecordsWriteFailure(t *testing.T) {
	writer := &stubWriter{err: errors.New("broker unreachable")}
	p := &Publisher{writer: writer, logger: lg.Discard}
	err := p.PublishRecords(context.Background(), "job", "1", testRecords())
	assert.ErrorContains(t, err, "broker unreachable")
}

func TestPublishSummaryFile(t *testing.T) {
	summary := filepath.Join(t.TempDir(), "summary.lims")
	require.NoError(t, schema.WriteSummary(testRecords(), summary))

	writer := &stubWriter{}
	p := &Publisher{writer: writer, logger: lg.Discard}
	require.NoError(t, p.PublishSummaryFile(context.Background(), "fe55_raft_acq", "12433", summary))
	require.Len(t, writer.messages, 2)

	var env envelope
	require.NoError(t, json.Unmarshal(writer.messages[1].Value, &env))
	assert.Equal(t, "job_info", env.Record.Schema)
	assert.Equal(t, "85812", env.Record.Get("job_id"))
}

func TestPublishSummaryFileMissing(t *testing.T) {
	p := &Publisher{writer: &stubWriter{}, logger: lg.Discard}
	err := p.PublishSummaryFile(context.Background(), "job", "1", filepath.Join(t.TempDir(), "absent.lims"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestClose(t *testing.T) {
	writer := &stubWriter{}
	p := &Publisher{writer: writer, logger: lg.Discard}
	require.NoError(t, p.Close())
	assert.True(t, writer.closed)
}
