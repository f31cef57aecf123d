package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"github.com/tshla/previsit-platform/internal/calls"
)

type mockS3Client struct {
	objects map[string][]byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &notFoundError{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

type notFoundError struct{}

func (e *notFoundError) Error() string { return "NoSuchKey: key not found" }

func sampleTranscript() []calls.TranscriptEntry {
	return []calls.TranscriptEntry{
		{Role: "agent", Text: "How are you feeling?", Timestamp: time.Date(2026, 3, 10, 10, 31, 0, 0, time.UTC)},
		{Role: "patient", Text: "Fine, just need a refill.", Timestamp: time.Date(2026, 3, 10, 10, 31, 5, 0, time.UTC)},
	}
}

func TestStoreArchiveAndFetch(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "previsit-transcripts", nil)

	ref, err := store.Archive(context.Background(), "appt-1", "att-1", sampleTranscript())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(ref, "s3://previsit-transcripts/transcripts/v1/by-date/"), "ref %q", ref)
	require.True(t, strings.HasSuffix(ref, "/att-1.json"))

	key := strings.TrimPrefix(ref, "s3://previsit-transcripts/")
	var record transcriptRecord
	require.NoError(t, json.Unmarshal(mock.objects[key], &record))
	require.Equal(t, "appt-1", record.AppointmentID)
	require.Len(t, record.Transcript, 2)

	got, err := store.Fetch(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, sampleTranscript(), got)
}

func TestStoreDisabledIsNoOp(t *testing.T) {
	store := NewStore(nil, "", nil)
	require.False(t, store.Enabled())

	ref, err := store.Archive(context.Background(), "appt-1", "att-1", sampleTranscript())
	require.NoError(t, err)
	require.Empty(t, ref)
}

func TestStoreFetchRejectsForeignRef(t *testing.T) {
	store := NewStore(newMockS3(), "previsit-transcripts", nil)
	_, err := store.Fetch(context.Background(), "s3://other-bucket/some/key.json")
	require.Error(t, err)
}

func TestStoreFetchMissingObject(t *testing.T) {
	store := NewStore(newMockS3(), "previsit-transcripts", nil)
	_, err := store.Fetch(context.Background(), "s3://previsit-transcripts/transcripts/v1/by-date/2026/03/10/att-9.json")
	require.Error(t, err)
}
