package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/c360studio/llmgate/llm"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

// fakePublisher captures publishes instead of talking to NATS.
type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: payload})
	return &jetstream.PubAck{Stream: "LLMGATE_CALLS"}, nil
}

func (f *fakePublisher) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func TestNewCallStore_RequiresPublisher(t *testing.T) {
	_, err := llm.NewCallStore(nil)
	require.Error(t, err)
}

func TestCallStore_StoreRequiresRequestID(t *testing.T) {
	store, err := llm.NewCallStore(&fakePublisher{})
	require.NoError(t, err)

	err = store.Store(context.Background(), &llm.CallRecord{Outcome: llm.OutcomeSuccess})
	require.Error(t, err)
}

func TestCallStore_Subject(t *testing.T) {
	store, err := llm.NewCallStore(&fakePublisher{}, llm.WithSubjectPrefix("gw.calls"))
	require.NoError(t, err)

	assert.Equal(t, "gw.calls.timeout", store.Subject(llm.OutcomeTimeout))
}

func TestClient_RecordsSuccessfulCall(t *testing.T) {
	pub := &fakePublisher{}
	store, err := llm.NewCallStore(pub)
	require.NoError(t, err)

	server := completionServer(t, " done ")
	client := llm.NewClient(server.URL, llm.WithCallStore(store))

	resp, err := client.Complete(context.Background(), rephraseRequest("record me"))
	require.NoError(t, err)

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "llmgate.calls.success", msgs[0].subject)

	var record llm.CallRecord
	require.NoError(t, json.Unmarshal(msgs[0].data, &record))
	assert.Equal(t, resp.RequestID, record.RequestID)
	assert.Equal(t, "record me", record.Prompt)
	assert.Equal(t, "done", record.Response)
	assert.Equal(t, 1000, record.MaxTokens)
	assert.Equal(t, []string{"\n\n"}, record.Stop)
	assert.Empty(t, record.Error)
}

func TestClient_RecordsFailedCall(t *testing.T) {
	pub := &fakePublisher{}
	store, err := llm.NewCallStore(pub)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model crashed"))
	}))
	defer server.Close()

	client := llm.NewClient(server.URL, llm.WithCallStore(store))
	_, err = client.Complete(context.Background(), rephraseRequest("p"))
	require.Error(t, err)

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "llmgate.calls.rejected", msgs[0].subject)

	var record llm.CallRecord
	require.NoError(t, json.Unmarshal(msgs[0].data, &record))
	assert.Equal(t, llm.OutcomeRejected, record.Outcome)
	assert.Contains(t, record.Error, "model crashed")
}

func TestClient_PublishFailureDoesNotChangeOutcome(t *testing.T) {
	store, err := llm.NewCallStore(&fakePublisher{err: errors.New("nats: no responders")})
	require.NoError(t, err)

	server := completionServer(t, "still fine")
	client := llm.NewClient(server.URL, llm.WithCallStore(store))

	resp, err := client.Complete(context.Background(), rephraseRequest("p"))
	require.NoError(t, err)
	assert.Equal(t, "still fine", resp.Text)
}
