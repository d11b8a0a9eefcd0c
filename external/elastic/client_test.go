package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/relaynet/channel-bridge/entities"
	"github.com/relaynet/channel-bridge/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordedRequest struct {
	method string
	path   string
	body   string
}

type MockTransport struct {
	lock     sync.Mutex
	requests []recordedRequest
	status   int
}

func (mt *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		body = string(data)
	}

	mt.lock.Lock()
	mt.requests = append(mt.requests, recordedRequest{method: req.Method, path: req.URL.Path, body: body})
	status := mt.status
	mt.lock.Unlock()

	header := http.Header{}
	header.Set("X-Elastic-Product", "Elasticsearch")
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(`{}`)),
		Request:    req,
	}, nil
}

func newTestClient(t *testing.T, transport *MockTransport) *Client {
	esClient, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{"http://localhost:9200"},
		Transport: transport,
	})
	require.NoError(t, err)
	return NewClient(esClient, "channels", metrics.NewMetrics("test", prometheus.NewRegistry()), zaptest.NewLogger(t).Sugar())
}

var testChannel = entities.ChannelInfo{
	PartyA: entities.AccountId{0x01},
	PartyB: entities.AccountId{0x02},
	Entry:  entities.ChannelEntry{BlockNumber: 12, TransactionIndex: 1, LogIndex: 3},
}

func TestClient_ChannelOpened(t *testing.T) {
	transport := &MockTransport{status: http.StatusCreated}
	client := newTestClient(t, transport)

	require.NoError(t, client.ChannelOpened(context.Background(), testChannel))
	require.Len(t, transport.requests, 1)

	req := transport.requests[0]
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/channels/_doc/"+testChannel.ID().Hex(), req.path)

	var doc ChannelDocument
	require.NoError(t, json.Unmarshal([]byte(req.body), &doc))
	assert.Equal(t, ChannelDocument{
		ChannelID:        testChannel.ID().Hex(),
		PartyA:           testChannel.PartyA.Hex(),
		PartyB:           testChannel.PartyB.Hex(),
		BlockNumber:      12,
		TransactionIndex: 1,
		LogIndex:         3,
	}, doc)
}

func TestClient_ChannelOpenedError(t *testing.T) {
	client := newTestClient(t, &MockTransport{status: http.StatusBadRequest})
	assert.Error(t, client.ChannelOpened(context.Background(), testChannel))
}

func TestClient_ChannelClosed(t *testing.T) {
	testData := []struct {
		name        string
		status      int
		expectError bool
	}{
		{name: "deleted", status: http.StatusOK},
		{name: "not_indexed", status: http.StatusNotFound},
		{name: "server_error", status: http.StatusInternalServerError, expectError: true},
	}

	for _, testRun := range testData {
		t.Run(testRun.name, func(t *testing.T) {
			transport := &MockTransport{status: testRun.status}
			client := newTestClient(t, transport)

			err := client.ChannelClosed(context.Background(), testChannel)
			if testRun.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			require.NotEmpty(t, transport.requests)
			req := transport.requests[0]
			assert.Equal(t, http.MethodDelete, req.method)
			assert.Equal(t, "/channels/_doc/"+testChannel.ID().Hex(), req.path)
		})
	}
}
