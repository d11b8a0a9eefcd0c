package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/relaynet/channel-bridge/entities"
	"github.com/relaynet/channel-bridge/metrics"
	"go.uber.org/zap"
)

const sinkName = "elastic"

// Client mirrors the open channel graph into an index, one document per open
// channel with the channel id as document id.
type Client struct {
	esClient *elasticsearch.Client
	index    string
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
}

func NewElasticClient(address string, timeout time.Duration) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{address},
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: timeout,
		},
	}

	esClient, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %v", err)
	}
	return esClient, nil
}

func NewClient(esClient *elasticsearch.Client, index string, metrics *metrics.Metrics, logger *zap.SugaredLogger) *Client {
	return &Client{
		esClient: esClient,
		index:    index,
		metrics:  metrics,
		logger:   logger,
	}
}

type ChannelDocument struct {
	ChannelID        string `json:"channelId"`
	PartyA           string `json:"partyA"`
	PartyB           string `json:"partyB"`
	BlockNumber      uint64 `json:"blockNumber"`
	TransactionIndex uint64 `json:"transactionIndex"`
	LogIndex         uint64 `json:"logIndex"`
}

func (es *Client) ChannelOpened(ctx context.Context, info entities.ChannelInfo) error {
	id := info.ID().Hex()
	data, err := json.Marshal(ChannelDocument{
		ChannelID:        id,
		PartyA:           info.PartyA.Hex(),
		PartyB:           info.PartyB.Hex(),
		BlockNumber:      info.Entry.BlockNumber,
		TransactionIndex: info.Entry.TransactionIndex,
		LogIndex:         info.Entry.LogIndex,
	})
	if err != nil {
		return es.failed(fmt.Errorf("serializing channel document: %w", err))
	}

	res, err := es.esClient.Index(
		es.index,
		bytes.NewReader(data),
		es.esClient.Index.WithDocumentID(id),
		es.esClient.Index.WithContext(ctx),
	)
	if err != nil {
		return es.failed(fmt.Errorf("index request failed: %w", err))
	}
	defer es.closeBody(res.Body)

	if res.IsError() {
		return es.failed(fmt.Errorf("index request error: %s", res.String()))
	}
	es.succeeded(res)
	return nil
}

func (es *Client) ChannelClosed(ctx context.Context, info entities.ChannelInfo) error {
	res, err := es.esClient.Delete(
		es.index,
		info.ID().Hex(),
		es.esClient.Delete.WithContext(ctx),
	)
	if err != nil {
		return es.failed(fmt.Errorf("delete request failed: %w", err))
	}
	defer es.closeBody(res.Body)

	// the document may never have been indexed
	if res.StatusCode == http.StatusNotFound {
		es.logger.Debugw("Closed channel was not indexed", "channel", info.ID().Hex())
		es.metrics.IncPublishedChanges(sinkName, "ok")
		return nil
	}
	if res.IsError() {
		return es.failed(fmt.Errorf("delete request error: %s", res.String()))
	}
	es.succeeded(res)
	return nil
}

func (es *Client) succeeded(res *esapi.Response) {
	if res.HasWarnings() {
		es.logger.Warnw("Elastic returned warnings", "warnings", res.Warnings())
	}
	es.metrics.IncPublishedChanges(sinkName, "ok")
}

func (es *Client) failed(err error) error {
	es.metrics.IncPublishedChanges(sinkName, "error")
	return err
}

func (es *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		es.logger.Warnw("Error closing body", "error", err)
	}
}
