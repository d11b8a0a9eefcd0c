package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaynet/channel-bridge/entities"
	"github.com/relaynet/channel-bridge/metrics"
	"github.com/twmb/franz-go/pkg/kgo"
)

const sinkName = "kafka"

type KafkaClient interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Client publishes channel graph changes, one record per change keyed by the
// channel id so changes of a channel stay ordered within a partition.
type Client struct {
	kcl     KafkaClient
	metrics *metrics.Metrics
}

func NewClient(kafkaClient KafkaClient, metrics *metrics.Metrics) *Client {
	return &Client{
		kcl:     kafkaClient,
		metrics: metrics,
	}
}

type ChannelChange struct {
	Type             string `json:"type"`
	ChannelID        string `json:"channelId"`
	PartyA           string `json:"partyA"`
	PartyB           string `json:"partyB"`
	BlockNumber      uint64 `json:"blockNumber"`
	TransactionIndex uint64 `json:"transactionIndex"`
	LogIndex         uint64 `json:"logIndex"`
}

func (kc *Client) ChannelOpened(ctx context.Context, info entities.ChannelInfo) error {
	return kc.publish(ctx, "opened", info)
}

func (kc *Client) ChannelClosed(ctx context.Context, info entities.ChannelInfo) error {
	return kc.publish(ctx, "closed", info)
}

func (kc *Client) publish(ctx context.Context, changeType string, info entities.ChannelInfo) error {
	record, err := createChangeRecord(changeType, info)
	if err != nil {
		kc.metrics.IncPublishedChanges(sinkName, "error")
		return err
	}

	results := kc.kcl.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		kc.metrics.IncPublishedChanges(sinkName, "error")
		return fmt.Errorf("producing %s record for channel %s: %w", changeType, info.ID().Hex(), err)
	}

	kc.metrics.IncPublishedChanges(sinkName, "ok")
	return nil
}

func createChangeRecord(changeType string, info entities.ChannelInfo) (*kgo.Record, error) {
	id := info.ID()
	payload, err := json.Marshal(ChannelChange{
		Type:             changeType,
		ChannelID:        id.Hex(),
		PartyA:           info.PartyA.Hex(),
		PartyB:           info.PartyB.Hex(),
		BlockNumber:      info.Entry.BlockNumber,
		TransactionIndex: info.Entry.TransactionIndex,
		LogIndex:         info.Entry.LogIndex,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling channel change to json: %w", err)
	}

	return &kgo.Record{
		Key:   id[:],
		Value: payload,
	}, nil
}
