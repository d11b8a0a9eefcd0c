package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	chainHeadGauge          prometheus.Gauge
	confirmedBlockGauge     prometheus.Gauge
	unconfirmedEventsGauge  prometheus.Gauge
	appliedEventsCounter    *prometheus.CounterVec
	indexerRestartsCounter  prometheus.Counter
	ticketsCreatedCounter   prometheus.Counter
	ticketsVerifiedCounter  *prometheus.CounterVec
	ticketsRedeemedCounter  prometheus.Counter
	pathSearchesCounter     *prometheus.CounterVec
	connectorStatusGauge    prometheus.Gauge
	publishedChangesCounter *prometheus.CounterVec
}

func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	m := Metrics{
		// metrics for chain indexing
		chainHeadGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_chain_head_block", namespace),
			Help: "The latest known chain block",
		}),
		confirmedBlockGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_confirmed_block", namespace),
			Help: "The latest block with a confirmed channel change",
		}),
		unconfirmedEventsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_unconfirmed_events", namespace),
			Help: "Channel events waiting for confirmation",
		}),
		appliedEventsCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_channel_events_total", namespace),
			Help: "Confirmed channel events by kind and outcome",
		}, []string{"kind", "outcome"}),
		indexerRestartsCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_indexer_restarts_total", namespace),
			Help: "Full stop and start cycles after a subscription failure",
		}),
		// metrics for tickets
		ticketsCreatedCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_tickets_created_total", namespace),
			Help: "Tickets signed by this node",
		}),
		ticketsVerifiedCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_tickets_verified_total", namespace),
			Help: "Ticket verifications by result",
		}, []string{"result"}),
		ticketsRedeemedCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_tickets_redeemed_total", namespace),
			Help: "Winning tickets redeemed on-chain",
		}),
		pathSearchesCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_path_searches_total", namespace),
			Help: "Path searches by result",
		}, []string{"result"}),
		connectorStatusGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_connector_status", namespace),
			Help: "The current connector status",
		}),
		publishedChangesCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_published_changes_total", namespace),
			Help: "Channel changes handed to publishers by sink and outcome",
		}, []string{"sink", "outcome"}),
	}
	return &m
}

func (metrics *Metrics) SetChainHead(block uint64) {
	metrics.chainHeadGauge.Set(float64(block))
}

func (metrics *Metrics) SetConfirmedBlock(block uint64) {
	metrics.confirmedBlockGauge.Set(float64(block))
}

func (metrics *Metrics) SetUnconfirmedEvents(count int) {
	metrics.unconfirmedEventsGauge.Set(float64(count))
}

func (metrics *Metrics) IncAppliedEvent(kind, outcome string) {
	metrics.appliedEventsCounter.WithLabelValues(kind, outcome).Inc()
}

func (metrics *Metrics) IncIndexerRestarts() {
	metrics.indexerRestartsCounter.Inc()
}

func (metrics *Metrics) IncTicketsCreated() {
	metrics.ticketsCreatedCounter.Inc()
}

func (metrics *Metrics) IncTicketsVerified(result string) {
	metrics.ticketsVerifiedCounter.WithLabelValues(result).Inc()
}

func (metrics *Metrics) IncTicketsRedeemed() {
	metrics.ticketsRedeemedCounter.Inc()
}

func (metrics *Metrics) IncPathSearches(result string) {
	metrics.pathSearchesCounter.WithLabelValues(result).Inc()
}

func (metrics *Metrics) SetConnectorStatus(status int) {
	metrics.connectorStatusGauge.Set(float64(status))
}

func (metrics *Metrics) IncPublishedChanges(sink, outcome string) {
	metrics.publishedChangesCounter.WithLabelValues(sink, outcome).Inc()
}
