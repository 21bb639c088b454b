package lib

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/* This file implements dev-ops telemetry for the authority in the form of prometheus metrics */

const metricsPattern = "/metrics"

// Metrics represents a server that exposes Prometheus metrics
type Metrics struct {
	server   *http.Server         // the http prometheus server
	config   MetricsConfig        // the configuration
	registry *prometheus.Registry // every instance owns its registry so several authorities may share a process
	log      LoggerI              // the logger

	AuthorityMetrics  // request handler telemetry
	AggregatorMetrics // quorum driver telemetry
	CheckpointMetrics // checkpoint store telemetry
}

// AuthorityMetrics represents the telemetry of the request handlers
type AuthorityMetrics struct {
	TransactionsSigned   prometheus.Counter   // how many transactions did this authority vote for?
	CertificatesExecuted prometheus.Counter   // how many certificates did this authority execute?
	ExecutionFailures    prometheus.Counter   // how many executed certificates ended in a failed status?
	ExecutionTime        prometheus.Histogram // how long does it take to execute and commit a certificate?
	LockConflicts        prometheus.Counter   // how many transactions were refused because an input was locked?
}

// AggregatorMetrics represents the telemetry of the client side quorum driver
type AggregatorMetrics struct {
	BroadcastDuration *prometheus.HistogramVec // how long does each kind of broadcast take?
	QuorumFailures    *prometheus.CounterVec   // how many broadcasts ended without a quorum?
	CatchUps          prometheus.Counter       // how many certificates were replayed to lagging authorities?
}

// CheckpointMetrics represents the telemetry of the checkpoint store
type CheckpointMetrics struct {
	NextCheckpoint          prometheus.Gauge // the sequence of the next checkpoint
	ExtraTransactions       prometheus.Gauge // processed but not yet checkpointed
	UnprocessedTransactions prometheus.Gauge // checkpointed but not yet processed
}

// NewMetricsServer() creates a new telemetry server
func NewMetricsServer(config MetricsConfig, log LoggerI) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	mux := http.NewServeMux()
	mux.Handle(metricsPattern, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return &Metrics{
		server:   &http.Server{Addr: config.PrometheusAddress, Handler: mux},
		config:   config,
		registry: registry,
		log:      log,
		AuthorityMetrics: AuthorityMetrics{
			TransactionsSigned: factory.NewCounter(prometheus.CounterOpts{
				Name: "fastpath_transactions_signed",
				Help: "Total number of transactions this authority voted for",
			}),
			CertificatesExecuted: factory.NewCounter(prometheus.CounterOpts{
				Name: "fastpath_certificates_executed",
				Help: "Total number of certificates executed",
			}),
			ExecutionFailures: factory.NewCounter(prometheus.CounterOpts{
				Name: "fastpath_execution_failures",
				Help: "Total number of certificates whose execution status is a failure",
			}),
			ExecutionTime: factory.NewHistogram(prometheus.HistogramOpts{
				Name: "fastpath_execution_time",
				Help: "Time to execute and commit a certificate in seconds",
			}),
			LockConflicts: factory.NewCounter(prometheus.CounterOpts{
				Name: "fastpath_lock_conflicts",
				Help: "Total number of transactions refused because an input is locked by another transaction",
			}),
		},
		AggregatorMetrics: AggregatorMetrics{
			BroadcastDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name: "fastpath_broadcast_duration",
				Help: "Duration of a quorum broadcast in seconds",
			}, []string{"operation"}),
			QuorumFailures: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "fastpath_quorum_failures",
				Help: "Number of broadcasts that ended without a quorum",
			}, []string{"operation"}),
			CatchUps: factory.NewCounter(prometheus.CounterOpts{
				Name: "fastpath_catch_ups",
				Help: "Total number of certificates replayed to lagging authorities",
			}),
		},
		CheckpointMetrics: CheckpointMetrics{
			NextCheckpoint: factory.NewGauge(prometheus.GaugeOpts{
				Name: "fastpath_next_checkpoint",
				Help: "Sequence of the next checkpoint",
			}),
			ExtraTransactions: factory.NewGauge(prometheus.GaugeOpts{
				Name: "fastpath_extra_transactions",
				Help: "Transactions processed locally but not yet in a checkpoint",
			}),
			UnprocessedTransactions: factory.NewGauge(prometheus.GaugeOpts{
				Name: "fastpath_unprocessed_transactions",
				Help: "Transactions in a checkpoint but not yet processed locally",
			}),
		},
	}
}

// Registry() exposes the registry; used by tests and by servers that mount the handler themselves
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Start() starts the telemetry server
func (m *Metrics) Start() {
	// exit if empty
	if m == nil {
		return
	}
	// if the metrics server is enabled
	if m.config.Enabled {
		go func() {
			m.log.Infof("Starting metrics server on %s", m.config.PrometheusAddress)
			// run the server
			if err := m.server.ListenAndServe(); err != nil {
				if err != http.ErrServerClosed {
					m.log.Errorf("Metrics server failed with err: %s", err.Error())
				}
			}
		}()
	}
}

// Stop() gracefully stops the telemetry server
func (m *Metrics) Stop() {
	// exit if empty
	if m == nil {
		return
	}
	// if the metrics server isn't enabled
	if m.config.Enabled {
		// shutdown the server
		if err := m.server.Shutdown(context.Background()); err != nil {
			m.log.Error(err.Error())
		}
	}
}

// UpdateTransactionSigned() counts a vote
func (m *Metrics) UpdateTransactionSigned() {
	if m == nil {
		return
	}
	m.TransactionsSigned.Inc()
}

// UpdateLockConflict() counts a refused transaction
func (m *Metrics) UpdateLockConflict() {
	if m == nil {
		return
	}
	m.LockConflicts.Inc()
}

// UpdateExecution() records an executed certificate
func (m *Metrics) UpdateExecution(success bool, duration time.Duration) {
	// exit if empty
	if m == nil {
		return
	}
	m.CertificatesExecuted.Inc()
	if !success {
		m.ExecutionFailures.Inc()
	}
	// update the execution time in seconds
	m.ExecutionTime.Observe(duration.Seconds())
}

// UpdateBroadcast() records the outcome of a quorum broadcast
func (m *Metrics) UpdateBroadcast(operation string, quorum bool, duration time.Duration) {
	// exit if empty
	if m == nil {
		return
	}
	m.BroadcastDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if !quorum {
		m.QuorumFailures.WithLabelValues(operation).Inc()
	}
}

// UpdateCatchUp() counts a replayed certificate
func (m *Metrics) UpdateCatchUp() {
	if m == nil {
		return
	}
	m.CatchUps.Inc()
}

// UpdateCheckpointMetrics() is a setter for the checkpoint store sizes
func (m *Metrics) UpdateCheckpointMetrics(next uint64, extra, unprocessed int) {
	// exit if empty
	if m == nil {
		return
	}
	m.NextCheckpoint.Set(float64(next))
	m.ExtraTransactions.Set(float64(extra))
	m.UnprocessedTransactions.Set(float64(unprocessed))
}
