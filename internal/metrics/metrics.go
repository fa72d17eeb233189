// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/tallyman/internal/model"
)

// Collector はPrometheusメトリクスを収集する実装。
// 各サービスのObserverインターフェースを満たす。
type Collector struct {
	sessionsIssued  *prometheus.CounterVec
	authFailures    *prometheus.CounterVec
	ballotsRecorded *prometheus.CounterVec
	tallyLatency    *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	pollsSwept      prometheus.Counter
	sessionsPurged  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tallyman_voting_sessions_issued_total",
			Help: "発行した投票セッション数（mode=vote|read_only）",
		}, []string{"mode"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tallyman_access_failures_total",
			Help: "投票アクセス検証の失敗数（理由別）",
		}, []string{"reason"}),
		ballotsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tallyman_ballots_recorded_total",
			Help: "記録した投票数（kind=first|revote）",
		}, []string{"kind"}),
		tallyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tallyman_tally_duration_seconds",
			Help:    "集計と結果整形の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"viewer"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tallyman_poll_transitions_total",
			Help: "投票の状態遷移数",
		}, []string{"from", "to"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tallyman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		pollsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tallyman_polls_auto_completed_total",
			Help: "終了日時を過ぎて自動的にcompletedにした投票数",
		}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tallyman_voting_sessions_purged_total",
			Help: "削除した期限切れ投票セッション数",
		}),
	}

	reg.MustRegister(
		c.sessionsIssued,
		c.authFailures,
		c.ballotsRecorded,
		c.tallyLatency,
		c.transitions,
		c.httpStatus,
		c.pollsSwept,
		c.sessionsPurged,
	)

	return c
}

// ObserveSessionIssued は投票セッションの発行を記録する。
func (c *Collector) ObserveSessionIssued(readOnly bool) {
	mode := "vote"
	if readOnly {
		mode = "read_only"
	}
	c.sessionsIssued.WithLabelValues(mode).Inc()
}

// ObserveAuthFailure は投票アクセス検証の失敗を記録する。
func (c *Collector) ObserveAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// RecordBallot は投票の記録を記録する。
func (c *Collector) RecordBallot(replaced bool) {
	kind := "first"
	if replaced {
		kind = "revote"
	}
	c.ballotsRecorded.WithLabelValues(kind).Inc()
}

// ObserveTally は集計の所要時間を記録する。
func (c *Collector) ObserveTally(viewer string, d time.Duration) {
	c.tallyLatency.WithLabelValues(viewer).Observe(d.Seconds())
}

// ObserveTransition は投票の状態遷移を記録する。
func (c *Collector) ObserveTransition(from, to model.PollStatus) {
	c.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordPollsCompleted は自動終了した投票数を記録する。
func (c *Collector) RecordPollsCompleted(count int64) {
	c.pollsSwept.Add(float64(count))
}

// RecordSessionsPurged は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
