package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksReceived 已持久化的分片数
	ChunksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gramport_chunks_received_total",
		Help: "Chunks persisted by the chunk receiver",
	})

	// ChunkBytes 已持久化的分片字节数
	ChunkBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gramport_chunk_bytes_total",
		Help: "Bytes persisted by the chunk receiver",
	})

	// ChunksRejected 按错误类型统计被拒绝的分片
	ChunksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gramport_chunks_rejected_total",
		Help: "Chunks rejected by the chunk receiver",
	}, []string{"kind"})

	// SessionsCompleted 所有分片到齐的会话数
	SessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gramport_sessions_completed_total",
		Help: "Upload sessions that received every chunk",
	})

	// JanitorRemoved 清理掉的过期条目
	JanitorRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gramport_janitor_removed_total",
		Help: "Stale temp entries removed by the session janitor",
	})

	// JanitorErrors 清理失败次数
	JanitorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gramport_janitor_errors_total",
		Help: "Stale temp entries the session janitor failed to remove",
	})

	// StageDuration 各阶段耗时
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gramport_stage_duration_seconds",
		Help:    "Duration of archive stage calls",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"phase"})

	// StageFailures 各阶段失败次数
	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gramport_stage_failures_total",
		Help: "Failed archive stage calls",
	}, []string{"phase", "kind"})

	// RecordsExtracted 解析出的记录与被丢弃的条目
	RecordsExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gramport_records_extracted_total",
		Help: "Entries seen by the record extractor by outcome",
	}, []string{"variant", "outcome"})

	// RecordsImported 导入结果
	RecordsImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gramport_records_imported_total",
		Help: "Records handled by the import coordinator by outcome",
	}, []string{"outcome"})

	// MediaAttached 媒体附件结果
	MediaAttached = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gramport_media_attached_total",
		Help: "Media references handled by the import coordinator by outcome",
	}, []string{"outcome"})
)
