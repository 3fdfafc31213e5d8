package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheRequests counts embedding cache lookups by result (hit, miss, error).
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceattend_cache_requests_total",
		Help: "Embedding cache lookups by result.",
	}, []string{"result"})

	// MatchDuration observes the time spent ranking a query against the corpus.
	MatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "faceattend_match_duration_seconds",
		Help:    "Time to rank a query embedding against the enrolled corpus.",
		Buckets: prometheus.DefBuckets,
	})

	// MatchOutcomes counts match requests by outcome (matched, unmatched, error).
	MatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceattend_match_outcomes_total",
		Help: "Match requests by outcome.",
	}, []string{"outcome"})

	// CorpusSkipped counts corpus entries skipped during a scan.
	CorpusSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceattend_corpus_skipped_total",
		Help: "Corpus entries skipped during a match scan, by reason.",
	}, []string{"reason"})

	// Enrollments counts enrollment attempts by outcome code.
	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceattend_enrollments_total",
		Help: "Enrollment attempts by outcome.",
	}, []string{"outcome"})

	// AttendanceMarks counts ledger marks (marked, already_marked, error).
	AttendanceMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceattend_attendance_marks_total",
		Help: "Attendance mark transitions by outcome.",
	}, []string{"outcome"})
)
