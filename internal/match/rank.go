package match

import (
	"context"
	"errors"
	"sort"

	"github.com/sirupsen/logrus"

	"faceattend/internal/apperror"
	"faceattend/internal/embedding"
	"faceattend/internal/logger"
	"faceattend/internal/metrics"
	"faceattend/internal/model"
)

// DefaultThreshold is the minimum similarity accepted as the same identity.
const DefaultThreshold = 0.6

// Candidate is one enrolled vector together with its owner.
type Candidate struct {
	IdentityID  string
	ExternalKey string
	Name        string
	FaceID      string
	Quality     float64
	Vector      []float32
}

func (c Candidate) result(similarity float64) model.MatchResult {
	return model.MatchResult{
		IdentityID:  c.IdentityID,
		ExternalKey: c.ExternalKey,
		Name:        c.Name,
		FaceID:      c.FaceID,
		Similarity:  similarity,
		Quality:     c.Quality,
	}
}

// Outcome is the answer to one match request.
type Outcome struct {
	Matched   bool                `json:"matched"`
	Best      *model.MatchResult  `json:"best,omitempty"`
	Ranked    []model.MatchResult `json:"ranked"`
	Threshold float64             `json:"threshold"`
	Scanned   int                 `json:"scanned"`
	Skipped   int                 `json:"skipped"`
}

// Ranker orders a corpus by similarity to a query.
type Ranker interface {
	Rank(ctx context.Context, query []float32, corpus []Candidate, threshold float64) (Outcome, error)
}

// Exact is the brute-force linear scan.
type Exact struct {
	Log logrus.FieldLogger
}

// Rank scores every candidate, keeps those at or above threshold and sorts
// them by similarity descending. Equal scores keep corpus order.
func (x Exact) Rank(_ context.Context, query []float32, corpus []Candidate, threshold float64) (Outcome, error) {
	return rank(query, corpus, threshold, logger.OrStandard(x.Log))
}

func rank(query []float32, corpus []Candidate, threshold float64, log logrus.FieldLogger) (Outcome, error) {
	out := Outcome{Threshold: threshold, Ranked: []model.MatchResult{}}
	if len(corpus) == 0 {
		return out, nil
	}
	if embedding.IsDegenerate(query) {
		return out, apperror.ErrDegenerateVector
	}

	for _, c := range corpus {
		out.Scanned++
		sim, err := embedding.Cosine(query, c.Vector)
		if err != nil {
			out.Skipped++
			skip(log, c, len(query), err)
			continue
		}
		if sim >= threshold {
			out.Ranked = append(out.Ranked, c.result(sim))
		}
	}
	finish(&out)
	return out, nil
}

func finish(out *Outcome) {
	sort.SliceStable(out.Ranked, func(i, j int) bool {
		return out.Ranked[i].Similarity > out.Ranked[j].Similarity
	})
	if len(out.Ranked) > 0 {
		out.Matched = true
		best := out.Ranked[0]
		out.Best = &best
	}
}

func skip(log logrus.FieldLogger, c Candidate, dim int, err error) {
	reason := "degenerate"
	if errors.Is(err, embedding.ErrDimensionMismatch) {
		reason = "dimension"
	}
	metrics.CorpusSkipped.WithLabelValues(reason).Inc()
	log.WithFields(logrus.Fields{
		"face_id":   c.FaceID,
		"identity":  c.ExternalKey,
		"dimension": len(c.Vector),
		"query_dim": dim,
		"reason":    reason,
	}).Warn("skipping corpus entry")
}
