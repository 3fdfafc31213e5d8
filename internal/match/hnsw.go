package match

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"github.com/sirupsen/logrus"

	"faceattend/internal/apperror"
	"faceattend/internal/embedding"
	"faceattend/internal/logger"
	"faceattend/internal/model"
)

const (
	// DefaultCandidates is how many neighbours are re-scored exactly per query.
	DefaultCandidates = 64
	hnswMaxNeighbors  = 16
)

// HNSW narrows the scan with an approximate nearest-neighbour graph, then
// re-scores the neighbours exactly. Corpora no larger than Candidates are
// scanned exhaustively, so results equal Exact there, and so are queries
// whose every neighbour clears the threshold.
type HNSW struct {
	Candidates int
	Log        logrus.FieldLogger

	mu          sync.Mutex
	graph       *hnsw.Graph[string]
	fingerprint uint64
}

// NewHNSW returns an indexed ranker re-scoring k neighbours per query.
func NewHNSW(k int, log logrus.FieldLogger) *HNSW {
	if k <= 0 {
		k = DefaultCandidates
	}
	return &HNSW{Candidates: k, Log: log}
}

func (h *HNSW) Rank(_ context.Context, query []float32, corpus []Candidate, threshold float64) (Outcome, error) {
	log := logger.OrStandard(h.Log)
	if len(corpus) == 0 || embedding.IsDegenerate(query) {
		return rank(query, corpus, threshold, log)
	}
	out := Outcome{Threshold: threshold}

	valid := make([]Candidate, 0, len(corpus))
	for _, c := range corpus {
		out.Scanned++
		if len(c.Vector) != len(query) {
			out.Skipped++
			skip(log, c, len(query), embedding.ErrDimensionMismatch)
			continue
		}
		if embedding.IsDegenerate(c.Vector) {
			out.Skipped++
			skip(log, c, len(query), apperror.ErrDegenerateVector)
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) <= h.candidates() {
		res, err := rank(query, valid, threshold, log)
		res.Scanned, res.Skipped = out.Scanned, out.Skipped
		return res, err
	}

	position := make(map[string]int, len(valid))
	for i, c := range valid {
		position[c.FaceID] = i
	}
	neighbors := h.search(valid, query)

	hits := make([]int, 0, len(neighbors))
	for _, n := range neighbors {
		if i, ok := position[n.Key]; ok {
			hits = append(hits, i)
		}
	}
	sort.Ints(hits)

	out.Ranked = make([]model.MatchResult, 0, len(hits))
	for _, i := range hits {
		c := valid[i]
		sim, err := embedding.Cosine(query, c.Vector)
		if err != nil {
			continue
		}
		if sim >= threshold {
			out.Ranked = append(out.Ranked, c.result(sim))
		}
	}
	// Every neighbour passing means more qualifying entries may lie beyond k.
	if len(hits) < h.candidates() || len(out.Ranked) == len(hits) {
		log.WithFields(logrus.Fields{"neighbors": len(hits), "threshold": threshold}).Debug("index saturated, falling back to exact scan")
		res, err := rank(query, valid, threshold, log)
		res.Scanned, res.Skipped = out.Scanned, out.Skipped
		return res, err
	}
	finish(&out)
	return out, nil
}

func (h *HNSW) candidates() int {
	if h.Candidates <= 0 {
		return DefaultCandidates
	}
	return h.Candidates
}

// search rebuilds the graph when the corpus changed since the last query.
func (h *HNSW) search(valid []Candidate, query []float32) []hnsw.Node[string] {
	fp := fingerprint(valid)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.graph == nil || h.fingerprint != fp {
		g := hnsw.NewGraph[string]()
		g.M = hnswMaxNeighbors
		g.Ml = 1.0 / float64(hnswMaxNeighbors)
		g.Distance = hnsw.CosineDistance
		for _, c := range valid {
			g.Add(hnsw.MakeNode(c.FaceID, c.Vector))
		}
		h.graph = g
		h.fingerprint = fp
	}
	return h.graph.Search(query, h.candidates())
}

func fingerprint(corpus []Candidate) uint64 {
	f := fnv.New64a()
	for _, c := range corpus {
		f.Write([]byte(c.FaceID))
		f.Write([]byte{0})
	}
	return f.Sum64()
}
