package facematch

import "math"

// CosineSimilarity computes the cosine similarity between two embedding vectors
// Returns a value between -1 and 1, where 1 means identical
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SimilarityPercent maps cosine similarity onto 0-100. Negative similarity is 0.
func SimilarityPercent(a, b []float32) float64 {
	return math.Max(0, CosineSimilarity(a, b)) * 100
}

// CompareEmbeddings splits target faces into matches and non-matches. A target
// face matches when its best similarity against any source face reaches threshold.
func CompareEmbeddings(sourceFaces, targetFaces []Face, threshold float64) *Comparison {
	cmp := &Comparison{}
	for _, tf := range targetFaces {
		best := 0.0
		for _, sf := range sourceFaces {
			best = math.Max(best, SimilarityPercent(sf.Embedding, tf.Embedding))
		}
		if len(sourceFaces) > 0 && best >= threshold {
			cmp.Matches = append(cmp.Matches, FaceMatch{
				Similarity: math.Round(best*100) / 100,
				Face:       tf,
			})
		} else {
			cmp.Unmatched = append(cmp.Unmatched, tf)
		}
	}
	return cmp
}
