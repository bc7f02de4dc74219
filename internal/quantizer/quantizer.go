// SPDX-License-Identifier: MIT
/*
Package quantizer discovers recurring token archetypes online.

It is a DP-means style clusterer: every non-silent token is embedded as

	x = [log10(f+1)/4.5, n/12, m/6]

and assigned to the nearest centroid. When the nearest centroid is farther
than lambda a new archetype is created from x, so the number of clusters
grows with the data instead of being fixed up front. Assigned observations
pull their centroid towards them with an exponential moving average.
*/
package quantizer

import (
	"fmt"
	"math"

	"rosettas/internal/topology"

	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultLambda is the discovery distance threshold.
	DefaultLambda = 0.75

	// LearningRate is the EMA weight of a new observation.
	LearningRate = 0.1

	// Dimensions of the feature space.
	Dimensions = 3

	// freqScale maps log10(f+1) for audible frequencies into roughly [0,1].
	freqScale = 4.5

	idPrefix = "Ψ-"
)

// Cluster is one discovered archetype.
type Cluster struct {
	ID       string              `json:"id"`
	Centroid [Dimensions]float64 `json:"centroid"`
	Count    int                 `json:"count"`
}

// Quantizer owns the growing cluster model. It is not safe for concurrent
// use; the pipeline serialises calls.
type Quantizer struct {
	lambda   float64
	clusters []*Cluster

	// Scratch buffer for the feature vector.
	x [Dimensions]float64
}

// New returns an empty Quantizer. A non-positive lambda falls back to
// DefaultLambda.
func New(lambda float64) *Quantizer {
	if lambda <= 0 || math.IsNaN(lambda) {
		lambda = DefaultLambda
	}
	return &Quantizer{lambda: lambda}
}

// Features returns the embedding of a token observed at freq.
func Features(token topology.Token, freq float64) [Dimensions]float64 {
	return [Dimensions]float64{
		math.Log10(freq+1) / freqScale,
		float64(token.N) / 12,
		float64(token.M) / 6,
	}
}

// Quantize assigns the token to an archetype and returns its id. Silence
// returns topology.SilenceLabel and leaves the model untouched.
func (q *Quantizer) Quantize(token topology.Token, freq float64) string {
	if token.IsSilence() {
		return topology.SilenceLabel
	}

	q.x = Features(token, freq)
	x := q.x[:]

	if len(q.clusters) == 0 {
		return q.create(x)
	}

	best := -1
	minDist := math.Inf(1)
	for i, c := range q.clusters {
		// Strictly smaller, so the earliest created cluster wins ties.
		if d := floats.Distance(x, c.Centroid[:], 2); d < minDist {
			minDist = d
			best = i
		}
	}

	if minDist > q.lambda {
		return q.create(x)
	}

	c := q.clusters[best]
	for j := range c.Centroid {
		c.Centroid[j] = c.Centroid[j]*(1-LearningRate) + x[j]*LearningRate
	}
	c.Count++
	return c.ID
}

func (q *Quantizer) create(x []float64) string {
	c := &Cluster{
		ID:    fmt.Sprintf("%s%d", idPrefix, len(q.clusters)+1),
		Count: 1,
	}
	copy(c.Centroid[:], x)
	q.clusters = append(q.clusters, c)
	return c.ID
}

// ActiveClusterCount returns the number of discovered archetypes.
func (q *Quantizer) ActiveClusterCount() int {
	return len(q.clusters)
}

// Clusters returns a copy of the model in discovery order.
func (q *Quantizer) Clusters() []Cluster {
	out := make([]Cluster, len(q.clusters))
	for i, c := range q.clusters {
		out[i] = *c
	}
	return out
}

// Lambda returns the discovery threshold.
func (q *Quantizer) Lambda() float64 {
	return q.lambda
}

// Reset drops every cluster, starting a new session.
func (q *Quantizer) Reset() {
	q.clusters = nil
}
