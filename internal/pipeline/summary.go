// SPDX-License-Identifier: MIT
package pipeline

import (
	"fmt"
	"strings"

	"rosettas/internal/significance"
	"rosettas/internal/stability"
)

// Summary condenses the current session.
type Summary struct {
	Frames          int                     `json:"frames"`
	Archetypes      int                     `json:"archetypes"`
	States          map[stability.State]int `json:"states"`
	DominantCluster string                  `json:"dominantCluster"`
	MeanFrequency   float64                 `json:"meanFrequency"`
	MeanIntegrity   float64                 `json:"meanIntegrity"`
	Validation      *significance.Metrics   `json:"validation,omitempty"`
}

// Summary summarises the frames currently in the history. Silent frames
// count towards Frames and States only.
func (p *Pipeline) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Summary{
		Frames:     p.history.len(),
		Archetypes: p.quantizer.ActiveClusterCount(),
		States:     make(map[stability.State]int),
	}

	var (
		voiced   int
		freqSum  float64
		integSum float64
		counts   = make(map[string]int)
	)
	p.history.each(func(f Frame) {
		s.States[f.State]++
		if f.Token.IsSilence() {
			return
		}
		voiced++
		freqSum += f.Frequency
		integSum += f.StructuralIntegrity
		counts[f.ClusterID]++
	})

	if voiced > 0 {
		s.MeanFrequency = freqSum / float64(voiced)
		s.MeanIntegrity = integSum / float64(voiced)
	}

	// Ties go to the earliest discovered archetype.
	best := 0
	for _, c := range p.quantizer.Clusters() {
		if n := counts[c.ID]; n > best {
			best = n
			s.DominantCluster = c.ID
		}
	}

	if p.validation != nil {
		v := *p.validation
		s.Validation = &v
	}
	return s
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d frames, %d archetypes", s.Frames, s.Archetypes)
	if s.DominantCluster != "" {
		fmt.Fprintf(&b, ", dominant %s", s.DominantCluster)
	}
	if s.MeanFrequency > 0 {
		fmt.Fprintf(&b, ", mean %.1f Hz", s.MeanFrequency)
	}

	var states []string
	for st := stability.Inactive; st <= stability.Artifact; st++ {
		if n := s.States[st]; n > 0 {
			states = append(states, fmt.Sprintf("%s=%d", st, n))
		}
	}
	if len(states) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(states, " "))
	}

	if s.Validation != nil {
		fmt.Fprintf(&b, ", %s (Z=%.2f)", s.Validation.Verdict, s.Validation.ZScore)
	}
	return b.String()
}
