package rtc

import (
	"fmt"

	"github.com/pion/ice/v2"
	"github.com/pion/sdp/v3"

	"github.com/getrec/recorder/internal/capture"
)

const (
	attrCandidate       = "candidate"
	attrEndOfCandidates = "end-of-candidates"
)

// appendCandidates adds server-reflexive candidates to every media section of
// an answer that already lists candidates, ahead of any end-of-candidates marker.
func appendCandidates(answer string, candidates []capture.Candidate) (string, error) {
	if len(candidates) == 0 {
		return answer, nil
	}
	lines := make([]string, 0, len(candidates))
	for _, c := range candidates {
		line, err := marshalServerReflexive(c)
		if err != nil {
			return "", err
		}
		lines = append(lines, line)
	}

	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(answer)); err != nil {
		return "", fmt.Errorf("parse answer: %w", err)
	}
	for _, m := range desc.MediaDescriptions {
		if !hasAttribute(m.Attributes, attrCandidate) {
			continue
		}
		attrs := make([]sdp.Attribute, 0, len(m.Attributes)+len(lines))
		for _, a := range m.Attributes {
			if a.Key == attrEndOfCandidates {
				continue
			}
			attrs = append(attrs, a)
		}
		for _, l := range lines {
			attrs = append(attrs, sdp.NewAttribute(attrCandidate, l))
		}
		if hasAttribute(m.Attributes, attrEndOfCandidates) {
			attrs = append(attrs, sdp.NewPropertyAttribute(attrEndOfCandidates))
		}
		m.Attributes = attrs
	}
	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal answer: %w", err)
	}
	return string(out), nil
}

func marshalServerReflexive(c capture.Candidate) (string, error) {
	cfg := &ice.CandidateServerReflexiveConfig{
		Network:   "udp",
		Address:   c.Addr.IP.String(),
		Port:      c.Addr.Port,
		Component: 1,
	}
	if c.Base != nil {
		cfg.RelAddr = c.Base.IP.String()
		cfg.RelPort = c.Base.Port
	}
	cand, err := ice.NewCandidateServerReflexive(cfg)
	if err != nil {
		return "", fmt.Errorf("server reflexive candidate %s: %w", c.Addr, err)
	}
	return cand.Marshal(), nil
}

func hasAttribute(attrs []sdp.Attribute, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}
