package analysis

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/twputra/sentrysol-beta-v2/lib/risk"
)

// ThreatReport is the threat analysis document, as requested from the language model and fabricated in mock mode.
type ThreatReport struct {
	ThreatAnalysis ThreatAnalysis `json:"threat_analysis"`
}

// ThreatAnalysis holds the threats found for an address and its overall risk.
type ThreatAnalysis struct {
	Metadata         Metadata `json:"metadata"`
	PotentialThreats []Threat `json:"potential_threats"`
	OverallRiskLevel string   `json:"overall_risk_level"`
	RiskScore        float64  `json:"risk_score"`
	RiskFactors      []string `json:"risk_factors"`
	IOC              IOC      `json:"ioc"`
	AdditionalNotes  string   `json:"additional_notes"`
}

// Metadata describes the analysis.
type Metadata struct {
	TargetAddress     string   `json:"target_address"`
	Chain             string   `json:"chain"`
	AnalysisTimestamp string   `json:"analysis_timestamp"`
	DataSources       []string `json:"data_sources"`
}

// Threat is one potential threat.
type Threat struct {
	ThreatType         string            `json:"threat_type"`
	Reason             string            `json:"reason"`
	Confidence         string            `json:"confidence"`
	SupportingEvidence map[string]string `json:"supporting_evidence"`
	RecommendedActions []string          `json:"recommended_actions"`
}

// IOC lists the indicators of compromise.
type IOC struct {
	Addresses             []string `json:"addresses"`
	TransactionSignatures []string `json:"transaction_signatures"`
	SuspiciousMints       []string `json:"suspicious_mints"`
	RelatedPrograms       []string `json:"related_programs"`
}

// DataSources are reported in the metadata of every threat analysis.
var DataSources = []string{"SentrySol Security AI", "SentrySol Blockchain Analyzer", "SentrySol ML Model"}

// ParseLLMResult decodes a model reply. Replies holding a JSON object, bare or inside a ```json (or ```) fence, are
// returned decoded; anything else is returned as the original text.
func ParseLLMResult(s string) interface{} {
	if !strings.HasPrefix(strings.TrimSpace(s), "{") && !strings.Contains(s, "```") {
		return s
	}

	clean := s
	for _, fence := range []string{"```json\n", "```\n"} {
		if i := strings.Index(s, fence); i >= 0 {
			clean = s[i+len(fence):]
			if j := strings.Index(clean, "\n```"); j >= 0 {
				clean = clean[:j]
			}
			break
		}
	}

	var v map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(clean)), &v); err != nil {
		return s
	}
	return v
}

// Summary is the outcome of a completed analysis as kept in the history and published to the broker.
type Summary struct {
	RiskScore float64
	RiskLevel string
	Threats   []string
}

// Summarize extracts the risk score, level and threat types of a final update. The threat analysis is preferred,
// then the pattern analysis fields, then the external wallet score.
func Summarize(u Update) Summary {
	var s Summary

	res, _ := json.Marshal(u.AnalysisResult)
	ta := gjson.GetBytes(res, "threat_analysis")

	switch score := ta.Get("risk_score"); {
	case score.Type == gjson.Number:
		s.RiskScore = score.Float()
	case gjson.GetBytes(res, "risk_score").Type == gjson.Number:
		s.RiskScore = gjson.GetBytes(res, "risk_score").Float()
	default:
		det, _ := json.Marshal(u.DetailedData)
		if v, ok := risk.Value(json.RawMessage(gjson.GetBytes(det, "wallet_info.risk_score").Raw)); ok {
			s.RiskScore = v
		}
	}

	s.RiskLevel = strings.ToLower(ta.Get("overall_risk_level").String())
	if s.RiskLevel == "" {
		s.RiskLevel = strings.ToLower(gjson.GetBytes(res, "threat_level").String())
	}
	if s.RiskLevel == "" {
		s.RiskLevel = RiskLevel(s.RiskScore)
	}

	for _, t := range ta.Get("potential_threats.#.threat_type").Array() {
		if t.String() != "" {
			s.Threats = append(s.Threats, t.String())
		}
	}

	return s
}
