package llm

import (
	"strings"
	"time"
)

// TimestampLayout formats the analysis timestamp embedded in the threat prompt.
const TimestampLayout = "2006-01-02 15:04:05"

const threatTemplate = `You are a blockchain threat intelligence analyst specializing in detecting malicious wallet activities.

Analyze the following combined JSON data from Helius & Metasleuth APIs:

{context}

TASKS:
1. Identify all potential threats (e.g., phishing, scam, dusting, spoofing, approval exploits, rug pulls, laundering patterns).
2. For each threat:
   - threat_type
   - reason (detailed and specific)
   - confidence (Low, Medium, High)
   - supporting_evidence
   - recommended_actions
3. Provide overall_risk_level ( **minimal, low, medium, high, critical** ), risk_score ( **scale 100** ), risk_factors, ioc, and additional_notes.

Respond in valid JSON only.

FORMAT:
{
  "threat_analysis": {
    "metadata": {
      "target_address": "...",
      "chain": "Solana",
      "analysis_timestamp": "{timestamp}",
      "data_sources": ["SentrySol Security AI", "SentrySol Blockchain Analyzer", "SentrySol ML Model"]
    },
    "potential_threats": [...],
    "overall_risk_level": "...",
    "risk_score": ...,
    "risk_factors": [...],
    "ioc": {
      "addresses": [...],
      "transaction_signatures": [...],
      "suspicious_mints": [...],
      "related_programs": [...]
    },
    "additional_notes": "..."
  }
}
`

const chatSystem = `You are SentrySol, a blockchain security assistant. Answer questions about wallet safety, scams and ` +
	`on-chain activity concisely. When wallet data is provided, ground your answer in it and state the risk level.`

// ThreatPrompt returns the threat analysis request for the aggregated context, stamped with now.
func ThreatPrompt(context string, now time.Time) []Message {
	p := strings.NewReplacer("{context}", context, "{timestamp}", now.Format(TimestampLayout)).Replace(threatTemplate)
	return []Message{{Role: RoleUser, Content: p}}
}

// ChatPrompt returns the conversation for a chat question, with optional wallet facts appended to the system turn.
func ChatPrompt(question, facts string) []Message {
	sys := chatSystem
	if facts != "" {
		sys += "\n\nWallet data:\n" + facts
	}
	return []Message{
		{Role: RoleSystem, Content: sys},
		{Role: RoleUser, Content: question},
	}
}
