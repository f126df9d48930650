package eventparser

// StorageSummary renders the text recorded as an AgentEvent's summary
// column. Text outputs get a tighter truncation (delta 100 chars, message
// 200 chars); non-text kinds already carry their final summary in
// Event.Summary or Event.Message.
func (e Event) StorageSummary() string {
	switch e.Kind {
	case KindTextDelta:
		return truncate(e.Text, 100)
	case KindTextMessage:
		return truncate(e.Text, 200)
	case KindToolUse, KindToolResult:
		return e.Summary
	case KindError, KindSystem:
		return e.Message
	case KindResult:
		return truncate(e.ResultText, 200)
	default:
		return ""
	}
}

// CostDelta returns the cost carried by Result/ApiRequest events, or nil
// for every other kind.
func (e Event) CostDelta() *float64 {
	switch e.Kind {
	case KindResult, KindAPIRequest:
		cost := e.CostUSD
		return &cost
	default:
		return nil
	}
}
