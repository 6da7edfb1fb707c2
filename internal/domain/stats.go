package domain

type SentimentBreakdown struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

type PriorityBreakdown struct {
	Urgent int `json:"urgent"`
	Normal int `json:"normal"`
}

// Stats is a point-in-time summary over every stored email.
type Stats struct {
	TotalEmails        int                `json:"totalEmails"`
	UrgentEmails       int                `json:"urgentEmails"`
	ResolvedEmails     int                `json:"resolvedEmails"`
	PendingEmails      int                `json:"pendingEmails"`
	AvgResponseTime    string             `json:"avgResponseTime"`
	SentimentBreakdown SentimentBreakdown `json:"sentimentBreakdown"`
	PriorityBreakdown  PriorityBreakdown  `json:"priorityBreakdown"`
}
