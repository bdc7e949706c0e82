package models

// TopTemplate summarises how one template performs
type TopTemplate struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	UsageCount  int     `json:"usage_count"`
	SuccessRate float64 `json:"success_rate"`
}

// QueueStats is the aggregate view of the message queue
type QueueStats struct {
	TotalEnqueued    int                   `json:"total_enqueued"`
	TotalSent        int                   `json:"total_sent"`
	DeliveryRate     float64               `json:"delivery_rate"`
	ResponseRate     float64               `json:"response_rate"`
	AvgDeliveryTime  float64               `json:"avg_delivery_time"`
	MessagesByType   map[Channel]int       `json:"messages_by_type"`
	MessagesByStatus map[MessageStatus]int `json:"messages_by_status"`
	TopTemplates     []TopTemplate         `json:"top_templates"`
}

// QueueAggregates are the raw counts a store reports before rates are derived
type QueueAggregates struct {
	Total            int
	Sent             int
	Responded        int
	AvgDeliverySecs  float64
	MessagesByType   map[Channel]int
	MessagesByStatus map[MessageStatus]int
	TopTemplates     []TopTemplate
}
