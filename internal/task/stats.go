package task

// TaskStats 按状态聚合任务数量，供 /api/v1/tasks/stats 与监控面板使用。
// OldestUpdatedAt/NewestUpdatedAt 帮助判断队列是否有积压。
type TaskStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}
