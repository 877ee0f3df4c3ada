package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type taskKey struct {
	agent  string
	status string
}

type taskCollector struct {
	mu       sync.Mutex
	outcomes map[taskKey]uint64
	latency  map[string]*histogram
}

var agentTaskCollector = &taskCollector{
	outcomes: make(map[taskKey]uint64),
	latency:  make(map[string]*histogram),
}

// ObserveTaskExecution records the outcome and duration of one agent task.
func ObserveTaskExecution(agent, status string, duration time.Duration) {
	agentTaskCollector.observe(agent, status, duration)
}

func (c *taskCollector) observe(agent, status string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outcomes[taskKey{agent: agent, status: status}]++

	hist := c.latency[agent]
	if hist == nil {
		hist = newTaskHistogram()
		c.latency[agent] = hist
	}
	hist.observe(duration.Seconds())
}

func newTaskHistogram() *histogram {
	// LLM 调用延迟远高于普通 HTTP 请求，桶位放宽到分钟级。
	buckets := []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (c *taskCollector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type outcomeMetric struct {
		taskKey
		value uint64
	}
	type latencyMetric struct {
		agent   string
		buckets []float64
		counts  []uint64
		sum     float64
		count   uint64
	}

	outcomes := make([]outcomeMetric, 0, len(c.outcomes))
	for key, value := range c.outcomes {
		outcomes = append(outcomes, outcomeMetric{taskKey: key, value: value})
	}
	lats := make([]latencyMetric, 0, len(c.latency))
	for agent, hist := range c.latency {
		lats = append(lats, latencyMetric{
			agent:   agent,
			buckets: append([]float64(nil), hist.buckets...),
			counts:  append([]uint64(nil), hist.counts...),
			sum:     hist.sum,
			count:   hist.count,
		})
	}

	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].agent == outcomes[j].agent {
			return outcomes[i].status < outcomes[j].status
		}
		return outcomes[i].agent < outcomes[j].agent
	})
	sort.Slice(lats, func(i, j int) bool { return lats[i].agent < lats[j].agent })

	var builder strings.Builder
	builder.Grow(512)

	builder.WriteString("# HELP fpna_agent_tasks_total Total number of agent task executions by outcome.\n")
	builder.WriteString("# TYPE fpna_agent_tasks_total counter\n")
	for _, metric := range outcomes {
		builder.WriteString(fmt.Sprintf("fpna_agent_tasks_total{agent=\"%s\",status=\"%s\"} %d\n",
			escape(metric.agent), escape(metric.status), metric.value))
	}

	builder.WriteString("# HELP fpna_agent_task_duration_seconds Agent task execution duration in seconds.\n")
	builder.WriteString("# TYPE fpna_agent_task_duration_seconds histogram\n")
	for _, metric := range lats {
		for idx, bound := range metric.buckets {
			builder.WriteString(fmt.Sprintf("fpna_agent_task_duration_seconds_bucket{agent=\"%s\",le=\"%s\"} %d\n",
				escape(metric.agent), formatFloat(bound), metric.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("fpna_agent_task_duration_seconds_bucket{agent=\"%s\",le=\"+Inf\"} %d\n",
			escape(metric.agent), metric.count))
		builder.WriteString(fmt.Sprintf("fpna_agent_task_duration_seconds_sum{agent=\"%s\"} %s\n",
			escape(metric.agent), formatFloat(metric.sum)))
		builder.WriteString(fmt.Sprintf("fpna_agent_task_duration_seconds_count{agent=\"%s\"} %d\n",
			escape(metric.agent), metric.count))
	}

	return builder.String()
}
