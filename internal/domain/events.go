package domain

// EventType enumerates the envelope kinds published on a job's event channel.
type EventType string

const (
	EventProgress    EventType = "progress"
	EventStageUpdate EventType = "stage_update"
	EventCostUpdate  EventType = "cost_update"
	EventCompleted   EventType = "completed"
	EventError       EventType = "error"
	EventHeartbeat   EventType = "heartbeat"
)

// Envelope is the wire shape of every published event.
type Envelope struct {
	EventType EventType      `json:"event_type"`
	Data      map[string]any `json:"data"`
}

// ProgressData is the payload for progress events and for the synthetic
// snapshot replayed to fresh stream subscribers.
func ProgressData(progress int, stage string, status JobStatus, totalCost float64) map[string]any {
	var st any
	if stage != "" {
		st = stage
	}
	return map[string]any{
		"progress":   progress,
		"stage":      st,
		"status":     string(status),
		"total_cost": totalCost,
	}
}

func StageUpdateData(stage StageName, status StageStatus) map[string]any {
	return map[string]any{"stage": string(stage), "status": string(status)}
}

func CostUpdateData(stage StageName, cost, total float64) map[string]any {
	return map[string]any{"stage": string(stage), "cost": cost, "total_cost": total}
}

func CompletedData(videoURL string, totalCost float64) map[string]any {
	return map[string]any{"video_url": videoURL, "total_cost": totalCost}
}

func ErrorData(msg, code string, retryable bool) map[string]any {
	return map[string]any{"error": msg, "code": code, "retryable": retryable}
}
