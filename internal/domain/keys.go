package domain

// Broker key catalog. Every key below is further namespaced by the broker
// client with the configured prefix.

const (
	QueueKey      = "video_generation:queue"
	ProcessingKey = "video_generation:processing"
)

func JobPayloadKey(jobID string) string { return "video_generation:job:" + jobID }

func TokenCacheKey(tokenHash string) string { return "jwt_valid:" + tokenHash }

func JobStatusKey(jobID string) string { return "job_status:" + jobID }

func CancelKey(jobID string) string { return "job_cancel:" + jobID }

func RateKey(userID string) string { return "rate:" + userID }

func AudioCacheKey(fileHash string) string { return "audio_cache:" + fileHash }

func EventsChannel(jobID string) string { return "job_events:" + jobID }
