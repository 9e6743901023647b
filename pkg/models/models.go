// Package models holds the wire-format types exchanged between this engine
// and the dispatcher. Field names and JSON tags mirror the dispatcher's
// existing contract exactly; nothing here is free to rename.
package models

// ===== Heartbeat =====

// HeartbeatReport is sent every 5s to POST /engines/heartbeat.
//
// LocalJobQueue is deliberately a string containing a JSON array, not a
// nested array field: the dispatcher parses it as an opaque string for
// backward compatibility with older engines.
type HeartbeatReport struct {
	EngineID          string  `json:"engine_id"`
	Status            string  `json:"status"`
	StorageCapacityGB float64 `json:"storage_capacity_gb"`
	StreamingSupport  bool    `json:"streaming_support"`
	Encoders          string  `json:"encoders"`
	Decoders          string  `json:"decoders"`
	HWAccels          string  `json:"hwaccels"`
	CPUTemperature    float64 `json:"cpu_temperature"`
	LocalJobQueue     string  `json:"local_job_queue"`
	Hostname          string  `json:"hostname"`
}

// ===== Benchmark =====

// BenchmarkResultRequest is sent to POST /engines/benchmark_result after
// each synthetic benchmark run.
type BenchmarkResultRequest struct {
	EngineID      string  `json:"engine_id"`
	BenchmarkTime float64 `json:"benchmark_time"`
}

// ===== Job assignment =====

// AssignJobRequest is the body of POST /assign_job/.
type AssignJobRequest struct {
	EngineID string `json:"engine_id"`
}

// Job is the dispatcher's job descriptor. A response missing any of these
// three fields as non-null strings is not a valid Job — see
// dispatcher.Client.AssignJob.
type Job struct {
	JobID       string `json:"job_id"`
	SourceURL   string `json:"source_url"`
	TargetCodec string `json:"target_codec"`
}

// ===== Job completion / failure =====

// CompleteJobRequest is the body of POST /jobs/{id}/complete.
type CompleteJobRequest struct {
	OutputURL string `json:"output_url"`
}

// FailJobRequest is the body of POST /jobs/{id}/fail.
type FailJobRequest struct {
	ErrorMessage string `json:"error_message"`
}
