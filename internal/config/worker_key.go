package config

type WorkerKeyStruct struct {
	PersistAttemptLogQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAttemptLogQueue: "persist_attempt_log_queue",
}
